/*
errors.go - Centralized error types for the advance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is/errors.As; the API layer maps these to
  HTTP status codes.

ERROR CATEGORIES:
  1. InvalidArgument    - malformed input, never retried
  2. IllegalState /     - operation forbidden by the request's current
     IllegalTransition    status, never retried
  3. ConcurrentModification - lock/version conflict, safe to retry after
     re-reading current state
  4. NotFound           - unknown payment id
  5. InvariantViolation - programming-error-class fault; the commit is
     rejected (fail closed) and logged loudly

SEE ALSO:
  - lifecycle.go: Produces IllegalTransitionError
  - processor.go: Produces IllegalState / InstallmentConflict errors
*/
package advance

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidArgument is returned for malformed input: non-positive
	// principal, empty purpose, empty cancel reason, non-positive
	// deduction amount.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIllegalState is returned when an operation is requested against a
	// request whose status forbids it (e.g. deducting against 'pending').
	ErrIllegalState = errors.New("illegal state")

	// ErrIllegalTransition is returned when a lifecycle edge not in the
	// transition table is requested. State is left unchanged.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrConcurrentModification is returned when optimistic locking
	// detects a conflicting write. Callers may retry after re-reading.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrNotFound is returned for an unknown payment id.
	ErrNotFound = errors.New("payment request not found")

	// ErrDuplicateInstallment is returned when a ledger append collides on
	// (payment_id, installment_number). This is the last line of defense
	// against double-applying a payroll cycle.
	ErrDuplicateInstallment = errors.New("duplicate installment number")

	// ErrInvariantViolation is returned when a commit would break the
	// principal/ledger consistency invariant. The write is rejected.
	ErrInvariantViolation = errors.New("ledger invariant violation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// IllegalTransitionError reports a lifecycle edge that does not exist.
type IllegalTransitionError struct {
	PaymentID PaymentID
	From      Status
	To        Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s for %s", e.From, e.To, e.PaymentID)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

// InvalidArgumentError reports which field was malformed and why.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

// IllegalStateError reports an operation attempted in the wrong status.
type IllegalStateError struct {
	PaymentID PaymentID
	Status    Status
	Operation string
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("cannot %s %s: status is %s", e.Operation, e.PaymentID, e.Status)
}

func (e *IllegalStateError) Unwrap() error { return ErrIllegalState }

// InstallmentConflictError reports a ledger uniqueness collision.
type InstallmentConflictError struct {
	PaymentID         PaymentID
	InstallmentNumber int
}

func (e *InstallmentConflictError) Error() string {
	return fmt.Sprintf("installment %d already recorded for %s", e.InstallmentNumber, e.PaymentID)
}

func (e *InstallmentConflictError) Unwrap() error { return ErrDuplicateInstallment }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input
// or an operation the current status forbids.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrIllegalState) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrDuplicateInstallment)
}

// IsNotFound returns true if the error indicates a missing request.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
