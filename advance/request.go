/*
request.go - The PaymentRequest aggregate root

PURPOSE:
  PaymentRequest holds everything the engine knows about one advance:
  principal, schedule parameters, lifecycle status, the cached running
  balance and counters, and audit fields. It is created in 'pending' and
  mutated only through the state machine and the deduction processor;
  once 'completed' or 'cancelled' it is frozen and accepts no further
  ledger entries.

CACHED vs DERIVED:
  RemainingBalance, PaidInstallments and TotalSkips are caches of values
  derivable from the ledger. They exist so listing does not replay every
  ledger; the projector recomputes them independently for reconciliation.
  After every mutation:

    Principal       == RemainingBalance + sum(deduction amounts)
    PaidInstallments == count(entries where kind = deduction)
    TotalSkips       == count(entries where kind = skip)
    InstallmentCount == OriginalInstallmentCount + TotalSkips

VERSIONING:
  Version increments on every persisted mutation. Stores compare it on
  update and reject stale writes with ErrConcurrentModification, which
  backs up the in-process per-request lock.

SEE ALSO:
  - lifecycle.go: Legal status transitions
  - processor.go: Balance/counter mutation
*/
package advance

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// STATUS - Closed lifecycle enum
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ValidStatus reports whether s is a member of the closed enum.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusApproved, StatusActive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status freezes the ledger.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// =============================================================================
// PAYMENT REQUEST
// =============================================================================

// PaymentRequest is the aggregate root of one salary advance.
type PaymentRequest struct {
	ID            PaymentID
	EmployeeID    EmployeeID
	RequestNumber string // human-readable, unique, immutable

	Principal Money // immutable after approval

	// InstallmentCount is the CURRENT number of scheduled installments;
	// only the skip mechanism mutates it. OriginalInstallmentCount is the
	// approval-time snapshot, so skips introduced later are reportable.
	InstallmentCount         int
	OriginalInstallmentCount int

	// MonthlyDeduction is the nominal per-installment amount, fixed at
	// approval and editable by an authorized party before activation only.
	MonthlyDeduction Money

	Priority    Priority
	IsEmergency bool
	Purpose     string

	Status Status

	// Cached/derived fields, see package comment above.
	RemainingBalance Money
	PaidInstallments int
	TotalSkips       int

	StartDate      *time.Time
	CompletionDate *time.Time
	CancelReason   string

	RequestedBy ActorID
	ApprovedBy  ActorID

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPaymentRequest validates inputs and builds a pending request.
// RequestNumber and ID assignment belong to the Service, which owns
// identity generation.
func NewPaymentRequest(
	employeeID EmployeeID,
	principal Money,
	installmentCount int,
	priority Priority,
	isEmergency bool,
	purpose string,
	requestedBy ActorID,
	now time.Time,
) (*PaymentRequest, error) {
	if employeeID == "" {
		return nil, &InvalidArgumentError{Field: "employee_id", Reason: "must not be empty"}
	}
	if !principal.IsPositive() {
		return nil, &InvalidArgumentError{Field: "principal", Reason: "must be positive"}
	}
	if installmentCount < 1 {
		return nil, &InvalidArgumentError{Field: "installment_count", Reason: "must be at least 1"}
	}
	if strings.TrimSpace(purpose) == "" {
		return nil, &InvalidArgumentError{Field: "purpose", Reason: "must not be empty"}
	}
	if requestedBy == "" {
		return nil, &InvalidArgumentError{Field: "requested_by", Reason: "must not be empty"}
	}
	if priority == "" {
		priority = PriorityNormal
	}
	if !ValidPriority(priority) {
		return nil, &InvalidArgumentError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", priority)}
	}

	nominal, err := NominalInstallment(principal, installmentCount)
	if err != nil {
		return nil, err
	}

	return &PaymentRequest{
		EmployeeID:       employeeID,
		Principal:        principal,
		InstallmentCount: installmentCount,
		MonthlyDeduction: nominal,
		Priority:         priority,
		IsEmergency:      isEmergency,
		Purpose:          purpose,
		Status:           StatusPending,
		RemainingBalance: principal,
		RequestedBy:      requestedBy,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// NextInstallmentNumber is the 1-based number the next ledger entry takes:
// every deduction and every skip consumes one slot.
func (r *PaymentRequest) NextInstallmentNumber() int {
	return r.PaidInstallments + r.TotalSkips + 1
}

// Clone returns a deep-enough copy for snapshot/rollback in stores.
// Money values and times are value types; pointers are re-allocated.
func (r *PaymentRequest) Clone() *PaymentRequest {
	c := *r
	if r.StartDate != nil {
		t := *r.StartDate
		c.StartDate = &t
	}
	if r.CompletionDate != nil {
		t := *r.CompletionDate
		c.CompletionDate = &t
	}
	return &c
}
