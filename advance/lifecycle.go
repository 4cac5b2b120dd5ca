/*
lifecycle.go - Lifecycle state machine

PURPOSE:
  Enforces the legal status transitions of a PaymentRequest and applies
  their side effects (timestamps, snapshots, required fields) centrally,
  instead of scattering status-string comparisons across call sites.

STATE DIAGRAM:

    pending ──▶ approved ──▶ active ──▶ completed
       │            │           │
       └────────────┴───────────┴─────▶ cancelled

  No other edges exist. 'completed' is entered ONLY by the deduction
  processor observing a zero balance; callers can never request it
  directly. 'cancelled' is unreachable from 'completed'.

TRANSITION SIDE EFFECTS:
  pending  -> approved : sets ApprovedBy, snapshots OriginalInstallmentCount
  approved -> active   : sets StartDate
  active   -> completed: sets CompletionDate (processor only)
  *        -> cancelled: sets CancelReason, freezes the ledger

ERRORS:
  IllegalTransitionError for any edge not in the table; the request is
  left untouched on error.

SEE ALSO:
  - request.go: Status enum
  - processor.go: The only caller of Complete
*/
package advance

import (
	"strings"
	"time"
)

// =============================================================================
// STATE MACHINE
// =============================================================================

// transitions is the closed set of directed lifecycle edges.
var transitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusCancelled},
	StatusApproved:  {StatusActive, StatusCancelled},
	StatusActive:    {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateMachine applies lifecycle transitions to a PaymentRequest in
// memory. Persistence of the mutated request belongs to the caller; all
// methods either fully apply a transition or leave the request unchanged.
type StateMachine struct {
	// Now supplies transition timestamps. Defaults to time.Now.
	Now func() time.Time
}

func (sm *StateMachine) now() time.Time {
	if sm != nil && sm.Now != nil {
		return sm.Now()
	}
	return time.Now().UTC()
}

func (sm *StateMachine) guard(r *PaymentRequest, to Status) error {
	if !CanTransition(r.Status, to) {
		return &IllegalTransitionError{PaymentID: r.ID, From: r.Status, To: to}
	}
	return nil
}

// Approve moves pending -> approved. The caller layer is responsible for
// verifying the actor's approval authority; the engine records identity.
// The installment count is snapshotted here so skips applied later remain
// reportable against the approved schedule.
func (sm *StateMachine) Approve(r *PaymentRequest, approver ActorID) error {
	if approver == "" {
		return &InvalidArgumentError{Field: "approved_by", Reason: "must not be empty"}
	}
	if err := sm.guard(r, StatusApproved); err != nil {
		return err
	}

	r.Status = StatusApproved
	r.ApprovedBy = approver
	r.OriginalInstallmentCount = r.InstallmentCount
	r.UpdatedAt = sm.now()
	return nil
}

// Activate moves approved -> active and starts the repayment clock.
func (sm *StateMachine) Activate(r *PaymentRequest) error {
	if err := sm.guard(r, StatusActive); err != nil {
		return err
	}

	now := sm.now()
	r.Status = StatusActive
	r.StartDate = &now
	r.UpdatedAt = now
	return nil
}

// Complete moves active -> completed. Only the deduction processor calls
// this, atomically with the deduction that drove the balance to zero.
func (sm *StateMachine) Complete(r *PaymentRequest) error {
	if err := sm.guard(r, StatusCompleted); err != nil {
		return err
	}
	if !r.RemainingBalance.IsZero() {
		return &IllegalStateError{PaymentID: r.ID, Status: r.Status, Operation: "complete with nonzero balance"}
	}

	now := sm.now()
	r.Status = StatusCompleted
	r.CompletionDate = &now
	r.UpdatedAt = now
	return nil
}

// Cancel moves {pending, approved, active} -> cancelled and freezes the
// ledger. A non-empty reason is required.
func (sm *StateMachine) Cancel(r *PaymentRequest, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return &InvalidArgumentError{Field: "cancel_reason", Reason: "must not be empty"}
	}
	if err := sm.guard(r, StatusCancelled); err != nil {
		return err
	}

	r.Status = StatusCancelled
	r.CancelReason = reason
	r.UpdatedAt = sm.now()
	return nil
}

// SetMonthlyDeduction is the administrative pre-activation edit: the
// nominal installment may be tuned while the request is pending or
// approved, never after activation. Status and installment count are not
// editable outside their transitions.
func (sm *StateMachine) SetMonthlyDeduction(r *PaymentRequest, amount Money) error {
	if !amount.IsPositive() {
		return &InvalidArgumentError{Field: "monthly_deduction", Reason: "must be positive"}
	}
	if r.Status != StatusPending && r.Status != StatusApproved {
		return &IllegalStateError{PaymentID: r.ID, Status: r.Status, Operation: "edit monthly deduction on"}
	}

	r.MonthlyDeduction = amount
	r.UpdatedAt = sm.now()
	return nil
}
