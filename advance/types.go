/*
types.go - Identifiers, enums, and the ledger entry record

KEY CONCEPTS IN THIS FILE:
  - PaymentID / EmployeeID / ActorID / EntryID: type-safe identifiers
  - Priority: informational urgency flag (never affects scheduling math)
  - EntryKind: deduction vs skip
  - LedgerEntry: one immutable row of the per-request repayment ledger

LEDGER ENTRY SEMANTICS:
  Every payroll cycle that touches a request produces exactly one entry.
  A deduction carries the applied amount; a skip carries a zero amount and
  defers (never forgives) principal. Installment numbers are 1-based and
  strictly increasing per request; stores enforce uniqueness on
  (payment_id, installment_number) so a double-applied cycle is detectable
  even if the in-process lock is bypassed.

SEE ALSO:
  - request.go: The PaymentRequest aggregate that owns these entries
  - processor.go: The only writer of ledger entries
*/
package advance

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PaymentID string

// EmployeeID references an employee owned by the HR subsystem. The engine
// stores it opaquely and never dereferences it.
type EmployeeID string

// ActorID references the identity that performed an operation (requester,
// approver, payroll clerk). Owned by the external identity collaborator.
type ActorID string

type EntryID string

// =============================================================================
// PRIORITY - Informational only
// =============================================================================

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ValidPriority reports whether p is one of the closed set of priorities.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// =============================================================================
// LEDGER ENTRY - Immutable deduction/skip record
// =============================================================================

type EntryKind string

const (
	// EntryDeduction records principal recovered in a payroll cycle.
	EntryDeduction EntryKind = "deduction"

	// EntrySkip records a cycle in which no deduction occurred. Amount is
	// zero; the schedule grows by one period.
	EntrySkip EntryKind = "skip"
)

// LedgerEntry is one row of a request's repayment ledger. Entries are
// append-only: once written they are never modified or deleted, and they
// never outlive their PaymentRequest.
type LedgerEntry struct {
	ID                EntryID
	PaymentID         PaymentID
	InstallmentNumber int
	Kind              EntryKind
	Amount            Money // zero for skips
	PaymentDate       time.Time
	ProcessedBy       ActorID
	CreatedAt         time.Time
}
