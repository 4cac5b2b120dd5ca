/*
store.go - Persistence interfaces for requests and the ledger

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite or in-memory storage; the engine holds
  no process-wide state beyond what these interfaces persist, and every
  operation receives its handle explicitly.

APPEND-ONLY CONTRACT:
  LedgerStore has Append and read methods only - no Update or Delete
  exists on ledger entries. Implementations must additionally enforce
  uniqueness on (payment_id, installment_number) so a double-applied
  payroll cycle is detectable even if the in-process lock is bypassed.

OPTIMISTIC CONCURRENCY:
  UpdateRequest performs a compare-and-swap on the request's version and
  returns ErrConcurrentModification on a stale write. Combined with the
  processor's per-request lock this closes the lost-update hazard on
  RemainingBalance.

IMPLEMENTATIONS:
  - store/sqlite:  production SQLite store
  - advance/store: in-memory store for testing/dev

SEE ALSO:
  - processor.go: Uses WithTx to commit entry + counters as one unit
*/
package advance

import (
	"context"
	"time"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// RequestStore persists PaymentRequest aggregates.
type RequestStore interface {
	// CreateRequest persists a new request. Fails if the id or request
	// number already exists.
	CreateRequest(ctx context.Context, r *PaymentRequest) error

	// GetRequest returns the request or ErrNotFound.
	GetRequest(ctx context.Context, id PaymentID) (*PaymentRequest, error)

	// UpdateRequest writes the mutated request if the stored version still
	// equals expectedVersion, then bumps the version. Returns
	// ErrConcurrentModification on a stale write, ErrNotFound if missing.
	UpdateRequest(ctx context.Context, r *PaymentRequest, expectedVersion int) error

	// ListRequests returns requests matching the filter, newest first.
	ListRequests(ctx context.Context, f Filter, p Page) ([]*PaymentRequest, error)
}

// LedgerStore persists ledger entries. APPEND-ONLY: no update, no delete.
type LedgerStore interface {
	// AppendEntry persists one entry. Returns ErrDuplicateInstallment if
	// (payment_id, installment_number) is already recorded.
	AppendEntry(ctx context.Context, e LedgerEntry) error

	// Entries returns all entries for a request, ordered by installment
	// number ascending.
	Entries(ctx context.Context, id PaymentID) ([]LedgerEntry, error)
}

// Store is the full persistence surface the engine operates on.
type Store interface {
	RequestStore
	LedgerStore
}

// TxStore wraps Store with transaction support. The deduction processor
// requires it: the ledger append and the counter update must commit
// together or not at all.
type TxStore interface {
	Store

	// WithTx executes fn against a transactional view of the store.
	// If fn returns an error the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// LIST FILTERING
// =============================================================================

// Filter narrows ListRequests. Nil/zero fields match everything.
type Filter struct {
	Status     *Status
	Priority   *Priority
	EmployeeID *EmployeeID

	// CreatedAt range, inclusive.
	From *time.Time
	To   *time.Time

	// Search matches request number or purpose, case-insensitive substring.
	Search string
}

// Page is limit/offset pagination. Limit <= 0 means no limit.
type Page struct {
	Limit  int
	Offset int
}
