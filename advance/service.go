/*
service.go - The engine's operation surface

PURPOSE:
  Service is what the (excluded) presentation layer calls. It wires the
  state machine, the deduction processor and the store behind the logical
  operations: create, approve, activate, apply deduction/skip, cancel,
  get details, list. Each mutating operation serializes per request and
  persists through the store's version CAS.

OPERATION FLOW:

  CreateRequest ──▶ pending
  Approve       ──▶ approved   (snapshots schedule)
  Activate      ──▶ active     (repayment starts)
  ApplyDeduction once per payroll cycle ──▶ completed at zero balance
  Cancel        ──▶ cancelled  (from any non-terminal status)

IDENTITY:
  The service owns id and request-number generation. Both are assigned at
  creation and immutable. CreateRequest is deliberately NOT idempotent:
  every call creates a new request.

SEE ALSO:
  - processor.go: Deduction/skip semantics
  - projection.go: Derived fields for GetDetails and List
*/
package advance

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service orchestrates the advance-payment lifecycle.
type Service struct {
	Store     TxStore
	Machine   *StateMachine
	Processor *DeductionProcessor

	// NewPaymentID and NewRequestNumber generate identities. Defaults are
	// time-based; override in tests for determinism.
	NewPaymentID     func() PaymentID
	NewRequestNumber func() string
}

// NewService builds a Service with default identity generation.
func NewService(store TxStore) *Service {
	machine := &StateMachine{}
	return &Service{
		Store:     store,
		Machine:   machine,
		Processor: NewDeductionProcessor(store, machine),
	}
}

func (s *Service) paymentID() PaymentID {
	if s.NewPaymentID != nil {
		return s.NewPaymentID()
	}
	return PaymentID(fmt.Sprintf("pay-%d", time.Now().UnixNano()))
}

func (s *Service) requestNumber() string {
	if s.NewRequestNumber != nil {
		return s.NewRequestNumber()
	}
	return fmt.Sprintf("ADV-%d", time.Now().UnixNano())
}

// =============================================================================
// CREATE
// =============================================================================

// CreateInput is everything needed to open a new advance request.
type CreateInput struct {
	EmployeeID   EmployeeID
	Principal    Money
	Installments int
	Priority     Priority
	IsEmergency  bool
	Purpose      string
	RequestedBy  ActorID
}

// CreateRequest validates input and persists a new pending request.
// Not idempotent: every call assigns a fresh id and request number.
func (s *Service) CreateRequest(ctx context.Context, in CreateInput) (*PaymentRequest, error) {
	r, err := NewPaymentRequest(
		in.EmployeeID, in.Principal, in.Installments,
		in.Priority, in.IsEmergency, in.Purpose, in.RequestedBy,
		s.Machine.now(),
	)
	if err != nil {
		return nil, err
	}

	r.ID = s.paymentID()
	r.RequestNumber = s.requestNumber()

	if err := s.Store.CreateRequest(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// =============================================================================
// LIFECYCLE OPERATIONS
// =============================================================================

// mutate runs a transition under the per-request lock and commits it with
// a version CAS. fn either fully applies the transition or leaves the
// request unchanged.
func (s *Service) mutate(ctx context.Context, id PaymentID, fn func(*PaymentRequest) error) (*PaymentRequest, error) {
	unlock := s.Processor.requestLock(id)
	defer unlock()

	r, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	expectedVersion := r.Version
	if err := fn(r); err != nil {
		return nil, err
	}
	if err := s.Store.UpdateRequest(ctx, r, expectedVersion); err != nil {
		return nil, err
	}
	return r, nil
}

// Approve moves a pending request to approved. The caller layer vouches
// for the actor's approval authority.
func (s *Service) Approve(ctx context.Context, id PaymentID, approver ActorID) (*PaymentRequest, error) {
	return s.mutate(ctx, id, func(r *PaymentRequest) error {
		return s.Machine.Approve(r, approver)
	})
}

// Activate starts repayment on an approved request.
func (s *Service) Activate(ctx context.Context, id PaymentID) (*PaymentRequest, error) {
	return s.mutate(ctx, id, func(r *PaymentRequest) error {
		return s.Machine.Activate(r)
	})
}

// Cancel terminates a non-completed request. A non-empty reason is
// required; the ledger is frozen from this point on.
func (s *Service) Cancel(ctx context.Context, id PaymentID, reason string, actor ActorID) (*PaymentRequest, error) {
	if actor == "" {
		return nil, &InvalidArgumentError{Field: "actor", Reason: "must not be empty"}
	}
	return s.mutate(ctx, id, func(r *PaymentRequest) error {
		return s.Machine.Cancel(r, reason)
	})
}

// SetMonthlyDeduction tunes the nominal installment before activation.
// Direct edits of status or installment count are not offered: those
// fields move only through their transitions.
func (s *Service) SetMonthlyDeduction(ctx context.Context, id PaymentID, amount Money, actor ActorID) (*PaymentRequest, error) {
	if actor == "" {
		return nil, &InvalidArgumentError{Field: "actor", Reason: "must not be empty"}
	}
	return s.mutate(ctx, id, func(r *PaymentRequest) error {
		return s.Machine.SetMonthlyDeduction(r, amount)
	})
}

// ApplyDeduction records one payroll cycle. A zero amount signals a skip.
func (s *Service) ApplyDeduction(ctx context.Context, id PaymentID, amount Money, actor ActorID, date time.Time) (*LedgerEntry, error) {
	res, err := s.Processor.Apply(ctx, ApplyInput{
		PaymentID:   id,
		Amount:      amount,
		ProcessedBy: actor,
		PaymentDate: date,
	})
	if err != nil {
		return nil, err
	}
	return &res.Entry, nil
}

// =============================================================================
// READ PATHS - No locks taken; a slightly stale snapshot is acceptable
// =============================================================================

// Details bundles a request with its full ledger and derived progress.
type Details struct {
	Request  *PaymentRequest
	Entries  []LedgerEntry
	Progress Progress
}

// GetDetails returns the request, its ledger entries, and the projection.
func (s *Service) GetDetails(ctx context.Context, id PaymentID) (*Details, error) {
	r, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.Store.Entries(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Details{
		Request:  r,
		Entries:  entries,
		Progress: Project(r, entries),
	}, nil
}

// ListItem is one row of a listing with its derived fields.
type ListItem struct {
	Request  *PaymentRequest
	Progress Progress
}

// List returns filtered requests with progress derived per row.
func (s *Service) List(ctx context.Context, f Filter, p Page) ([]ListItem, error) {
	requests, err := s.Store.ListRequests(ctx, f, p)
	if err != nil {
		return nil, err
	}

	items := make([]ListItem, 0, len(requests))
	for _, r := range requests {
		entries, err := s.Store.Entries(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, ListItem{Request: r, Progress: Project(r, entries)})
	}
	return items, nil
}
