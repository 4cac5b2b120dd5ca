/*
processor.go - Payroll deduction and skip application

PURPOSE:
  The DeductionProcessor is the single writer of ledger entries and of a
  request's running balance and counters. One call per payroll cycle per
  request: either a deduction (principal recovered) or a skip (cycle
  deferred, schedule grows by one).

DEDUCTION PATH:
  - request must be active; amount must be positive
  - an amount above the remaining balance is clamped to it: the final
    deduction is routinely smaller than the nominal monthly figure
  - appends a 'deduction' entry at installment_number =
    paid + skips + 1, decrements RemainingBalance, increments
    PaidInstallments
  - a balance that reaches exactly zero triggers active -> completed
    atomically within the same commit

SKIP PATH:
  - appends a 'skip' entry with a zero amount at the next installment
    number, increments TotalSkips and InstallmentCount
  - principal is untouched: a skip defers, never forgives

CONCURRENCY:
  Exactly one Apply may be in flight per payment id. A per-request keyed
  mutex serializes callers in-process; the store's version CAS and the
  (payment_id, installment_number) uniqueness constraint back it up if
  the process boundary is bypassed. The balance read, the ledger append
  and the counter write happen inside one store transaction, and the
  lock is never held across anything but that commit.

INVARIANT CHECK:
  Before commit the processor re-derives principal = remaining + total
  deducted from the ledger it is about to write. A mismatch is a
  programming-error-class fault: the write is rejected (fail closed) and
  logged loudly.

SEE ALSO:
  - lifecycle.go: Complete transition invoked on zero balance
  - store.go: TxStore contract the processor relies on
*/
package advance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// =============================================================================
// PER-REQUEST LOCKING
// =============================================================================

// requestLocks hands out one mutex per payment id. Locks are never
// deleted; the map grows with the number of distinct requests touched by
// this process, which matches the working set of a payroll run.
type requestLocks struct {
	mu    sync.Mutex
	locks map[PaymentID]*sync.Mutex
}

func newRequestLocks() *requestLocks {
	return &requestLocks{locks: make(map[PaymentID]*sync.Mutex)}
}

func (rl *requestLocks) lock(id PaymentID) func() {
	rl.mu.Lock()
	m, ok := rl.locks[id]
	if !ok {
		m = &sync.Mutex{}
		rl.locks[id] = m
	}
	rl.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// =============================================================================
// DEDUCTION PROCESSOR
// =============================================================================

// DeductionProcessor applies payroll deductions and skips.
type DeductionProcessor struct {
	Store   TxStore
	Machine *StateMachine

	// NewEntryID generates ledger entry ids. Defaults to a time-based id.
	NewEntryID func() EntryID

	locks     *requestLocks
	locksOnce sync.Once
}

// NewDeductionProcessor wires a processor to a transactional store.
func NewDeductionProcessor(store TxStore, machine *StateMachine) *DeductionProcessor {
	return &DeductionProcessor{
		Store:   store,
		Machine: machine,
		locks:   newRequestLocks(),
	}
}

// ApplyInput describes one payroll cycle's action against a request.
type ApplyInput struct {
	PaymentID PaymentID

	// Amount of the deduction. A zero amount signals a skip.
	Amount Money

	ProcessedBy ActorID
	PaymentDate time.Time
}

// ApplyResult carries the appended entry and the post-commit request.
type ApplyResult struct {
	Entry   LedgerEntry
	Request *PaymentRequest
}

func (p *DeductionProcessor) requestLock(id PaymentID) func() {
	p.locksOnce.Do(func() {
		if p.locks == nil {
			p.locks = newRequestLocks()
		}
	})
	return p.locks.lock(id)
}

func (p *DeductionProcessor) entryID() EntryID {
	if p.NewEntryID != nil {
		return p.NewEntryID()
	}
	return EntryID(fmt.Sprintf("led-%d", time.Now().UnixNano()))
}

// Apply processes one deduction or skip. It is safe to call concurrently
// across requests; calls for the same request serialize behind each
// other.
func (p *DeductionProcessor) Apply(ctx context.Context, in ApplyInput) (*ApplyResult, error) {
	if in.Amount.IsNegative() {
		return nil, &InvalidArgumentError{Field: "amount", Reason: "must not be negative"}
	}
	if in.ProcessedBy == "" {
		return nil, &InvalidArgumentError{Field: "processed_by", Reason: "must not be empty"}
	}

	unlock := p.requestLock(in.PaymentID)
	defer unlock()

	var result *ApplyResult
	err := p.Store.WithTx(ctx, func(s Store) error {
		r, err := s.GetRequest(ctx, in.PaymentID)
		if err != nil {
			return err
		}
		if r.Status != StatusActive {
			return &IllegalStateError{PaymentID: r.ID, Status: r.Status, Operation: "apply payroll cycle to"}
		}

		expectedVersion := r.Version

		var entry LedgerEntry
		if in.Amount.IsZero() {
			entry = p.applySkip(r, in)
		} else {
			entry = p.applyDeduction(r, in)
		}

		if err := p.checkInvariants(ctx, s, r, entry); err != nil {
			return err
		}

		// Auto-completion happens inside the same transaction as the
		// deduction that drove the balance to zero.
		if r.Status == StatusActive && r.RemainingBalance.IsZero() {
			if err := p.Machine.Complete(r); err != nil {
				return err
			}
		}

		if err := s.AppendEntry(ctx, entry); err != nil {
			return err
		}
		if err := s.UpdateRequest(ctx, r, expectedVersion); err != nil {
			return err
		}

		result = &ApplyResult{Entry: entry, Request: r}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyDeduction mutates r in memory and returns the entry to append.
// Amount clamping to the remaining balance happens here.
func (p *DeductionProcessor) applyDeduction(r *PaymentRequest, in ApplyInput) LedgerEntry {
	applied := in.Amount.Min(r.RemainingBalance)

	entry := LedgerEntry{
		ID:                p.entryID(),
		PaymentID:         r.ID,
		InstallmentNumber: r.NextInstallmentNumber(),
		Kind:              EntryDeduction,
		Amount:            applied,
		PaymentDate:       in.PaymentDate,
		ProcessedBy:       in.ProcessedBy,
		CreatedAt:         p.Machine.now(),
	}

	r.RemainingBalance = r.RemainingBalance.Sub(applied)
	r.PaidInstallments++
	r.UpdatedAt = entry.CreatedAt
	return entry
}

// applySkip mutates r in memory and returns the entry to append. The
// schedule grows by one period; the balance is untouched.
func (p *DeductionProcessor) applySkip(r *PaymentRequest, in ApplyInput) LedgerEntry {
	entry := LedgerEntry{
		ID:                p.entryID(),
		PaymentID:         r.ID,
		InstallmentNumber: r.NextInstallmentNumber(),
		Kind:              EntrySkip,
		Amount:            ZeroMoney(),
		PaymentDate:       in.PaymentDate,
		ProcessedBy:       in.ProcessedBy,
		CreatedAt:         p.Machine.now(),
	}

	r.TotalSkips++
	r.InstallmentCount++
	r.UpdatedAt = entry.CreatedAt
	return entry
}

// checkInvariants fails the commit closed if the write would persist an
// inconsistent ledger. This is distinct from the documented clamp: the
// clamp is applied input handling, this is corruption detection.
func (p *DeductionProcessor) checkInvariants(ctx context.Context, s Store, r *PaymentRequest, pending LedgerEntry) error {
	if r.RemainingBalance.IsNegative() {
		log.Printf("INVARIANT VIOLATION: %s remaining balance %s is negative, rejecting commit", r.ID, r.RemainingBalance)
		return ErrInvariantViolation
	}

	existing, err := s.Entries(ctx, r.ID)
	if err != nil {
		return err
	}
	deducted := ZeroMoney()
	for _, e := range existing {
		if e.Kind == EntryDeduction {
			deducted = deducted.Add(e.Amount)
		}
	}
	if pending.Kind == EntryDeduction {
		deducted = deducted.Add(pending.Amount)
	}

	if !r.Principal.Equal(r.RemainingBalance.Add(deducted)) {
		log.Printf("INVARIANT VIOLATION: %s principal %s != remaining %s + deducted %s, rejecting commit",
			r.ID, r.Principal, r.RemainingBalance, deducted)
		return ErrInvariantViolation
	}
	return nil
}
