// Package store provides advance.Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/advance-engine/advance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	requests map[advance.PaymentID]*advance.PaymentRequest
	entries  map[advance.PaymentID][]advance.LedgerEntry
	numbers  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		requests: make(map[advance.PaymentID]*advance.PaymentRequest),
		entries:  make(map[advance.PaymentID][]advance.LedgerEntry),
		numbers:  make(map[string]bool),
	}
}

// CreateRequest persists a new request. The id and request number must be
// unused.
func (m *Memory) CreateRequest(_ context.Context, r *advance.PaymentRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(r)
}

func (m *Memory) createLocked(r *advance.PaymentRequest) error {
	if _, exists := m.requests[r.ID]; exists {
		return &advance.InvalidArgumentError{Field: "id", Reason: "already exists"}
	}
	if m.numbers[r.RequestNumber] {
		return &advance.InvalidArgumentError{Field: "request_number", Reason: "already exists"}
	}
	m.requests[r.ID] = r.Clone()
	m.numbers[r.RequestNumber] = true
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id advance.PaymentID) (*advance.PaymentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id advance.PaymentID) (*advance.PaymentRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, advance.ErrNotFound
	}
	return r.Clone(), nil
}

// UpdateRequest is a compare-and-swap on the request's version.
func (m *Memory) UpdateRequest(_ context.Context, r *advance.PaymentRequest, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(r, expectedVersion)
}

func (m *Memory) updateLocked(r *advance.PaymentRequest, expectedVersion int) error {
	stored, ok := m.requests[r.ID]
	if !ok {
		return advance.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return advance.ErrConcurrentModification
	}
	r.Version = expectedVersion + 1
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *Memory) ListRequests(_ context.Context, f advance.Filter, p advance.Page) ([]*advance.PaymentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*advance.PaymentRequest
	for _, r := range m.requests {
		if matches(r, f) {
			result = append(result, r.Clone())
		}
	}

	// Newest first, id as tiebreaker for stable ordering.
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return paginate(result, p), nil
}

func matches(r *advance.PaymentRequest, f advance.Filter) bool {
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Priority != nil && r.Priority != *f.Priority {
		return false
	}
	if f.EmployeeID != nil && r.EmployeeID != *f.EmployeeID {
		return false
	}
	if f.From != nil && r.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && r.CreatedAt.After(*f.To) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(r.RequestNumber), needle) &&
			!strings.Contains(strings.ToLower(r.Purpose), needle) {
			return false
		}
	}
	return true
}

func paginate(rs []*advance.PaymentRequest, p advance.Page) []*advance.PaymentRequest {
	if p.Offset > 0 {
		if p.Offset >= len(rs) {
			return nil
		}
		rs = rs[p.Offset:]
	}
	if p.Limit > 0 && p.Limit < len(rs) {
		rs = rs[:p.Limit]
	}
	return rs
}

// AppendEntry adds a ledger entry. Append-only; duplicate installment
// numbers for the same request are rejected.
func (m *Memory) AppendEntry(_ context.Context, e advance.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Memory) appendLocked(e advance.LedgerEntry) error {
	for _, existing := range m.entries[e.PaymentID] {
		if existing.InstallmentNumber == e.InstallmentNumber {
			return &advance.InstallmentConflictError{
				PaymentID:         e.PaymentID,
				InstallmentNumber: e.InstallmentNumber,
			}
		}
	}
	m.entries[e.PaymentID] = append(m.entries[e.PaymentID], e)
	return nil
}

func (m *Memory) Entries(_ context.Context, id advance.PaymentID) ([]advance.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.entries[id]
	result := make([]advance.LedgerEntry, len(src))
	copy(result, src)
	sort.Slice(result, func(i, j int) bool {
		return result[i].InstallmentNumber < result[j].InstallmentNumber
	})
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a snapshot restored on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(advance.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	requests map[advance.PaymentID]*advance.PaymentRequest
	entries  map[advance.PaymentID][]advance.LedgerEntry
	numbers  map[string]bool
}

func (tm *TxMemory) snapshot() memorySnapshot {
	reqCopy := make(map[advance.PaymentID]*advance.PaymentRequest, len(tm.requests))
	for k, v := range tm.requests {
		reqCopy[k] = v.Clone()
	}
	entCopy := make(map[advance.PaymentID][]advance.LedgerEntry, len(tm.entries))
	for k, v := range tm.entries {
		entCopy[k] = append([]advance.LedgerEntry{}, v...)
	}
	numCopy := make(map[string]bool, len(tm.numbers))
	for k, v := range tm.numbers {
		numCopy[k] = v
	}
	return memorySnapshot{requests: reqCopy, entries: entCopy, numbers: numCopy}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.requests = s.requests
	tm.entries = s.entries
	tm.numbers = s.numbers
}

// txMemoryView performs writes directly against the (already locked)
// parent; rollback is handled by WithTx's snapshot.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) CreateRequest(_ context.Context, r *advance.PaymentRequest) error {
	return tv.parent.createLocked(r)
}

func (tv *txMemoryView) GetRequest(_ context.Context, id advance.PaymentID) (*advance.PaymentRequest, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) UpdateRequest(_ context.Context, r *advance.PaymentRequest, expectedVersion int) error {
	return tv.parent.updateLocked(r, expectedVersion)
}

func (tv *txMemoryView) ListRequests(ctx context.Context, f advance.Filter, p advance.Page) ([]*advance.PaymentRequest, error) {
	var result []*advance.PaymentRequest
	for _, r := range tv.parent.requests {
		if matches(r, f) {
			result = append(result, r.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return paginate(result, p), nil
}

func (tv *txMemoryView) AppendEntry(_ context.Context, e advance.LedgerEntry) error {
	return tv.parent.appendLocked(e)
}

func (tv *txMemoryView) Entries(_ context.Context, id advance.PaymentID) ([]advance.LedgerEntry, error) {
	src := tv.parent.entries[id]
	result := make([]advance.LedgerEntry, len(src))
	copy(result, src)
	sort.Slice(result, func(i, j int) bool {
		return result[i].InstallmentNumber < result[j].InstallmentNumber
	})
	return result, nil
}
