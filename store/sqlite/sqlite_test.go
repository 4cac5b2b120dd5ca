/*
sqlite_test.go - SQLite store tests

Covers:
- Request round-trips including nullable dates and decimal strings
- Optimistic locking (version compare-and-swap)
- The UNIQUE(payment_id, installment_number) ledger guard
- Transaction rollback via WithTx
- Filtered, paginated listing
- Employee reference upserts
*/
package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/advance-engine/advance"
	"github.com/warp/advance-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRequest(t *testing.T, id string) *advance.PaymentRequest {
	t.Helper()
	r, err := advance.NewPaymentRequest(
		"emp-1",
		advance.MustMoney("2500.00"),
		5,
		advance.PriorityHigh,
		true,
		"emergency home repair",
		"emp-1",
		time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	r.ID = advance.PaymentID(id)
	r.RequestNumber = "ADV-" + id
	return r
}

func testEntry(paymentID string, slot int, amount string) advance.LedgerEntry {
	kind := advance.EntryDeduction
	if amount == "0.00" {
		kind = advance.EntrySkip
	}
	return advance.LedgerEntry{
		ID:                advance.EntryID(fmt.Sprintf("led-%s-%d", paymentID, slot)),
		PaymentID:         advance.PaymentID(paymentID),
		InstallmentNumber: slot,
		Kind:              kind,
		Amount:            advance.MustMoney(amount),
		PaymentDate:       time.Date(2026, time.February, 25, 0, 0, 0, 0, time.UTC),
		ProcessedBy:       "payroll",
		CreatedAt:         time.Date(2026, time.February, 25, 12, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// REQUEST ROUND-TRIP
// =============================================================================

func TestStore_RequestRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := testRequest(t, "p1")
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	r.StartDate = &start
	r.ApprovedBy = "mgr-1"

	require.NoError(t, store.CreateRequest(ctx, r))

	got, err := store.GetRequest(ctx, "p1")
	require.NoError(t, err)

	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.RequestNumber, got.RequestNumber)
	assert.True(t, got.Principal.Equal(advance.MustMoney("2500.00")))
	assert.True(t, got.MonthlyDeduction.Equal(advance.MustMoney("500.00")))
	assert.True(t, got.RemainingBalance.Equal(advance.MustMoney("2500.00")))
	assert.Equal(t, advance.PriorityHigh, got.Priority)
	assert.True(t, got.IsEmergency)
	assert.Equal(t, advance.StatusPending, got.Status)
	assert.Equal(t, advance.ActorID("mgr-1"), got.ApprovedBy)
	require.NotNil(t, got.StartDate)
	assert.True(t, got.StartDate.Equal(start))
	assert.Nil(t, got.CompletionDate)
	assert.Equal(t, 1, got.Version)
}

func TestStore_GetRequest_Missing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRequest(context.Background(), "nope")
	assert.True(t, errors.Is(err, advance.ErrNotFound))
}

func TestStore_DuplicateRequestNumber_Rejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testRequest(t, "p1")
	b := testRequest(t, "p2")
	b.RequestNumber = a.RequestNumber

	require.NoError(t, store.CreateRequest(ctx, a))
	err := store.CreateRequest(ctx, b)
	assert.True(t, errors.Is(err, advance.ErrInvalidArgument))
}

// =============================================================================
// OPTIMISTIC LOCKING
// =============================================================================

func TestStore_UpdateRequest_VersionConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := testRequest(t, "p1")
	require.NoError(t, store.CreateRequest(ctx, r))

	// First writer wins and bumps the version.
	r.Status = advance.StatusApproved
	require.NoError(t, store.UpdateRequest(ctx, r, 1))
	assert.Equal(t, 2, r.Version)

	// A stale writer still holding version 1 is rejected.
	stale := testRequest(t, "p1")
	stale.Status = advance.StatusCancelled
	err := store.UpdateRequest(ctx, stale, 1)
	assert.True(t, errors.Is(err, advance.ErrConcurrentModification))

	// The first write survived.
	got, err := store.GetRequest(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, advance.StatusApproved, got.Status)
	assert.Equal(t, 2, got.Version)
}

func TestStore_UpdateRequest_MissingRow(t *testing.T) {
	store := newTestStore(t)

	r := testRequest(t, "ghost")
	err := store.UpdateRequest(context.Background(), r, 1)
	assert.True(t, errors.Is(err, advance.ErrNotFound))
}

// =============================================================================
// LEDGER GUARDS
// =============================================================================

func TestStore_Ledger_DuplicateInstallment_Rejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRequest(ctx, testRequest(t, "p1")))
	require.NoError(t, store.AppendEntry(ctx, testEntry("p1", 1, "500.00")))

	// Same slot again, different entry id: the unique index holds.
	dup := testEntry("p1", 1, "500.00")
	dup.ID = "led-other"
	err := store.AppendEntry(ctx, dup)
	assert.True(t, errors.Is(err, advance.ErrDuplicateInstallment))

	var conflict *advance.InstallmentConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 1, conflict.InstallmentNumber)

	entries, err := store.Entries(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_Ledger_EntriesOrderedBySlot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRequest(ctx, testRequest(t, "p1")))
	require.NoError(t, store.AppendEntry(ctx, testEntry("p1", 2, "0.00")))
	require.NoError(t, store.AppendEntry(ctx, testEntry("p1", 1, "500.00")))
	require.NoError(t, store.AppendEntry(ctx, testEntry("p1", 3, "500.00")))

	entries, err := store.Entries(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.InstallmentNumber)
	}
	assert.Equal(t, advance.EntrySkip, entries[1].Kind)
	assert.True(t, entries[1].Amount.IsZero())
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRequest(ctx, testRequest(t, "p1")))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s advance.Store) error {
		if err := s.AppendEntry(ctx, testEntry("p1", 1, "500.00")); err != nil {
			return err
		}
		r, err := s.GetRequest(ctx, "p1")
		if err != nil {
			return err
		}
		r.RemainingBalance = advance.MustMoney("2000.00")
		if err := s.UpdateRequest(ctx, r, 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Nothing from the failed transaction is visible.
	entries, err := store.Entries(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	got, err := store.GetRequest(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.RemainingBalance.Equal(advance.MustMoney("2500.00")))
	assert.Equal(t, 1, got.Version)
}

func TestStore_WithTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRequest(ctx, testRequest(t, "p1")))

	err := store.WithTx(ctx, func(s advance.Store) error {
		if err := s.AppendEntry(ctx, testEntry("p1", 1, "500.00")); err != nil {
			return err
		}
		r, err := s.GetRequest(ctx, "p1")
		if err != nil {
			return err
		}
		r.RemainingBalance = advance.MustMoney("2000.00")
		r.PaidInstallments = 1
		return s.UpdateRequest(ctx, r, 1)
	})
	require.NoError(t, err)

	got, err := store.GetRequest(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.RemainingBalance.Equal(advance.MustMoney("2000.00")))
	assert.Equal(t, 1, got.PaidInstallments)
	assert.Equal(t, 2, got.Version)
}

// =============================================================================
// LISTING
// =============================================================================

func TestStore_ListRequests_FiltersAndPaginates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		r := testRequest(t, fmt.Sprintf("p%d", i))
		r.CreatedAt = r.CreatedAt.Add(time.Duration(i) * time.Hour)
		r.UpdatedAt = r.CreatedAt
		if i%2 == 0 {
			r.EmployeeID = "emp-2"
			r.Status = advance.StatusActive
		}
		if i == 5 {
			r.Purpose = "laptop purchase"
		}
		require.NoError(t, store.CreateRequest(ctx, r))
	}

	// No filter: everything, newest first.
	all, err := store.ListRequests(ctx, advance.Filter{}, advance.Page{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, advance.PaymentID("p5"), all[0].ID)

	// Status filter.
	active := advance.StatusActive
	actives, err := store.ListRequests(ctx, advance.Filter{Status: &active}, advance.Page{})
	require.NoError(t, err)
	assert.Len(t, actives, 2)

	// Employee filter.
	emp := advance.EmployeeID("emp-2")
	byEmp, err := store.ListRequests(ctx, advance.Filter{EmployeeID: &emp}, advance.Page{})
	require.NoError(t, err)
	assert.Len(t, byEmp, 2)

	// Search matches purpose text.
	found, err := store.ListRequests(ctx, advance.Filter{Search: "laptop"}, advance.Page{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, advance.PaymentID("p5"), found[0].ID)

	// Pagination.
	page, err := store.ListRequests(ctx, advance.Filter{}, advance.Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, advance.PaymentID("p3"), page[0].ID)
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func TestStore_Employees_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEmployee(ctx, sqlite.Employee{
		ID: "emp-1", Name: "Dana Smith", Email: "dana@example.com", Department: "Ops",
	}))

	// Upsert replaces mutable fields.
	require.NoError(t, store.SaveEmployee(ctx, sqlite.Employee{
		ID: "emp-1", Name: "Dana Smith", Email: "dana@corp.example.com", Department: "Finance",
	}))

	got, err := store.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "dana@corp.example.com", got.Email)
	assert.Equal(t, "Finance", got.Department)

	missing, err := store.GetEmployee(ctx, "emp-404")
	assert.ErrorIs(t, err, advance.ErrNotFound)
	assert.Nil(t, missing)

	all, err := store.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
