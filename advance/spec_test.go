/*
spec_test.go - Executable specifications for the advance payment engine

PURPOSE:
  These tests serve as EXECUTABLE SPECIFICATIONS of the engine design.
  Each test documents one guaranteed behavior and validates that the
  implementation conforms to it.

ORGANIZATION:
  Tests are grouped by guarantee:
  1. Full repayment lifecycle - pending through auto-completion
  2. Clamping - deductions never overshoot the balance
  3. Skips - schedule extension without balance movement
  4. Cancellation - ledger freeze
  5. Concurrency - per-request serialization of payroll cycles
  6. Projection - derived progress and drift detection

READING THESE TESTS:
  Each test has:
  - A descriptive name that states the behavior
  - GIVEN/WHEN/THEN comments explaining the scenario
  - Clear assertions with explanatory messages

These tests are intentionally verbose for documentation purposes.
*/
package advance_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/warp/advance-engine/advance"
	"github.com/warp/advance-engine/advance/store"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

func newTestService() *advance.Service {
	svc := advance.NewService(store.NewTxMemory())

	// Deterministic identity for readable failures.
	var n int
	svc.NewPaymentID = func() advance.PaymentID {
		n++
		return advance.PaymentID(fmt.Sprintf("pay-%03d", n))
	}
	var seq int
	svc.NewRequestNumber = func() string {
		seq++
		return fmt.Sprintf("ADV-%03d", seq)
	}
	return svc
}

func createActive(t *testing.T, svc *advance.Service, principal string, installments int) *advance.PaymentRequest {
	t.Helper()
	ctx := context.Background()

	r, err := svc.CreateRequest(ctx, advance.CreateInput{
		EmployeeID:   "emp-1",
		Principal:    advance.MustMoney(principal),
		Installments: installments,
		Purpose:      "relocation costs",
		RequestedBy:  "emp-1",
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if _, err := svc.Approve(ctx, r.ID, "mgr-1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	activated, err := svc.Activate(ctx, r.ID)
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	return activated
}

func payday(offset int) time.Time {
	return time.Date(2026, time.April, 25, 0, 0, 0, 0, time.UTC).AddDate(0, offset, 0)
}

// =============================================================================
// SPEC 1: FULL REPAYMENT LIFECYCLE
// =============================================================================

func TestSpec_Lifecycle_FullRepayment_AutoCompletes(t *testing.T) {
	// GIVEN: An active advance of 10000.00 over 3 installments
	svc := newTestService()
	ctx := context.Background()
	r := createActive(t, svc, "10000.00", 3)

	if r.MonthlyDeduction.String() != "3333.33" {
		t.Fatalf("expected nominal deduction 3333.33, got %s", r.MonthlyDeduction)
	}

	// WHEN: Three payroll cycles run, the last carrying the remainder
	for i, amount := range []string{"3333.33", "3333.33", "3333.34"} {
		if _, err := svc.ApplyDeduction(ctx, r.ID, advance.MustMoney(amount), "payroll", payday(i)); err != nil {
			t.Fatalf("cycle %d failed: %v", i+1, err)
		}
	}

	// THEN: The advance auto-completed inside the final cycle
	details, err := svc.GetDetails(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetDetails failed: %v", err)
	}
	if details.Request.Status != advance.StatusCompleted {
		t.Errorf("expected completed, got %s", details.Request.Status)
	}
	if !details.Request.RemainingBalance.IsZero() {
		t.Errorf("expected zero balance, got %s", details.Request.RemainingBalance)
	}
	if details.Request.CompletionDate == nil {
		t.Error("expected completion date set")
	}
	if details.Request.PaidInstallments != 3 {
		t.Errorf("expected 3 paid installments, got %d", details.Request.PaidInstallments)
	}
	if details.Progress.Percent != 100 {
		t.Errorf("expected 100%% progress, got %d%%", details.Progress.Percent)
	}

	// AND: The ledger holds exactly the three entries, sums to principal
	if len(details.Entries) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(details.Entries))
	}
	sum := advance.ZeroMoney()
	for i, e := range details.Entries {
		if e.InstallmentNumber != i+1 {
			t.Errorf("entry %d: expected installment number %d, got %d", i, i+1, e.InstallmentNumber)
		}
		sum = sum.Add(e.Amount)
	}
	if !sum.Equal(details.Request.Principal) {
		t.Errorf("ledger sum %s != principal %s", sum, details.Request.Principal)
	}
}

func TestSpec_Lifecycle_DeductionBeforeActivation_Rejected(t *testing.T) {
	// GIVEN: A freshly created (pending) advance
	svc := newTestService()
	ctx := context.Background()

	r, err := svc.CreateRequest(ctx, advance.CreateInput{
		EmployeeID:   "emp-1",
		Principal:    advance.MustMoney("1000.00"),
		Installments: 4,
		Purpose:      "tuition",
		RequestedBy:  "emp-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	// WHEN: Payroll tries to deduct anyway
	_, err = svc.ApplyDeduction(ctx, r.ID, advance.MustMoney("250.00"), "payroll", payday(0))

	// THEN: The cycle is rejected and nothing is recorded
	if !errors.Is(err, advance.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState, got %v", err)
	}
	details, _ := svc.GetDetails(ctx, r.ID)
	if len(details.Entries) != 0 {
		t.Errorf("expected empty ledger, got %d entries", len(details.Entries))
	}
	if !details.Request.RemainingBalance.Equal(details.Request.Principal) {
		t.Errorf("balance moved without a ledger entry: %s", details.Request.RemainingBalance)
	}
}

// =============================================================================
// SPEC 2: CLAMPING
// =============================================================================

func TestSpec_Clamp_FinalDeductionNeverOvershoots(t *testing.T) {
	// GIVEN: An active advance with only 100.00 outstanding
	svc := newTestService()
	ctx := context.Background()
	r := createActive(t, svc, "600.00", 3)

	if _, err := svc.ApplyDeduction(ctx, r.ID, advance.MustMoney("500.00"), "payroll", payday(0)); err != nil {
		t.Fatal(err)
	}

	// WHEN: Payroll submits the full nominal 200.00 against the 100.00 left
	entry, err := svc.ApplyDeduction(ctx, r.ID, advance.MustMoney("200.00"), "payroll", payday(1))
	if err != nil {
		t.Fatalf("clamped cycle failed: %v", err)
	}

	// THEN: Only the outstanding amount was taken and the advance completed
	if entry.Amount.String() != "100.00" {
		t.Errorf("expected clamped amount 100.00, got %s", entry.Amount)
	}
	details, _ := svc.GetDetails(ctx, r.ID)
	if details.Request.Status != advance.StatusCompleted {
		t.Errorf("expected completed after clamp-to-zero, got %s", details.Request.Status)
	}
	if details.Request.RemainingBalance.IsNegative() {
		t.Errorf("balance went negative: %s", details.Request.RemainingBalance)
	}
}

func TestSpec_Clamp_NegativeAmount_Rejected(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	r := createActive(t, svc, "600.00", 3)

	_, err := svc.ApplyDeduction(ctx, r.ID, advance.MustMoney("-50.00"), "payroll", payday(0))
	if !errors.Is(err, advance.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

// =============================================================================
// SPEC 3: SKIPS
// =============================================================================

func TestSpec_Skip_ExtendsScheduleWithoutMovingBalance(t *testing.T) {
	// GIVEN: An active advance of 900.00 over 3 installments
	svc := newTestService()
	ctx := context.Background()
	r := createActive(t, svc, "900.00", 3)

	// WHEN: Cycle 1 deducts, cycle 2 is skipped (zero amount), cycle 3 deducts
	if _, err := svc.ApplyDeduction(ctx, r.ID, advance.MustMoney("300.00"), "payroll", payday(0)); err != nil {
		t.Fatal(err)
	}
	skip, err := svc.ApplyDeduction(ctx, r.ID, advance.ZeroMoney(), "payroll", payday(1))
	if err != nil {
		t.Fatalf("skip cycle failed: %v", err)
	}
	if _, err := svc.ApplyDeduction(ctx, r.ID, advance.MustMoney("300.00"), "payroll", payday(2)); err != nil {
		t.Fatal(err)
	}

	// THEN: The skip took installment slot 2 and moved no money
	if skip.Kind != advance.EntrySkip {
		t.Errorf("expected skip entry, got %s", skip.Kind)
	}
	if skip.InstallmentNumber != 2 {
		t.Errorf("expected skip at slot 2, got %d", skip.InstallmentNumber)
	}
	if !skip.Amount.IsZero() {
		t.Errorf("skip moved money: %s", skip.Amount)
	}

	// AND: The schedule grew by one period
	details, _ := svc.GetDetails(ctx, r.ID)
	if details.Request.InstallmentCount != 4 {
		t.Errorf("expected installment count 4 after one skip, got %d", details.Request.InstallmentCount)
	}
	if details.Request.TotalSkips != 1 {
		t.Errorf("expected 1 skip, got %d", details.Request.TotalSkips)
	}
	if details.Request.RemainingBalance.String() != "300.00" {
		t.Errorf("expected 300.00 outstanding, got %s", details.Request.RemainingBalance)
	}
	if details.Progress.ExtraInstallments != 1 {
		t.Errorf("expected 1 extra installment, got %d", details.Progress.ExtraInstallments)
	}
}

// =============================================================================
// SPEC 4: CANCELLATION FREEZES THE LEDGER
// =============================================================================

func TestSpec_Cancel_FreezesLedger(t *testing.T) {
	// GIVEN: An active advance with one recorded deduction
	svc := newTestService()
	ctx := context.Background()
	r := createActive(t, svc, "900.00", 3)
	if _, err := svc.ApplyDeduction(ctx, r.ID, advance.MustMoney("300.00"), "payroll", payday(0)); err != nil {
		t.Fatal(err)
	}

	// WHEN: The advance is cancelled mid-repayment
	cancelled, err := svc.Cancel(ctx, r.ID, "employee separated", "hr-1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != advance.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	// THEN: Further payroll cycles bounce off the terminal status
	_, err = svc.ApplyDeduction(ctx, r.ID, advance.MustMoney("300.00"), "payroll", payday(1))
	if !errors.Is(err, advance.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState after cancel, got %v", err)
	}

	// AND: History survives; the outstanding balance is left as-is
	details, _ := svc.GetDetails(ctx, r.ID)
	if len(details.Entries) != 1 {
		t.Errorf("expected the pre-cancel entry preserved, got %d entries", len(details.Entries))
	}
	if details.Request.RemainingBalance.String() != "600.00" {
		t.Errorf("expected balance frozen at 600.00, got %s", details.Request.RemainingBalance)
	}
}

// =============================================================================
// SPEC 5: CONCURRENCY
// =============================================================================

func TestSpec_Concurrency_ParallelCyclesNeverOverdraw(t *testing.T) {
	// GIVEN: An active advance of 500.00
	svc := newTestService()
	ctx := context.Background()
	r := createActive(t, svc, "500.00", 5)

	// WHEN: 10 payroll workers race to deduct 100.00 each
	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ApplyDeduction(ctx, r.ID, advance.MustMoney("100.00"), "payroll", payday(i))
		}(i)
	}
	wg.Wait()

	// THEN: Exactly five cycles land; the rest bounce off 'completed'
	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, advance.ErrIllegalState):
			rejected++
		default:
			t.Errorf("unexpected error class: %v", err)
		}
	}
	if ok != 5 || rejected != 5 {
		t.Errorf("expected 5 applied / 5 rejected, got %d / %d", ok, rejected)
	}

	// AND: The final state is exact - no overdraw, no duplicate slots
	details, _ := svc.GetDetails(ctx, r.ID)
	if !details.Request.RemainingBalance.IsZero() {
		t.Errorf("expected zero balance, got %s", details.Request.RemainingBalance)
	}
	if details.Request.Status != advance.StatusCompleted {
		t.Errorf("expected completed, got %s", details.Request.Status)
	}
	if len(details.Entries) != 5 {
		t.Fatalf("expected 5 ledger entries, got %d", len(details.Entries))
	}
	seen := map[int]bool{}
	for _, e := range details.Entries {
		if seen[e.InstallmentNumber] {
			t.Errorf("duplicate installment number %d", e.InstallmentNumber)
		}
		seen[e.InstallmentNumber] = true
	}
}

func TestSpec_Concurrency_IndependentRequestsDoNotSerialize(t *testing.T) {
	// Cycles against different advances only contend on the store, never
	// on each other's request lock. This is a smoke test that the keyed
	// lock does not collapse into a global one.
	svc := newTestService()
	ctx := context.Background()

	a := createActive(t, svc, "300.00", 3)
	b := createActive(t, svc, "300.00", 3)

	var wg sync.WaitGroup
	for _, id := range []advance.PaymentID{a.ID, b.ID} {
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(id advance.PaymentID, i int) {
				defer wg.Done()
				if _, err := svc.ApplyDeduction(ctx, id, advance.MustMoney("100.00"), "payroll", payday(i)); err != nil {
					t.Errorf("cycle on %s failed: %v", id, err)
				}
			}(id, i)
		}
	}
	wg.Wait()

	for _, id := range []advance.PaymentID{a.ID, b.ID} {
		details, _ := svc.GetDetails(ctx, id)
		if details.Request.Status != advance.StatusCompleted {
			t.Errorf("%s: expected completed, got %s", id, details.Request.Status)
		}
	}
}

// =============================================================================
// SPEC 6: PROJECTION AND DRIFT DETECTION
// =============================================================================

func TestSpec_Projection_DerivesProgressFromLedger(t *testing.T) {
	// GIVEN: An advance of 1000.00 over 4 installments, one paid, one skipped
	svc := newTestService()
	ctx := context.Background()
	r := createActive(t, svc, "1000.00", 4)

	if _, err := svc.ApplyDeduction(ctx, r.ID, advance.MustMoney("250.00"), "payroll", payday(0)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ApplyDeduction(ctx, r.ID, advance.ZeroMoney(), "payroll", payday(1)); err != nil {
		t.Fatal(err)
	}

	details, err := svc.GetDetails(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	p := details.Progress

	// 1 of 5 effective installments paid -> 20%
	if p.Percent != 20 {
		t.Errorf("expected 20%%, got %d%%", p.Percent)
	}
	if p.DeductedTotal.String() != "250.00" {
		t.Errorf("expected 250.00 deducted, got %s", p.DeductedTotal)
	}
	if p.RemainingBalance.String() != "750.00" {
		t.Errorf("expected 750.00 derived balance, got %s", p.RemainingBalance)
	}
	if p.ExtraInstallments != 1 {
		t.Errorf("expected 1 extra installment, got %d", p.ExtraInstallments)
	}
}

func TestSpec_Projection_ReconcileDetectsDrift(t *testing.T) {
	// GIVEN: A request whose cached counters were corrupted out-of-band
	svc := newTestService()
	ctx := context.Background()
	r := createActive(t, svc, "900.00", 3)
	if _, err := svc.ApplyDeduction(ctx, r.ID, advance.MustMoney("300.00"), "payroll", payday(0)); err != nil {
		t.Fatal(err)
	}

	details, _ := svc.GetDetails(ctx, r.ID)
	good := details.Request.Clone()

	// Consistent state reconciles clean.
	if err := advance.Reconcile(good, details.Entries); err != nil {
		t.Fatalf("expected clean reconcile, got %v", err)
	}

	// Tampered cache is reported as drift.
	bad := details.Request.Clone()
	bad.PaidInstallments = 2
	err := advance.Reconcile(bad, details.Entries)
	if !errors.Is(err, advance.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	var drift *advance.DriftError
	if !errors.As(err, &drift) {
		t.Fatal("expected DriftError with field context")
	}
}
