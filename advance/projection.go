/*
projection.go - Read-only progress derivation

PURPOSE:
  Derives everything the listing and reporting paths display from a
  PaymentRequest and its ledger entries: progress percentage, paid and
  skipped counts, the recomputed remaining balance, and the trailing
  installment after skips. Pure functions - no store access, no mutation,
  safe to call concurrently and repeatedly.

PROJECTION vs CACHE:
  The request carries cached counters so listing is cheap. The projector
  recomputes the same values from the ledger alone, which makes it the
  reconciliation tool: Reconcile compares both derivations and reports
  drift, which should never occur.

SEE ALSO:
  - request.go: The cached fields being audited
  - processor.go: The writer that keeps them consistent
*/
package advance

import "fmt"

// =============================================================================
// PROGRESS PROJECTION
// =============================================================================

// Progress is the derived, display-ready view of one request.
type Progress struct {
	PaymentID PaymentID
	Status    Status

	// Percent is round(100 * paid / installment_count), clamped to [0,100].
	Percent int

	PaidInstallments int
	TotalSkips       int
	InstallmentCount int

	// ExtraInstallments reports how many periods skips added to the
	// approved schedule.
	ExtraInstallments int

	DeductedTotal    Money
	RemainingBalance Money // recomputed from the ledger, not the cache

	// TrailingInstallment is the size of the final installment if the
	// remaining balance is recovered over the installments left. Zero once
	// the request is settled or has no installments left.
	TrailingInstallment Money
}

// Project derives Progress from a request and its ledger entries. The
// entries must all belong to the request; Project never mutates either.
func Project(r *PaymentRequest, entries []LedgerEntry) Progress {
	paid := 0
	skips := 0
	deducted := ZeroMoney()
	for _, e := range entries {
		switch e.Kind {
		case EntryDeduction:
			paid++
			deducted = deducted.Add(e.Amount)
		case EntrySkip:
			skips++
		}
	}

	remaining := r.Principal.Sub(deducted)

	percent := 0
	if r.InstallmentCount > 0 {
		// Integer round-half-up; paid and count are small.
		percent = (100*paid + r.InstallmentCount/2) / r.InstallmentCount
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	trailing := ZeroMoney()
	left := r.InstallmentCount - paid
	if left > 0 && remaining.IsPositive() {
		if t, err := TrailingInstallment(remaining, left); err == nil {
			trailing = t
		}
	}

	extra := 0
	if r.OriginalInstallmentCount > 0 {
		extra = r.InstallmentCount - r.OriginalInstallmentCount
	}

	return Progress{
		PaymentID:           r.ID,
		Status:              r.Status,
		Percent:             percent,
		PaidInstallments:    paid,
		TotalSkips:          skips,
		InstallmentCount:    r.InstallmentCount,
		ExtraInstallments:   extra,
		DeductedTotal:       deducted,
		RemainingBalance:    remaining,
		TrailingInstallment: trailing,
	}
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// DriftError reports a mismatch between the request's cached fields and
// the values recomputed from its ledger.
type DriftError struct {
	PaymentID PaymentID
	Field     string
	Cached    string
	Derived   string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("ledger drift on %s: cached %s=%s, ledger says %s",
		e.PaymentID, e.Field, e.Cached, e.Derived)
}

func (e *DriftError) Unwrap() error { return ErrInvariantViolation }

// Reconcile audits the cached counters against the ledger. A nil return
// means the invariants hold.
func Reconcile(r *PaymentRequest, entries []LedgerEntry) error {
	prog := Project(r, entries)

	if !r.RemainingBalance.Equal(prog.RemainingBalance) {
		return &DriftError{
			PaymentID: r.ID, Field: "remaining_balance",
			Cached: r.RemainingBalance.String(), Derived: prog.RemainingBalance.String(),
		}
	}
	if r.PaidInstallments != prog.PaidInstallments {
		return &DriftError{
			PaymentID: r.ID, Field: "paid_installments",
			Cached: fmt.Sprint(r.PaidInstallments), Derived: fmt.Sprint(prog.PaidInstallments),
		}
	}
	if r.TotalSkips != prog.TotalSkips {
		return &DriftError{
			PaymentID: r.ID, Field: "total_skips",
			Cached: fmt.Sprint(r.TotalSkips), Derived: fmt.Sprint(prog.TotalSkips),
		}
	}
	if r.OriginalInstallmentCount > 0 && r.InstallmentCount != r.OriginalInstallmentCount+r.TotalSkips {
		return &DriftError{
			PaymentID: r.ID, Field: "installment_count",
			Cached:  fmt.Sprint(r.InstallmentCount),
			Derived: fmt.Sprint(r.OriginalInstallmentCount + r.TotalSkips),
		}
	}
	return nil
}
