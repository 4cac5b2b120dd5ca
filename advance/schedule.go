/*
schedule.go - Installment scheduling

PURPOSE:
  Splits a principal into an ordered sequence of installment amounts whose
  sum equals the principal EXACTLY, in minor units. No iterative rounding:
  every installment is the floored base amount and the last one absorbs
  the whole remainder, so only a single element is ever perturbed.

WHY THE LAST INSTALLMENT:
  Distributing the remainder across installments (round-half-up per row)
  accumulates drift over long schedules. Loading it onto the trailing
  installment keeps every nominal installment identical and makes the
  final payroll figure the only irregular one - which payroll clerks
  already expect, since the final deduction is also where clamping
  happens.

USAGE:
  seq, err := advance.BuildSchedule(advance.MustMoney("10000.00"), 3)
  // seq = [3333.33, 3333.33, 3333.34]

  The scheduler is pure and stateless. It is invoked at request creation
  to fix the nominal monthly deduction, and again after a skip to
  re-derive the trailing installment against the current remaining
  balance (not the original principal).

SEE ALSO:
  - request.go: Calls NominalInstallment when a request is created
  - projection.go: Re-derives the trailing installment after skips
*/
package advance

// BuildSchedule splits principal into count installments summing exactly
// to principal. Returns InvalidArgument if principal <= 0 or count <= 0.
func BuildSchedule(principal Money, count int) ([]Money, error) {
	if !principal.IsPositive() {
		return nil, &InvalidArgumentError{Field: "principal", Reason: "must be positive"}
	}
	if count <= 0 {
		return nil, &InvalidArgumentError{Field: "installment_count", Reason: "must be at least 1"}
	}

	// Work in integer minor units so floor and remainder are exact.
	total := principal.MinorUnits()
	base := total / int64(count)
	remainder := total - base*int64(count) // always < count minor units

	seq := make([]Money, count)
	for i := range seq {
		seq[i] = MoneyFromMinorUnits(base)
	}
	seq[count-1] = MoneyFromMinorUnits(base + remainder)
	return seq, nil
}

// NominalInstallment returns the per-cycle figure reported as the monthly
// deduction: the floored base installment.
func NominalInstallment(principal Money, count int) (Money, error) {
	seq, err := BuildSchedule(principal, count)
	if err != nil {
		return Money{}, err
	}
	return seq[0], nil
}

// TrailingInstallment derives the size of the final installment when
// remaining must be recovered over installmentsLeft cycles. Used for
// reporting after skips have grown the schedule.
func TrailingInstallment(remaining Money, installmentsLeft int) (Money, error) {
	seq, err := BuildSchedule(remaining, installmentsLeft)
	if err != nil {
		return Money{}, err
	}
	return seq[len(seq)-1], nil
}
