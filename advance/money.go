/*
Package advance implements the salary-advance lifecycle engine.

PURPOSE:
  This package contains the domain types and algorithms for turning a
  lump-sum advance granted to an employee into a monotonically-progressing
  repayment schedule collected through periodic payroll deductions:
  balance tracking, installment scheduling, lifecycle transitions, and
  deduction processing against an append-only ledger.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money: a fixed-point currency amount quantized to the minor unit

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere; never binary floats for balances
  2. Quantization: every Money is rounded to minor-unit resolution on
     construction, so additions and subtractions can never drift
  3. Immutability: Money values are copied, never mutated in place

USAGE:
  principal := advance.MustMoney("10000.00")
  half := principal.Sub(advance.MustMoney("5000.00"))

SEE ALSO:
  - schedule.go: Installment math in minor units
  - processor.go: Balance mutation under the ledger invariant
*/
package advance

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point amount at minor-unit resolution
// =============================================================================

// MinorUnitPlaces is the number of decimal places of the currency's minor
// unit. The engine is single-currency; two places covers it.
const MinorUnitPlaces = 2

// Money is a fixed-point currency amount. The zero value is zero money.
type Money struct {
	Value decimal.Decimal
}

// NewMoney builds a Money from a decimal, quantized to the minor unit.
// Sub-minor precision is truncated toward zero.
func NewMoney(d decimal.Decimal) Money {
	return Money{Value: d.RoundDown(MinorUnitPlaces)}
}

// MoneyFromString parses a decimal string like "10000.00".
func MoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return NewMoney(d), nil
}

// MustMoney parses a decimal string and panics on malformed input.
// For literals in tests and fixtures only.
func MustMoney(s string) Money {
	m, err := MoneyFromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromMinorUnits builds a Money from an integer count of minor units,
// e.g. 333334 -> 3333.34.
func MoneyFromMinorUnits(n int64) Money {
	return Money{Value: decimal.New(n, -MinorUnitPlaces)}
}

// MoneyFromFloat converts a float at the persistence/API boundary.
// Domain logic never computes with floats; this exists only to accept
// JSON numbers.
func MoneyFromFloat(f float64) Money {
	return NewMoney(decimal.NewFromFloat(f))
}

// ZeroMoney returns the zero amount.
func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(b Money) Money { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) Neg() Money        { return Money{Value: m.Value.Neg()} }

func (m Money) IsZero() bool     { return m.Value.IsZero() }
func (m Money) IsNegative() bool { return m.Value.IsNegative() }
func (m Money) IsPositive() bool { return m.Value.IsPositive() }

func (m Money) Equal(b Money) bool       { return m.Value.Equal(b.Value) }
func (m Money) GreaterThan(b Money) bool { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool    { return m.Value.LessThan(b.Value) }

func (m Money) Min(b Money) Money {
	if m.LessThan(b) {
		return m
	}
	return b
}

// MinorUnits returns the amount as an integer count of minor units.
func (m Money) MinorUnits() int64 {
	return m.Value.Shift(MinorUnitPlaces).IntPart()
}

// String renders with exactly MinorUnitPlaces decimals, e.g. "3333.40".
func (m Money) String() string {
	return m.Value.StringFixed(MinorUnitPlaces)
}

// Float64 is for display/serialization at the API boundary only.
func (m Money) Float64() float64 {
	f, _ := m.Value.Float64()
	return f
}
