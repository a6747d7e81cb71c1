package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// Balances and amounts are persisted as integer minor units (centimes).

// MaxAmount bounds any single amount (deposit, initial balance, face value).
var MaxAmount = decimal.NewFromInt(1_000_000_000)

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// ToMinor converts an amount to minor units, rounding to two places first.
// Amounts that do not fit in an int64 are rejected with ErrInvalidInput.
func ToMinor(d decimal.Decimal) (int64, error) {
	m := d.Round(2).Shift(2)
	if m.GreaterThan(maxMinor) || m.LessThan(minMinor) {
		return 0, Invalid("amount", "out of range")
	}
	return m.IntPart(), nil
}

// FromMinor converts minor units back to a two-place decimal amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// CheckAmount rejects amounts whose magnitude exceeds MaxAmount.
func CheckAmount(field string, d decimal.Decimal) error {
	if d.Abs().GreaterThan(MaxAmount) {
		return Invalid(field, "must not exceed "+MaxAmount.String())
	}
	return nil
}
