// Package pricing turns a requested face value into the amount charged to a reseller.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/flexyledger/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Table holds the per-operator discount percentages and the flat plan discount.
type Table struct {
	Discounts    map[string]decimal.Decimal
	PlanDiscount decimal.Decimal
}

// DefaultTable returns the canonical discount rates.
func DefaultTable() Table {
	return Table{
		Discounts: map[string]decimal.Decimal{
			"ooredoo": decimal.RequireFromString("2.5"),
			"djezzy":  decimal.RequireFromString("2.0"),
			"mobilis": decimal.RequireFromString("2.0"),
		},
		PlanDiscount: decimal.RequireFromString("1.5"),
	}
}

// NewTable builds a table from plain percentages, e.g. loaded from configuration.
func NewTable(discounts map[string]float64, planDiscount float64) Table {
	t := Table{
		Discounts:    make(map[string]decimal.Decimal, len(discounts)),
		PlanDiscount: decimal.NewFromFloat(planDiscount),
	}
	for op, pct := range discounts {
		t.Discounts[normalize(op)] = decimal.NewFromFloat(pct)
	}
	return t
}

// Knows reports whether the operator has an entry in the table.
func (t Table) Knows(operator string) bool {
	_, ok := t.Discounts[normalize(operator)]
	return ok
}

// Operators lists the operators the table prices.
func (t Table) Operators() []string {
	ops := make([]string, 0, len(t.Discounts))
	for op := range t.Discounts {
		ops = append(ops, op)
	}
	return ops
}

// Discount returns the percentage applied for operator and mode.
// Any non-empty mode uses the plan discount regardless of operator; unknown operators get 0.
func (t Table) Discount(operator, mode string) decimal.Decimal {
	if strings.TrimSpace(mode) != "" {
		return t.PlanDiscount
	}
	if d, ok := t.Discounts[normalize(operator)]; ok {
		return d
	}
	return decimal.Zero
}

// Cost computes value × (1 − discount/100), rounded half away from zero to 2 places.
func (t Table) Cost(operator string, value decimal.Decimal, mode string) (decimal.Decimal, error) {
	if !value.IsPositive() {
		return decimal.Zero, domain.Invalid("face_value", "must be positive")
	}
	factor := decimal.NewFromInt(1).Sub(t.Discount(operator, mode).Div(hundred))
	return value.Mul(factor).Round(2), nil
}

// Commission computes value × rate/100 rounded to 2 places.
func Commission(value, rate decimal.Decimal) decimal.Decimal {
	return value.Mul(rate).Div(hundred).Round(2)
}

func normalize(operator string) string {
	return strings.ToLower(strings.TrimSpace(operator))
}
