// Package money holds the exact decimal helpers shared by settlement, ledger and payouts.
// Amounts never pass through float64 on the way to the ledger.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Percent returns amount × pct / 100.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct.Div(hundred))
}

// Parse reads a decimal from its string form. Empty input is zero.
func Parse(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", value, err)
	}
	return d, nil
}

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// OrZero dereferences an optional amount.
func OrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// IsPositive reports whether d > 0.
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(decimal.Zero)
}
