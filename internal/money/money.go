// Package money holds the fixed-precision helpers shared by every posting path.
// Amounts are MYR-denominated decimals compared at sen (two decimal places) precision.
package money

import (
	"github.com/shopspring/decimal"
)

// Places is the number of decimal places used for ledger comparisons.
const Places = 2

// Round2 rounds half away from zero to sen precision.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(Places)
}

// Equal reports whether a and b agree once rounded to sen precision.
func Equal(a, b decimal.Decimal) bool {
	return Round2(a).Equal(Round2(b))
}

// Sum adds the supplied values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// FromFloat converts provider-supplied floats, rounding to sen.
func FromFloat(v float64) decimal.Decimal {
	return Round2(decimal.NewFromFloat(v))
}

// MustParse parses a literal amount and panics on malformed input. Intended for
// constants and tests.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Format renders v with exactly two decimals.
func Format(v decimal.Decimal) string {
	return v.StringFixed(Places)
}
