// Package money converts wire-boundary decimal amounts into exact integer
// minor units. No floating point is used past this boundary.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// defaultScale is used when a currency's minor-unit scale is not known by
// the caller. spec.md §9 leaves per-currency scale unspecified; 2 covers the
// large majority of ISO 4217 currencies this ledger is expected to post in.
const defaultScale = 2

// ToMinorUnits converts a decimal wire amount (e.g. "2599.00") to integer
// minor units (259900) at the given scale.
func ToMinorUnits(amount decimal.Decimal, scale int32) int64 {
	if scale <= 0 {
		scale = defaultScale
	}
	return amount.Shift(scale).Round(0).IntPart()
}

// ParseMinorUnits parses a wire-format numeric string into minor units.
func ParseMinorUnits(s string, scale int32) (int64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return ToMinorUnits(d, scale), nil
}
