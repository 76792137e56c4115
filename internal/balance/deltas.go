// Package balance implements the per-(tenant, period, account, currency)
// rollups (spec.md §4, C4) and the pure delta engine that feeds them
// (spec.md §4.2, C5). Grounded directly on the original Rust
// balance_deltas.rs: group by (account_code, currency), sum, sort for
// determinism.
package balance

import (
	"errors"
	"sort"
)

var ErrEmptyLines = errors.New("balance: cannot compute deltas from an empty line set")

// LineInput is the minimal view of a journal line the delta engine needs.
type LineInput struct {
	AccountRef  string
	DebitMinor  int64
	CreditMinor int64
}

// Delta is one account/currency's net movement from a set of lines.
type Delta struct {
	AccountCode string
	Currency    string
	DebitDelta  int64
	CreditDelta int64
}

type deltaKey struct {
	accountCode string
	currency    string
}

// ComputeDeltas groups lines by (account_code, currency) and sums their
// debit/credit minor units, returning a slice sorted lexicographically by
// (account_code, currency) for reproducibility — this ordering is
// load-bearing for the close-hash property (spec.md §9).
func ComputeDeltas(lines []LineInput, currency string) ([]Delta, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyLines
	}

	sums := make(map[deltaKey]*Delta)
	var order []deltaKey

	for _, l := range lines {
		k := deltaKey{accountCode: l.AccountRef, currency: currency}
		d, ok := sums[k]
		if !ok {
			d = &Delta{AccountCode: l.AccountRef, Currency: currency}
			sums[k] = d
			order = append(order, k)
		}
		d.DebitDelta += l.DebitMinor
		d.CreditDelta += l.CreditMinor
	}

	out := make([]Delta, 0, len(order))
	for _, k := range order {
		out = append(out, *sums[k])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountCode != out[j].AccountCode {
			return out[i].AccountCode < out[j].AccountCode
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}
