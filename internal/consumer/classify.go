// Package consumer implements the idempotent consumer loop (spec.md §4.7,
// C9): per-subject subscribe, envelope parsing, retry-with-backoff, and
// DLQ routing on exhaustion or terminal failure.
package consumer

import (
	"errors"

	"github.com/withobsrvr/gl-ledger/internal/idempotency"
	"github.com/withobsrvr/gl-ledger/internal/period"
	"github.com/withobsrvr/gl-ledger/internal/posting"
	"github.com/withobsrvr/gl-ledger/internal/reversal"
)

// Outcome is the deliberate Retriable/Terminal/Success enumeration
// (spec.md §9 design note: error classification must be a deliberate
// enumeration, never inferred from error wrapping depth).
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetriable
	OutcomeTerminal
)

// classify maps a handler error to its retry outcome per spec.md §4.7
// step 4. DuplicateEvent is Success: redelivery under the at-most-once
// contract is expected, not an error.
func classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	switch {
	case errors.Is(err, posting.ErrDuplicateEvent), errors.Is(err, reversal.ErrDuplicateEvent):
		return OutcomeSuccess
	case errors.Is(err, posting.ErrValidation),
		errors.Is(err, posting.ErrAccountNotFound),
		errors.Is(err, posting.ErrAccountInactive),
		errors.Is(err, posting.ErrPeriodClosed),
		errors.Is(err, posting.ErrNoOpenPeriod),
		errors.Is(err, reversal.ErrEntryNotFound),
		errors.Is(err, reversal.ErrAlreadyReversed),
		errors.Is(err, reversal.ErrOriginalPeriodClosed),
		errors.Is(err, period.ErrNotFound),
		errors.Is(err, period.ErrNoOpenPeriod),
		errors.Is(err, idempotency.ErrAlreadyMarked):
		return OutcomeTerminal
	default:
		// Anything unclassified is a database/transport error by
		// elimination — retriable per spec.md §4.7 step 4.
		return OutcomeRetriable
	}
}
