package consumer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/withobsrvr/gl-ledger/internal/idempotency"
	"github.com/withobsrvr/gl-ledger/internal/period"
	"github.com/withobsrvr/gl-ledger/internal/posting"
	"github.com/withobsrvr/gl-ledger/internal/reversal"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil is success", nil, OutcomeSuccess},
		{"posting duplicate is success", posting.ErrDuplicateEvent, OutcomeSuccess},
		{"reversal duplicate is success", reversal.ErrDuplicateEvent, OutcomeSuccess},
		{"validation is terminal", posting.ErrValidation, OutcomeTerminal},
		{"account not found is terminal", posting.ErrAccountNotFound, OutcomeTerminal},
		{"account inactive is terminal", posting.ErrAccountInactive, OutcomeTerminal},
		{"period closed is terminal", posting.ErrPeriodClosed, OutcomeTerminal},
		{"no open period is terminal", posting.ErrNoOpenPeriod, OutcomeTerminal},
		{"entry not found is terminal", reversal.ErrEntryNotFound, OutcomeTerminal},
		{"already reversed is terminal", reversal.ErrAlreadyReversed, OutcomeTerminal},
		{"original period closed is terminal", reversal.ErrOriginalPeriodClosed, OutcomeTerminal},
		{"period not found is terminal", period.ErrNotFound, OutcomeTerminal},
		{"period no open period is terminal", period.ErrNoOpenPeriod, OutcomeTerminal},
		{"already marked is terminal", idempotency.ErrAlreadyMarked, OutcomeTerminal},
		{"unclassified is retriable", errors.New("connection reset"), OutcomeRetriable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestClassifyWrappedError(t *testing.T) {
	wrapped := errors.New("posting: account not found: line 0 account 1000")
	wrapped = errors.Join(posting.ErrAccountNotFound, wrapped)
	assert.Equal(t, OutcomeTerminal, classify(wrapped))
}
