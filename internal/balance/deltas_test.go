package balance

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDeltasGroupsAndSums(t *testing.T) {
	lines := []LineInput{
		{AccountRef: "1000", DebitMinor: 500, CreditMinor: 0},
		{AccountRef: "1000", DebitMinor: 250, CreditMinor: 0},
		{AccountRef: "4000", DebitMinor: 0, CreditMinor: 750},
	}

	deltas, err := ComputeDeltas(lines, "USD")
	require.NoError(t, err)
	require.Len(t, deltas, 2)

	assert.Equal(t, Delta{AccountCode: "1000", Currency: "USD", DebitDelta: 750, CreditDelta: 0}, deltas[0])
	assert.Equal(t, Delta{AccountCode: "4000", Currency: "USD", DebitDelta: 0, CreditDelta: 750}, deltas[1])
}

func TestComputeDeltasOrderingIsDeterministic(t *testing.T) {
	lines := []LineInput{
		{AccountRef: "9000", DebitMinor: 100},
		{AccountRef: "1000", DebitMinor: 100},
		{AccountRef: "5000", DebitMinor: 100},
	}

	first, err := ComputeDeltas(lines, "USD")
	require.NoError(t, err)
	second, err := ComputeDeltas(lines, "USD")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"1000", "5000", "9000"}, []string{first[0].AccountCode, first[1].AccountCode, first[2].AccountCode})
}

func TestComputeDeltasEmptyLines(t *testing.T) {
	_, err := ComputeDeltas(nil, "USD")
	assert.True(t, errors.Is(err, ErrEmptyLines))
}
