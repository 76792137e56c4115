package closeproto

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/withobsrvr/gl-ledger/internal/journal"
)

func TestComputeHashDeterministic(t *testing.T) {
	tenantID := "tenant-a"
	periodID := uuid.New()

	a := computeHash(tenantID, periodID, 3, 10000, 10000, 6)
	b := computeHash(tenantID, periodID, 3, 10000, 10000, 6)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64) // hex-encoded sha256
}

func TestComputeHashSensitiveToEveryField(t *testing.T) {
	tenantID := "tenant-a"
	periodID := uuid.New()
	base := computeHash(tenantID, periodID, 3, 10000, 10000, 6)

	assert.NotEqual(t, base, computeHash(tenantID, periodID, 4, 10000, 10000, 6))
	assert.NotEqual(t, base, computeHash(tenantID, periodID, 3, 10001, 10000, 6))
	assert.NotEqual(t, base, computeHash(tenantID, periodID, 3, 10000, 10001, 6))
	assert.NotEqual(t, base, computeHash(tenantID, periodID, 3, 10000, 10000, 7))
	assert.NotEqual(t, base, computeHash("tenant-b", periodID, 3, 10000, 10000, 6))
	assert.NotEqual(t, base, computeHash(tenantID, uuid.New(), 3, 10000, 10000, 6))
}

func TestCurrencySetDistinctAndSorted(t *testing.T) {
	entries := []journal.Entry{
		{Currency: "USD"},
		{Currency: "EUR"},
		{Currency: "USD"},
		{Currency: "AUD"},
	}
	assert.Equal(t, []string{"AUD", "EUR", "USD"}, currencySet(entries))
}

func TestCurrencySetEmpty(t *testing.T) {
	assert.Equal(t, []string{}, currencySet(nil))
}

func TestDerefHelpers(t *testing.T) {
	assert.Equal(t, "", derefStr(nil))
	s := "hi"
	assert.Equal(t, "hi", derefStr(&s))

	assert.Equal(t, "fallback", derefOr(nil, "fallback"))
	assert.Equal(t, "hi", derefOr(&s, "fallback"))

	assert.True(t, derefTime(nil).IsZero())
	now := time.Now()
	assert.Equal(t, now, derefTime(&now))
}
