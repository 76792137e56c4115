package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsClosed(t *testing.T) {
	open := Period{ClosedAt: nil}
	assert.False(t, open.IsClosed())

	closedAt := time.Now()
	closed := Period{ClosedAt: &closedAt}
	assert.True(t, closed.IsClosed())
}
