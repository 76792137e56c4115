package consumer

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/withobsrvr/gl-ledger/internal/bus"
	"github.com/withobsrvr/gl-ledger/internal/envelope"
	"github.com/withobsrvr/gl-ledger/internal/posting"
)

// fakeResult is a no-op sql.Result for the fake Querier below.
type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

// fakeQuerier satisfies dbtx.Querier without touching a real database, per
// the "testable against a fake" intent documented on dbtx.Querier. It only
// needs to support the DLQ's insert statement for these tests.
type fakeQuerier struct {
	execCount atomic.Int32
}

func (f *fakeQuerier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.execCount.Add(1)
	return fakeResult{}, nil
}

func (f *fakeQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("fakeQuerier: QueryContext not supported")
}

func (f *fakeQuerier) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

type payload struct {
	Foo string `json:"foo"`
}

func envelopeJSON(eventID string) []byte {
	return []byte(`{
		"event_id": "` + eventID + `",
		"occurred_at": "2026-01-01T00:00:00Z",
		"tenant_id": "tenant-a",
		"source_module": "billing",
		"source_version": "1.0",
		"payload": {"foo": "bar"}
	}`)
}

func TestProcessOneAcksOnSuccess(t *testing.T) {
	acked := false
	msg := bus.Message{
		Body: envelopeJSON("evt-1"),
		Ack:  func() error { acked = true; return nil },
		Nack: func(bool) error { return nil },
	}

	handler := Handler[payload](func(ctx context.Context, env envelope.Envelope[payload]) error {
		return nil
	})

	processOne(context.Background(), nil, nil, "gl.events.posting.requested", msg, handler)
	assert.True(t, acked)
}

func TestProcessOneRoutesTerminalErrorToDLQWithoutRetry(t *testing.T) {
	acked := false
	msg := bus.Message{
		Body: envelopeJSON("00000000-0000-0000-0000-000000000002"),
		Ack:  func() error { acked = true; return nil },
		Nack: func(bool) error { return nil },
	}

	var calls int32
	handler := Handler[payload](func(ctx context.Context, env envelope.Envelope[payload]) error {
		atomic.AddInt32(&calls, 1)
		return posting.ErrAccountNotFound
	})

	fq := &fakeQuerier{}
	processOne(context.Background(), fq, nil, "gl.events.posting.requested", msg, handler)

	assert.True(t, acked)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "terminal errors must not be retried")
	assert.Equal(t, int32(1), fq.execCount.Load(), "one DLQ insert expected")
}

func TestProcessOneExhaustsRetriesThenDLQs(t *testing.T) {
	acked := false
	msg := bus.Message{
		Body: envelopeJSON("00000000-0000-0000-0000-000000000003"),
		Ack:  func() error { acked = true; return nil },
		Nack: func(bool) error { return nil },
	}

	var calls int32
	handler := Handler[payload](func(ctx context.Context, env envelope.Envelope[payload]) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("transient database error")
	})

	fq := &fakeQuerier{}
	start := time.Now()
	processOne(context.Background(), fq, nil, "gl.events.posting.requested", msg, handler)
	elapsed := time.Since(start)

	assert.True(t, acked)
	assert.Equal(t, int32(maxAttempts), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(1), fq.execCount.Load())
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond, "backoff should introduce real delay between attempts")
}

func TestProcessOneRetriesThenSucceeds(t *testing.T) {
	acked := false
	msg := bus.Message{
		Body: envelopeJSON("evt-4"),
		Ack:  func() error { acked = true; return nil },
		Nack: func(bool) error { return nil },
	}

	var calls int32
	handler := Handler[payload](func(ctx context.Context, env envelope.Envelope[payload]) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			return errors.New("transient database error")
		}
		return nil
	})

	processOne(context.Background(), nil, nil, "gl.events.posting.requested", msg, handler)

	assert.True(t, acked)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestProcessOneDecodeFailureRoutesToDLQ(t *testing.T) {
	acked := false
	msg := bus.Message{
		Body: []byte("not json at all"),
		Ack:  func() error { acked = true; return nil },
		Nack: func(bool) error { return nil },
	}

	handler := Handler[payload](func(ctx context.Context, env envelope.Envelope[payload]) error {
		t.Fatal("handler must not be invoked when envelope decode fails")
		return nil
	})

	// nil db is safe here: the envelope body is not valid JSON, so
	// dlq.HandleProcessingError fails to parse it and returns before
	// touching the database.
	processOne(context.Background(), nil, nil, "gl.events.posting.requested", msg, handler)
	assert.True(t, acked)
}
