package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/withobsrvr/gl-ledger/internal/bus"
	"github.com/withobsrvr/gl-ledger/internal/dbtx"
	"github.com/withobsrvr/gl-ledger/internal/dlq"
	"github.com/withobsrvr/gl-ledger/internal/envelope"
	"go.uber.org/zap"
)

// maxAttempts and the backoff curve implement spec.md §4.7 step 3: base
// 200ms, factor 2, jitter, three attempts total.
const maxAttempts = 3

// Handler processes one decoded envelope and returns an error the
// classify function can route.
type Handler[T any] func(ctx context.Context, env envelope.Envelope[T]) error

// Run subscribes to subject and processes each message with Handler,
// retrying retriable failures with exponential backoff and routing
// exhausted/terminal failures to the DLQ (spec.md §4.7).
func Run[T any](ctx context.Context, b bus.Bus, db dbtx.Querier, logger *zap.Logger, subject string, handler Handler[T]) error {
	messages, err := b.Subscribe(ctx, subject)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			processOne(ctx, db, logger, subject, msg, handler)
		}
	}
}

func processOne[T any](ctx context.Context, db dbtx.Querier, logger *zap.Logger, subject string, msg bus.Message, handler Handler[T]) {
	var env envelope.Envelope[T]
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		if logger != nil {
			logger.Error("consumer: failed to decode envelope", zap.String("subject", subject), zap.Error(err))
		}
		dlq.HandleProcessingError(ctx, db, logger, subject, msg.Body, "envelope decode: "+err.Error(), 0)
		_ = msg.Ack()
		return
	}

	logFields := []zap.Field{
		zap.String("event_id", env.EventID),
		zap.String("subject", subject),
		zap.String("tenant_id", env.TenantID),
		zap.String("source_module", env.SourceModule),
		zap.String("correlation_id", env.CorrelationID),
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.5
	attempts := 0

	var lastErr error
	op := func() error {
		attempts++
		lastErr = handler(ctx, env)
		outcome := classify(lastErr)
		if outcome == OutcomeRetriable {
			return lastErr
		}
		return backoff.Permanent(lastErr)
	}

	err := backoff.Retry(op, backoff.WithMaxRetries(policy, maxAttempts-1))
	outcome := classify(lastErr)

	switch outcome {
	case OutcomeSuccess:
		if logger != nil {
			logger.Info("event processed", logFields...)
		}
		_ = msg.Ack()
	case OutcomeTerminal:
		if logger != nil {
			logger.Error("event failed terminally, routing to DLQ", append(logFields, zap.Error(lastErr), zap.Int("retry_count", attempts))...)
		}
		dlq.HandleProcessingError(ctx, db, logger, subject, msg.Body, lastErr.Error(), attempts)
		_ = msg.Ack()
	case OutcomeRetriable:
		if logger != nil {
			logger.Error("event exhausted retries, routing to DLQ", append(logFields, zap.Error(err), zap.Int("retry_count", attempts))...)
		}
		dlq.HandleProcessingError(ctx, db, logger, subject, msg.Body, lastErr.Error(), attempts)
		_ = msg.Ack()
	}
}
