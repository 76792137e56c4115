// Package dlq implements the dead-letter queue (spec.md §4.7, C10): the
// terminal landing spot for events that exhausted retries or failed
// validation outright. No automatic redrive — an operator inspects and
// decides, grounded on the original Rust dlq.rs failed_repo shape.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/withobsrvr/gl-ledger/internal/dbtx"
	"go.uber.org/zap"
)

// FailedEvent is one row of the failed_events table.
type FailedEvent struct {
	ID          uuid.UUID
	EventID     uuid.UUID
	Subject     string
	TenantID    string
	Envelope    json.RawMessage
	Error       string
	RetryCount  int
	FailedAt    time.Time
}

// Store writes failed events for later operator inspection.
type Store struct {
	db dbtx.Querier
}

func NewStore(db dbtx.Querier) *Store { return &Store{db: db} }

// Insert writes a FailedEvent row. Per spec.md §4.7, failures here are
// logged but never returned as an error to the consumer loop — losing the
// original business error outweighs a best-effort DLQ write failing too,
// so the caller should log and move on rather than block consumption.
func (s *Store) Insert(ctx context.Context, f FailedEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failed_events (id, event_id, subject, tenant_id, envelope, error, retry_count, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, f.ID, f.EventID, f.Subject, f.TenantID, f.Envelope, f.Error, f.RetryCount, f.FailedAt)
	if err != nil {
		return fmt.Errorf("dlq: insert: %w", err)
	}
	return nil
}

// HandleProcessingError extracts what it can from the raw envelope and
// writes a FailedEvent row, logging rather than propagating write failures
// (a DLQ write failure must not block the consumer's main loop).
func HandleProcessingError(ctx context.Context, db dbtx.Querier, logger *zap.Logger, subject string, rawEnvelope []byte, processingErr string, retryCount int) {
	var fields struct {
		EventID  string `json:"event_id"`
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(rawEnvelope, &fields); err != nil {
		if logger != nil {
			logger.Error("dlq: could not parse envelope for failed event",
				zap.String("subject", subject), zap.String("processing_error", processingErr), zap.Error(err))
		}
		return
	}
	eventID, err := uuid.Parse(fields.EventID)
	if err != nil || fields.TenantID == "" {
		if logger != nil {
			logger.Error("dlq: envelope missing event_id/tenant_id",
				zap.String("subject", subject), zap.String("processing_error", processingErr))
		}
		return
	}

	store := NewStore(db)
	if err := store.Insert(ctx, FailedEvent{
		ID:         uuid.New(),
		EventID:    eventID,
		Subject:    subject,
		TenantID:   fields.TenantID,
		Envelope:   rawEnvelope,
		Error:      processingErr,
		RetryCount: retryCount,
		FailedAt:   time.Now().UTC(),
	}); err != nil {
		if logger != nil {
			logger.Error("dlq: failed to write failed event, event may be lost",
				zap.String("event_id", eventID.String()), zap.String("subject", subject), zap.Error(err))
		}
		return
	}

	if logger != nil {
		logger.Error("event moved to DLQ",
			zap.String("event_id", eventID.String()), zap.String("subject", subject),
			zap.Int("retry_count", retryCount), zap.String("processing_error", processingErr))
	}
}
