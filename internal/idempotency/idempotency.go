// Package idempotency implements the ProcessedEvent mark (spec.md §3, §4.1
// step 8): presence of an event_id row means the event's business effect
// has already been fully applied, at-most-once.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/withobsrvr/gl-ledger/internal/dbtx"
)

var ErrAlreadyMarked = errors.New("idempotency: event already marked processed")

const pqUniqueViolation = "23505"

// Store reads and writes the ProcessedEvent table.
type Store struct {
	db dbtx.Querier
}

func NewStore(db dbtx.Querier) *Store { return &Store{db: db} }

// Seen reports whether eventID has already been recorded as processed.
func (s *Store) Seen(ctx context.Context, eventID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)
	`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("idempotency: seen check: %w", err)
	}
	return exists, nil
}

// Mark inserts the ProcessedEvent row. A unique-constraint violation means
// a concurrent duplicate won the race; it is surfaced as ErrAlreadyMarked
// so the caller can roll back and report DuplicateEvent (spec.md §4.1 step 8).
func (s *Store) Mark(ctx context.Context, eventID uuid.UUID, subject, tenantID, sourceModule string, processedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, subject, tenant_id, source_module, processed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, eventID, subject, tenantID, sourceModule, processedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrAlreadyMarked
		}
		return fmt.Errorf("idempotency: mark: %w", err)
	}
	return nil
}
