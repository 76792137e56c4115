// Package outbox implements the transactional outbox (spec.md §4.6, C8):
// durable queue co-written with business state, drained by a separate
// publisher loop to decouple bus delivery from the writing transaction.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/withobsrvr/gl-ledger/internal/dbtx"
	"go.uber.org/zap"
)

// Status is the outbox row's delivery state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// maxRetries is the retry_count threshold at which a pending entry is
// marked failed instead of retried again (spec.md §4.6).
const maxRetries = 5

// batchSize bounds how many pending entries one publisher tick drains.
const batchSize = 100

// Entry is one OutboxEntry row (spec.md §3).
type Entry struct {
	ID           uuid.UUID
	EventID      uuid.UUID
	Subject      string
	Payload      any
	TenantID     string
	Status       Status
	RetryCount   int
	CreatedAt    time.Time
	PublishedAt  *time.Time
	ErrorMessage *string
}

// Store persists and drains outbox rows.
type Store struct {
	db dbtx.Querier
}

func NewStore(db dbtx.Querier) *Store { return &Store{db: db} }

// Enqueue writes a pending outbox row inside the caller's transaction, so
// the row exists iff the producing transaction commits (spec.md §3 invariant).
func (s *Store) Enqueue(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outbox_entries (id, event_id, subject, payload, tenant_id, status, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6)
	`, e.ID, e.EventID, e.Subject, payload, e.TenantID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}

// rawRow mirrors Entry for scanning, keeping Payload as raw bytes.
type rawRow struct {
	Entry
	PayloadBytes []byte
}

// LoadPending selects up to batchSize pending entries ordered by
// created_at ascending (spec.md §4.6 step 1).
func (s *Store) LoadPending(ctx context.Context, db *sql.DB) ([]Entry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, event_id, subject, payload, tenant_id, status, retry_count, created_at, published_at, error_message
		FROM outbox_entries
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`, batchSize)
	if err != nil {
		return nil, fmt.Errorf("outbox: load pending: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var r rawRow
		if err := rows.Scan(&r.ID, &r.EventID, &r.Subject, &r.PayloadBytes, &r.TenantID, &r.Status, &r.RetryCount, &r.CreatedAt, &r.PublishedAt, &r.ErrorMessage); err != nil {
			return nil, fmt.Errorf("outbox: scan pending: %w", err)
		}
		var payload map[string]any
		_ = json.Unmarshal(r.PayloadBytes, &payload)
		r.Entry.Payload = payload
		out = append(out, r.Entry)
	}
	return out, rows.Err()
}

// MarkPublished transitions pending -> published.
func (s *Store) MarkPublished(ctx context.Context, db *sql.DB, id uuid.UUID, publishedAt time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE outbox_entries SET status = 'published', published_at = $1 WHERE id = $2
	`, publishedAt, id)
	if err != nil {
		return fmt.Errorf("outbox: mark published: %w", err)
	}
	return nil
}

// MarkRetryOrFailed increments retry_count; once it reaches maxRetries the
// row transitions to failed with the recorded error (spec.md §4.6 step 4).
func (s *Store) MarkRetryOrFailed(ctx context.Context, db *sql.DB, id uuid.UUID, retryCount int, errMsg string) error {
	status := StatusPending
	if retryCount+1 >= maxRetries {
		status = StatusFailed
	}
	_, err := db.ExecContext(ctx, `
		UPDATE outbox_entries SET status = $1, retry_count = retry_count + 1, error_message = $2 WHERE id = $3
	`, status, errMsg, id)
	if err != nil {
		return fmt.Errorf("outbox: mark retry/failed: %w", err)
	}
	return nil
}

// publisher is the minimal bus dependency the outbox loop needs.
type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// RunPublisher drains pending entries to bus on a fixed tick until ctx is
// canceled (spec.md §4.6 publisher loop). Publish order matches created_at
// order within this single-publisher process, per the designed mode.
func RunPublisher(ctx context.Context, db *sql.DB, b publisher, logger *zap.Logger, tick time.Duration) {
	store := NewStore(db)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := drainOnce(ctx, store, db, b, logger); err != nil && logger != nil {
				logger.Error("outbox: drain tick failed", zap.Error(err))
			}
		}
	}
}

func drainOnce(ctx context.Context, store *Store, db *sql.DB, b publisher, logger *zap.Logger) error {
	pending, err := store.LoadPending(ctx, db)
	if err != nil {
		return err
	}

	published := 0
	for _, e := range pending {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			if logger != nil {
				logger.Error("outbox: marshal failed, recording retry", zap.String("id", e.ID.String()), zap.Error(err))
			}
			_ = store.MarkRetryOrFailed(ctx, db, e.ID, e.RetryCount, err.Error())
			continue
		}

		if err := b.Publish(ctx, e.Subject, payload); err != nil {
			if logger != nil {
				logger.Warn("outbox: publish failed, will retry",
					zap.String("id", e.ID.String()), zap.String("subject", e.Subject),
					zap.Int("retry_count", e.RetryCount), zap.Error(err))
			}
			if err := store.MarkRetryOrFailed(ctx, db, e.ID, e.RetryCount, err.Error()); err != nil {
				return err
			}
			continue
		}

		if err := store.MarkPublished(ctx, db, e.ID, time.Now().UTC()); err != nil {
			return err
		}
		published++
	}

	if published > 0 && logger != nil {
		logger.Info("outbox: published entries", zap.Int("count", published))
	}
	return nil
}
