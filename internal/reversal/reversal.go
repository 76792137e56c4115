// Package reversal implements create_reversal (spec.md §4.3, C7): an
// inverse journal entry that zeroes out the net effect of an original entry
// while preserving both sides of history, grounded on the original Rust
// gl_reversal_consumer.rs / reversal_service error taxonomy and the
// teacher's transaction style shared with internal/posting.
package reversal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/withobsrvr/gl-ledger/internal/balance"
	"github.com/withobsrvr/gl-ledger/internal/dbtx"
	"github.com/withobsrvr/gl-ledger/internal/idempotency"
	"github.com/withobsrvr/gl-ledger/internal/journal"
	"github.com/withobsrvr/gl-ledger/internal/outbox"
	"github.com/withobsrvr/gl-ledger/internal/period"
	"go.uber.org/zap"
)

var (
	ErrDuplicateEvent    = errors.New("reversal: duplicate event")
	ErrEntryNotFound     = errors.New("reversal: original entry not found")
	ErrAlreadyReversed   = errors.New("reversal: entry already reversed")
	ErrOriginalPeriodClosed = errors.New("reversal: original period closed")
)

// Service implements create_reversal (spec.md §4.3).
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewService(db *sql.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Create runs the full reversal protocol in one transaction and returns the
// new reversal journal entry's ID.
func (s *Service) Create(ctx context.Context, eventID uuid.UUID, tenantID, sourceModule, sourceSubject string, originalEntryID uuid.UUID) (uuid.UUID, error) {
	var reversalID uuid.UUID
	err := dbtx.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		idem := idempotency.NewStore(tx)
		seen, err := idem.Seen(ctx, eventID)
		if err != nil {
			return err
		}
		if seen {
			return ErrDuplicateEvent
		}

		journalStore := journal.NewStore(tx)
		original, err := journalStore.FindByID(ctx, tenantID, originalEntryID, true)
		if err != nil {
			if errors.Is(err, journal.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrEntryNotFound, originalEntryID)
			}
			return err
		}

		// step 3: reject reversing a reversal (no cascade chains) — the
		// already-reversed entry here is the reversal root itself.
		if original.ReversesEntryID != nil {
			return fmt.Errorf("%w: %s is itself a reversal", ErrAlreadyReversed, originalEntryID)
		}

		// step 4: reject a second reversal of the same original.
		alreadyReversed, err := journalStore.ExistsReversalOf(ctx, tenantID, originalEntryID)
		if err != nil {
			return err
		}
		if alreadyReversed {
			return fmt.Errorf("%w: %s", ErrAlreadyReversed, originalEntryID)
		}

		periodStore := period.NewStore(tx)
		originalPeriod, err := periodStore.FindContaining(ctx, tenantID, original.PostedAt)
		if err != nil {
			if errors.Is(err, period.ErrNoOpenPeriod) {
				return fmt.Errorf("%w: original entry %s", ErrOriginalPeriodClosed, originalEntryID)
			}
			return err
		}
		if originalPeriod.IsClosed() {
			return fmt.Errorf("%w: original entry %s in period %s", ErrOriginalPeriodClosed, originalEntryID, originalPeriod.ID)
		}

		now := time.Now().UTC()
		reversalPeriod, err := periodStore.FindOpenContaining(ctx, tenantID, now)
		if err != nil {
			return err
		}

		reversalID = uuid.New()
		reversalEntry := &journal.Entry{
			ID:              reversalID,
			TenantID:        tenantID,
			SourceModule:    sourceModule,
			SourceEventID:   eventID,
			SourceSubject:   sourceSubject,
			PostedAt:        now,
			Currency:        original.Currency,
			Description:     fmt.Sprintf("Reversal of %s", originalEntryID),
			ReversesEntryID: &originalEntryID,
		}
		for _, l := range original.Lines {
			reversalEntry.Lines = append(reversalEntry.Lines, journal.Line{
				ID:          uuid.New(),
				AccountRef:  l.AccountRef,
				DebitMinor:  l.CreditMinor,
				CreditMinor: l.DebitMinor,
				Memo:        l.Memo,
				Dimensions:  l.Dimensions,
			})
		}
		if err := journalStore.Insert(ctx, reversalEntry); err != nil {
			return err
		}

		lineInputs := make([]balance.LineInput, len(reversalEntry.Lines))
		for i, l := range reversalEntry.Lines {
			lineInputs[i] = balance.LineInput{AccountRef: l.AccountRef, DebitMinor: l.DebitMinor, CreditMinor: l.CreditMinor}
		}
		deltas, err := balance.ComputeDeltas(lineInputs, reversalEntry.Currency)
		if err != nil {
			return fmt.Errorf("reversal: compute deltas: %w", err)
		}

		balances := balance.NewStore(tx)
		for _, d := range deltas {
			if err := balances.UpsertRollup(ctx, tenantID, reversalPeriod.ID, d.AccountCode, d.Currency, d.DebitDelta, d.CreditDelta, reversalID, now); err != nil {
				return err
			}
		}

		if err := idem.Mark(ctx, eventID, sourceSubject, tenantID, sourceModule, now); err != nil {
			if errors.Is(err, idempotency.ErrAlreadyMarked) {
				return ErrDuplicateEvent
			}
			return err
		}

		outboxStore := outbox.NewStore(tx)
		if err := outboxStore.Enqueue(ctx, outbox.Entry{
			ID:       uuid.New(),
			EventID:  uuid.New(),
			Subject:  "gl.events.entry.reversed",
			TenantID: tenantID,
			Payload: map[string]any{
				"reversal_entry_id": reversalID.String(),
				"original_entry_id": originalEntryID.String(),
				"posted_at":         now,
				"currency":          reversalEntry.Currency,
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			if s.logger != nil {
				s.logger.Info("duplicate reversal event ignored", zap.String("event_id", eventID.String()))
			}
			return uuid.Nil, ErrDuplicateEvent
		}
		return uuid.Nil, err
	}

	if s.logger != nil {
		s.logger.Info("reversal entry created",
			zap.String("tenant_id", tenantID),
			zap.String("event_id", eventID.String()),
			zap.String("original_entry_id", originalEntryID.String()),
			zap.String("reversal_entry_id", reversalID.String()))
	}
	return reversalID, nil
}
