// Package posting implements the posting service (spec.md §4.1, C6):
// shape validation, chart-of-accounts/period resolution, and atomic
// journal + balance + idempotency + outbox commit, grounded on the
// teacher's transaction style (postgres-consumer/go/main.go's
// db.Begin/tx.Commit pattern) and on the original Rust
// gl_posting_consumer.rs / validation.rs semantics.
package posting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/withobsrvr/gl-ledger/internal/balance"
	"github.com/withobsrvr/gl-ledger/internal/coa"
	"github.com/withobsrvr/gl-ledger/internal/dbtx"
	"github.com/withobsrvr/gl-ledger/internal/idempotency"
	"github.com/withobsrvr/gl-ledger/internal/journal"
	"github.com/withobsrvr/gl-ledger/internal/outbox"
	"github.com/withobsrvr/gl-ledger/internal/period"
	"go.uber.org/zap"
)

// Sentinel errors matching the taxonomy in spec.md §4.1 / §7.
var (
	ErrDuplicateEvent  = errors.New("posting: duplicate event")
	ErrValidation      = errors.New("posting: validation failed")
	ErrAccountNotFound = errors.New("posting: account not found")
	ErrAccountInactive = errors.New("posting: account inactive")
	ErrPeriodClosed    = errors.New("posting: period closed")
	ErrNoOpenPeriod    = errors.New("posting: no open period")
)

// balanceEpsilonMinor absorbs float-slop from legacy decimal inputs, per
// spec.md §4.1 step 1 and the Open Question in §9: kept at 1 minor unit to
// preserve the documented behavior, not tightened to exact equality.
const balanceEpsilonMinor = int64(1)

// LineRequest is one line of an inbound posting request.
type LineRequest struct {
	AccountRef string
	Debit      int64 // already converted to minor units at the envelope boundary
	Credit     int64
	Memo       string
	Dimensions journal.Dimensions
}

// Request is the decoded PostingRequest payload (spec.md §6).
type Request struct {
	PostingDate   time.Time // calendar date; start-of-day UTC is derived internally
	Currency      string
	SourceDocType string
	SourceDocID   string
	Description   string
	Lines         []LineRequest
}

// Service implements apply_posting (spec.md §4.1).
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewService(db *sql.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Apply runs the full posting protocol in one transaction and returns the
// new journal entry ID.
func (s *Service) Apply(ctx context.Context, eventID uuid.UUID, tenantID, sourceModule, sourceSubject string, req Request) (uuid.UUID, error) {
	if err := validateShape(req); err != nil {
		return uuid.Nil, err
	}

	var entryID uuid.UUID
	err := dbtx.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		idem := idempotency.NewStore(tx)
		seen, err := idem.Seen(ctx, eventID)
		if err != nil {
			return err
		}
		if seen {
			return ErrDuplicateEvent
		}

		periodStore := period.NewStore(tx)
		p, err := periodStore.FindContaining(ctx, tenantID, req.PostingDate)
		if err != nil {
			if errors.Is(err, period.ErrNoOpenPeriod) {
				return ErrNoOpenPeriod
			}
			return err
		}
		if p.IsClosed() {
			return fmt.Errorf("%w: period %s", ErrPeriodClosed, p.ID)
		}

		accounts := coa.NewStore(tx)
		for i, line := range req.Lines {
			if _, err := accounts.Resolve(ctx, tenantID, line.AccountRef); err != nil {
				if errors.Is(err, coa.ErrNotFound) {
					return fmt.Errorf("%w: line %d account %s", ErrAccountNotFound, i, line.AccountRef)
				}
				if errors.Is(err, coa.ErrInactive) {
					return fmt.Errorf("%w: line %d account %s", ErrAccountInactive, i, line.AccountRef)
				}
				return err
			}
		}

		entryID = uuid.New()
		postedAt := time.Date(req.PostingDate.Year(), req.PostingDate.Month(), req.PostingDate.Day(), 0, 0, 0, 0, time.UTC)

		entry := &journal.Entry{
			ID:            entryID,
			TenantID:      tenantID,
			SourceModule:  sourceModule,
			SourceEventID: eventID,
			SourceSubject: sourceSubject,
			PostedAt:      postedAt,
			Currency:      req.Currency,
			Description:   req.Description,
		}
		for _, line := range req.Lines {
			entry.Lines = append(entry.Lines, journal.Line{
				ID:          uuid.New(),
				AccountRef:  line.AccountRef,
				DebitMinor:  line.Debit,
				CreditMinor: line.Credit,
				Memo:        line.Memo,
				Dimensions:  line.Dimensions,
			})
		}

		journalStore := journal.NewStore(tx)
		if err := journalStore.Insert(ctx, entry); err != nil {
			return err
		}

		lineInputs := make([]balance.LineInput, len(entry.Lines))
		for i, l := range entry.Lines {
			lineInputs[i] = balance.LineInput{AccountRef: l.AccountRef, DebitMinor: l.DebitMinor, CreditMinor: l.CreditMinor}
		}
		deltas, err := balance.ComputeDeltas(lineInputs, req.Currency)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}

		now := time.Now().UTC()
		balances := balance.NewStore(tx)
		for _, d := range deltas {
			if err := balances.UpsertRollup(ctx, tenantID, p.ID, d.AccountCode, d.Currency, d.DebitDelta, d.CreditDelta, entryID, now); err != nil {
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
			Subject:  "gl.events.entry.posted",
			TenantID: tenantID,
			Payload: map[string]any{
				"journal_entry_id": entryID.String(),
				"posted_at":        postedAt,
				"currency":         req.Currency,
				"source_doc_ref":   req.SourceDocID,
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
				s.logger.Info("duplicate posting event ignored", zap.String("event_id", eventID.String()))
			}
			return uuid.Nil, ErrDuplicateEvent
		}
		return uuid.Nil, err
	}

	if s.logger != nil {
		s.logger.Info("journal entry posted",
			zap.String("tenant_id", tenantID),
			zap.String("event_id", eventID.String()),
			zap.String("entry_id", entryID.String()))
	}
	return entryID, nil
}

// validateShape implements spec.md §4.1 step 1 (request shape validation).
func validateShape(req Request) error {
	if !isValidCurrency(req.Currency) {
		return fmt.Errorf("%w: currency must be 3 uppercase letters, got %q", ErrValidation, req.Currency)
	}
	if l := len(req.Description); l < 1 || l > 500 {
		return fmt.Errorf("%w: description must be 1-500 characters, got %d", ErrValidation, l)
	}
	if len(req.Lines) < 2 {
		return fmt.Errorf("%w: insufficient lines, need >= 2, got %d", ErrValidation, len(req.Lines))
	}

	var totalDebit, totalCredit int64
	for i, line := range req.Lines {
		if line.AccountRef == "" {
			return fmt.Errorf("%w: line %d account_ref is empty", ErrValidation, i)
		}
		if line.Debit < 0 {
			return fmt.Errorf("%w: line %d debit is negative", ErrValidation, i)
		}
		if line.Credit < 0 {
			return fmt.Errorf("%w: line %d credit is negative", ErrValidation, i)
		}
		if len(line.Memo) > 500 {
			return fmt.Errorf("%w: line %d memo exceeds 500 characters", ErrValidation, i)
		}
		totalDebit += line.Debit
		totalCredit += line.Credit
	}

	diff := totalDebit - totalCredit
	if diff < 0 {
		diff = -diff
	}
	if diff > balanceEpsilonMinor {
		return fmt.Errorf("%w: unbalanced entry, debits=%d credits=%d", ErrValidation, totalDebit, totalCredit)
	}
	return nil
}

func isValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
