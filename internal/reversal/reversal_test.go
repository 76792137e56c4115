package reversal

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

func entryHeaderRow(id uuid.UUID, postedAt time.Time, reversesEntryID *uuid.UUID) *sqlmock.Rows {
	cols := []string{"id", "tenant_id", "source_module", "source_event_id", "source_subject", "posted_at", "currency", "description", "reverses_entry_id"}
	var reverses any
	if reversesEntryID != nil {
		reverses = reversesEntryID.String()
	}
	return sqlmock.NewRows(cols).AddRow(id.String(), "tenant-a", "billing", uuid.New().String(), "gl.events.posting.requested", postedAt, "USD", "original entry", reverses)
}

func twoBalancedLines(entryID uuid.UUID) *sqlmock.Rows {
	cols := []string{"id", "journal_entry_id", "line_no", "account_ref", "debit_minor", "credit_minor", "memo",
		"dim_customer", "dim_vendor", "dim_location", "dim_job", "dim_department", "dim_class", "dim_project"}
	return sqlmock.NewRows(cols).
		AddRow(uuid.New().String(), entryID.String(), 1, "1000", int64(10000), int64(0), "debit", nil, nil, nil, nil, nil, nil, nil).
		AddRow(uuid.New().String(), entryID.String(), 2, "4000", int64(0), int64(10000), "credit", nil, nil, nil, nil, nil, nil, nil)
}

func openPeriodRow(periodID uuid.UUID, start, end time.Time) *sqlmock.Rows {
	cols := []string{"id", "tenant_id", "period_start", "period_end", "closed_at", "close_hash", "closed_by", "close_reason"}
	return sqlmock.NewRows(cols).AddRow(periodID.String(), "tenant-a", start, end, nil, nil, nil, nil)
}

// TestCreateReversesBalancedEntry exercises the full reversal protocol
// against a faked database/sql driver: idempotency check, original-entry
// lookup, cascade/duplicate-reversal checks, both period resolutions,
// inverted-line entry construction, balance upsert, idempotency mark, and
// outbox enqueue.
func TestCreateReversesBalancedEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	originalID := uuid.New()
	originalPeriodID := uuid.New()
	reversalPeriodID := uuid.New()
	originalPostedAt := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	originalPeriodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	originalPeriodEnd := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	reversalPeriodStart := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	reversalPeriodEnd := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM processed_events").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("FROM journal_entries").WillReturnRows(entryHeaderRow(originalID, originalPostedAt, nil))
	mock.ExpectQuery("FROM journal_lines").WillReturnRows(twoBalancedLines(originalID))
	mock.ExpectQuery("FROM journal_entries").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false)) // ExistsReversalOf
	mock.ExpectQuery("FROM accounting_periods").WillReturnRows(openPeriodRow(originalPeriodID, originalPeriodStart, originalPeriodEnd))
	mock.ExpectQuery("FROM accounting_periods").WillReturnRows(openPeriodRow(reversalPeriodID, reversalPeriodStart, reversalPeriodEnd))
	mock.ExpectExec("INSERT INTO journal_entries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO journal_lines").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO journal_lines").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO account_balances").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO account_balances").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO processed_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox_entries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := NewService(db, zap.NewNop())
	reversalID, err := svc.Create(context.Background(), uuid.New(), "tenant-a", "billing", "gl.events.entry.reverse.requested", originalID)

	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, reversalID)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestCreateRejectsCascadingReversal exercises step 3 of spec.md §4.3: an
// entry that is itself a reversal cannot be reversed again.
func TestCreateRejectsCascadingReversal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	originalID := uuid.New()
	alreadyReversesID := uuid.New()
	originalPostedAt := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM processed_events").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("FROM journal_entries").WillReturnRows(entryHeaderRow(originalID, originalPostedAt, &alreadyReversesID))
	mock.ExpectQuery("FROM journal_lines").WillReturnRows(twoBalancedLines(originalID))
	mock.ExpectRollback()

	svc := NewService(db, zap.NewNop())
	_, err = svc.Create(context.Background(), uuid.New(), "tenant-a", "billing", "gl.events.entry.reverse.requested", originalID)

	require.ErrorIs(t, err, ErrAlreadyReversed)
	require.NoError(t, mock.ExpectationsWereMet())
}
