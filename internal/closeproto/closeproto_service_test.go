package closeproto

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func periodRow(id uuid.UUID, start, end time.Time, closedAt *time.Time, closeHash, closedBy, closeReason *string) *sqlmock.Rows {
	cols := []string{"id", "tenant_id", "period_start", "period_end", "closed_at", "close_hash", "closed_by", "close_reason"}
	var closedAtAny any
	if closedAt != nil {
		closedAtAny = *closedAt
	}
	var hashAny, byAny, reasonAny any
	if closeHash != nil {
		hashAny = *closeHash
	}
	if closedBy != nil {
		byAny = *closedBy
	}
	if closeReason != nil {
		reasonAny = *closeReason
	}
	return sqlmock.NewRows(cols).AddRow(id.String(), "tenant-a", start, end, closedAtAny, hashAny, byAny, reasonAny)
}

func noJournalEntryRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "tenant_id", "source_module", "source_event_id", "source_subject", "posted_at", "currency", "description", "reverses_entry_id"})
}

// TestCloseEmptyPeriodSucceeds mirrors original_source's
// test_close_period_empty_success: closing a period with no journal
// entries still validates, seals, and returns a well-formed hash.
func TestCloseEmptyPeriodSucceeds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	periodID := uuid.New()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM accounting_periods").WillReturnRows(periodRow(periodID, start, end, nil, nil, nil, nil))
	mock.ExpectQuery("FROM journal_entries").WillReturnRows(noJournalEntryRows())
	mock.ExpectQuery("FROM account_balances").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectExec("UPDATE accounting_periods").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := NewService(db)
	result, err := svc.Close(context.Background(), "tenant-a", periodID, "admin", nil)

	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.CloseHash, 64)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestClosePeriodNotFound exercises the PERIOD_NOT_FOUND validation branch.
func TestClosePeriodNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM accounting_periods").WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	svc := NewService(db)
	result, err := svc.Close(context.Background(), "tenant-a", uuid.New(), "admin", nil)

	require.NoError(t, err)
	require.False(t, result.Success)
	require.NotNil(t, result.ValidationReport)
	require.Equal(t, IssuePeriodNotFound, result.ValidationReport.Issues[0].Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestCloseAlreadyClosedReportsExistingHash exercises the idempotent-close
// branch: closing an already-closed period reports the existing hash
// rather than erroring.
func TestCloseAlreadyClosedReportsExistingHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	periodID := uuid.New()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	closedAt := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	hash := "deadbeef"
	by := "admin"

	mock.ExpectBegin()
	mock.ExpectQuery("FROM accounting_periods").WillReturnRows(periodRow(periodID, start, end, &closedAt, &hash, &by, nil))
	mock.ExpectCommit()

	svc := NewService(db)
	result, err := svc.Close(context.Background(), "tenant-a", periodID, "someone-else", nil)

	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, hash, result.CloseHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestCloseIncludesJournalEntryPostedOnPeriodEnd is a regression test for
// the ForPeriod off-by-one: a period with a single balanced entry posted
// exactly at period_end must still produce a per-currency snapshot row
// (proving the entry was not silently excluded from the hash/snapshot).
func TestCloseIncludesJournalEntryPostedOnPeriodEnd(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	periodID := uuid.New()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	entryID := uuid.New()

	entryCols := []string{"id", "tenant_id", "source_module", "source_event_id", "source_subject", "posted_at", "currency", "description", "reverses_entry_id"}
	lineCols := []string{"id", "journal_entry_id", "line_no", "account_ref", "debit_minor", "credit_minor", "memo",
		"dim_customer", "dim_vendor", "dim_location", "dim_job", "dim_department", "dim_class", "dim_project"}

	mock.ExpectBegin()
	mock.ExpectQuery("FROM accounting_periods").WillReturnRows(periodRow(periodID, start, end, nil, nil, nil, nil))
	mock.ExpectQuery("FROM journal_entries").WillReturnRows(
		sqlmock.NewRows(entryCols).AddRow(entryID.String(), "tenant-a", "billing", uuid.New().String(), "gl.events.posting.requested", end, "USD", "last day of period", nil),
	)
	mock.ExpectQuery("FROM journal_lines").WillReturnRows(
		sqlmock.NewRows(lineCols).
			AddRow(uuid.New().String(), entryID.String(), 1, "1000", int64(5000), int64(0), "debit", nil, nil, nil, nil, nil, nil, nil).
			AddRow(uuid.New().String(), entryID.String(), 2, "4000", int64(0), int64(5000), "credit", nil, nil, nil, nil, nil, nil, nil),
	)
	mock.ExpectQuery("FROM account_balances").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))
	// The per-currency snapshot insert only happens if the boundary entry
	// was actually returned by ForPeriod; if it had been silently excluded
	// this expectation would be left unfulfilled.
	mock.ExpectExec("INSERT INTO period_summary_snapshots").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE accounting_periods").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := NewService(db)
	result, err := svc.Close(context.Background(), "tenant-a", periodID, "admin", nil)

	require.NoError(t, err)
	require.True(t, result.Success)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestVerifyMatchesRecomputedHash exercises Verify's non-transactional read
// path against the same empty-period inputs as the close test above.
func TestVerifyMatchesRecomputedHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	periodID := uuid.New()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM accounting_periods").WillReturnRows(periodRow(periodID, start, end, nil, nil, nil, nil))
	mock.ExpectQuery("FROM journal_entries").WillReturnRows(noJournalEntryRows())
	mock.ExpectQuery("FROM account_balances").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

	expected := computeHash("tenant-a", periodID, 0, 0, 0, 0)

	svc := NewService(db)
	err = svc.Verify(context.Background(), "tenant-a", periodID, expected)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestVerifyDetectsHashMismatch exercises ErrHashMismatch.
func TestVerifyDetectsHashMismatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	periodID := uuid.New()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM accounting_periods").WillReturnRows(periodRow(periodID, start, end, nil, nil, nil, nil))
	mock.ExpectQuery("FROM journal_entries").WillReturnRows(noJournalEntryRows())
	mock.ExpectQuery("FROM account_balances").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

	svc := NewService(db)
	err = svc.Verify(context.Background(), "tenant-a", periodID, "not-the-right-hash")

	require.ErrorIs(t, err, ErrHashMismatch)
	require.NoError(t, mock.ExpectationsWereMet())
}
