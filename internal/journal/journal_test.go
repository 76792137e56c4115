package journal

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestForPeriodIncludesEntryPostedExactlyOnPeriodEnd is a regression test:
// ForPeriod's upper bound must be inclusive of period_end, matching
// period.go's period_end >= date and rebuild.go's listOverlapping. An
// entry posted at midnight UTC on the period's last calendar day (how
// posting.go normalizes posted_at) must not be silently dropped.
func TestForPeriodIncludesEntryPostedExactlyOnPeriodEnd(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	entryID := uuid.New()
	sourceEventID := uuid.New()
	periodEnd := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entryCols := []string{"id", "tenant_id", "source_module", "source_event_id", "source_subject", "posted_at", "currency", "description", "reverses_entry_id"}
	mock.ExpectQuery("FROM journal_entries").WillReturnRows(
		sqlmock.NewRows(entryCols).AddRow(
			entryID.String(), "tenant-a", "billing", sourceEventID.String(), "gl.events.posting.requested",
			periodEnd, "USD", "last day of period", nil,
		),
	)

	lineCols := []string{"id", "journal_entry_id", "line_no", "account_ref", "debit_minor", "credit_minor", "memo",
		"dim_customer", "dim_vendor", "dim_location", "dim_job", "dim_department", "dim_class", "dim_project"}
	mock.ExpectQuery("FROM journal_lines").WillReturnRows(
		sqlmock.NewRows(lineCols).
			AddRow(uuid.New().String(), entryID.String(), 1, "1000", int64(10000), int64(0), "debit", nil, nil, nil, nil, nil, nil, nil).
			AddRow(uuid.New().String(), entryID.String(), 2, "4000", int64(0), int64(10000), "credit", nil, nil, nil, nil, nil, nil, nil),
	)

	store := NewStore(db)
	entries, err := store.ForPeriod(context.Background(), "tenant-a", periodStart, periodEnd)
	require.NoError(t, err)
	require.Len(t, entries, 1, "entry posted exactly on period_end must be included")
	require.Equal(t, entryID, entries[0].ID)
	require.Len(t, entries[0].Lines, 2)

	require.NoError(t, mock.ExpectationsWereMet())
}
