// Package reports implements the C11 read-side: trial balance, GL detail,
// account activity, and period summary. All queries are bounded joins over
// C4 (preferred) or C4×C1/C3, grounded on the original Rust
// trial_balance_service.rs / gl_detail_service.rs /
// account_activity_service.rs / period_summary_repo.rs.
package reports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/withobsrvr/gl-ledger/internal/balance"
	"github.com/withobsrvr/gl-ledger/internal/dbtx"
	"github.com/withobsrvr/gl-ledger/internal/journal"
	"github.com/withobsrvr/gl-ledger/internal/period"
)

var ErrPeriodNotFound = errors.New("reports: period not found")

const (
	minPageSize     = 1
	maxPageSize     = 100
	defaultPageSize = 50
)

// Pagination is an inbound page request, clamped to [1,100] by NormalizePage.
type Pagination struct {
	Limit  int64
	Offset int64
}

// NormalizePage applies the bounds every paginated reader enforces
// (spec.md §9's bounded-query requirement, per the original's
// validate_pagination: limit in [1,100], offset >= 0).
func NormalizePage(p Pagination) Pagination {
	if p.Limit < minPageSize || p.Limit > maxPageSize {
		p.Limit = defaultPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// PageMeta mirrors the original's PaginationMetadata DTO.
type PageMeta struct {
	Limit      int64
	Offset     int64
	TotalCount int64
	HasMore    bool
}

func pageMeta(p Pagination, returned, total int64) PageMeta {
	return PageMeta{
		Limit:      p.Limit,
		Offset:     p.Offset,
		TotalCount: total,
		HasMore:    p.Offset+returned < total,
	}
}

// Reader bundles the readers behind one handle; all methods are read-only.
type Reader struct {
	db       dbtx.Querier
	balances *balance.Store
	periods  *period.Store
	journals *journal.Store
}

func NewReader(db dbtx.Querier) *Reader {
	return &Reader{
		db:       db,
		balances: balance.NewStore(db),
		periods:  period.NewStore(db),
		journals: journal.NewStore(db),
	}
}

// TrialBalance returns active-account balances for a period (spec.md §4.4
// trial_balance contract): C4 joined with C1, ordered by account_code,
// currency.
func (r *Reader) TrialBalance(ctx context.Context, tenantID string, periodID uuid.UUID, currency *string) ([]balance.TrialBalanceRow, error) {
	return r.balances.TrialBalance(ctx, tenantID, periodID, currency)
}

// GLDetailEntry is one journal entry with its lines, for the GL detail
// report.
type GLDetailEntry struct {
	journal.Entry
}

// GLDetail returns journal entries (header + lines) posted within a
// period, optionally filtered by account_code/currency, paginated.
func (r *Reader) GLDetail(ctx context.Context, tenantID string, periodID uuid.UUID, accountCode, currency *string, page Pagination) ([]GLDetailEntry, PageMeta, error) {
	page = NormalizePage(page)

	p, err := r.periods.FindByID(ctx, tenantID, periodID, false)
	if err != nil {
		if errors.Is(err, period.ErrNotFound) {
			return nil, PageMeta{}, ErrPeriodNotFound
		}
		return nil, PageMeta{}, err
	}

	entries, err := r.journals.ForPeriod(ctx, tenantID, p.Start, p.End)
	if err != nil {
		return nil, PageMeta{}, err
	}

	filtered := entries[:0]
	for _, e := range entries {
		if currency != nil && e.Currency != *currency {
			continue
		}
		if accountCode != nil {
			hasAccount := false
			for _, l := range e.Lines {
				if l.AccountRef == *accountCode {
					hasAccount = true
					break
				}
			}
			if !hasAccount {
				continue
			}
		}
		filtered = append(filtered, e)
	}

	total := int64(len(filtered))
	start := page.Offset
	if start > total {
		start = total
	}
	end := start + page.Limit
	if end > total {
		end = total
	}

	out := make([]GLDetailEntry, 0, end-start)
	for _, e := range filtered[start:end] {
		out = append(out, GLDetailEntry{Entry: e})
	}
	return out, pageMeta(page, int64(len(out)), total), nil
}

// ActivityLine is one journal line touching a single account, for the
// account activity report.
type ActivityLine struct {
	EntryID     uuid.UUID
	PostedAt    time.Time
	Description string
	Currency    string
	DebitMinor  int64
	CreditMinor int64
	Memo        string
}

// AccountActivity returns every line posted against accountCode within
// [start,end], optionally filtered by currency, paginated.
func (r *Reader) AccountActivity(ctx context.Context, tenantID, accountCode string, start, end time.Time, currency *string, page Pagination) ([]ActivityLine, PageMeta, error) {
	page = NormalizePage(page)

	entries, err := r.journals.ForPeriod(ctx, tenantID, start, end)
	if err != nil {
		return nil, PageMeta{}, err
	}

	var lines []ActivityLine
	for _, e := range entries {
		if currency != nil && e.Currency != *currency {
			continue
		}
		for _, l := range e.Lines {
			if l.AccountRef != accountCode {
				continue
			}
			lines = append(lines, ActivityLine{
				EntryID:     e.ID,
				PostedAt:    e.PostedAt,
				Description: e.Description,
				Currency:    e.Currency,
				DebitMinor:  l.DebitMinor,
				CreditMinor: l.CreditMinor,
				Memo:        l.Memo,
			})
		}
	}

	total := int64(len(lines))
	lo := page.Offset
	if lo > total {
		lo = total
	}
	hi := lo + page.Limit
	if hi > total {
		hi = total
	}
	pageLines := lines[lo:hi]
	return pageLines, pageMeta(page, int64(len(pageLines)), total), nil
}

// PeriodSummary mirrors the original's PeriodSummary DTO: debit and credit
// totals for a period, either from a precomputed snapshot or computed
// live from account_balances. Journal and line counts are not carried.
type PeriodSummary struct {
	TenantID          string
	PeriodID          uuid.UUID
	Currency          string
	TotalDebitsMinor  int64
	TotalCreditsMinor int64
	IsSnapshot        bool
}

// PeriodSummaryReport returns the summary for a period, preferring the
// PeriodSummarySnapshot rows written by the close protocol (spec.md §4.8.b)
// and falling back to live account_balances aggregation when no snapshot
// exists yet — per spec.md §10 (supplemented from period_summary_repo.rs).
func (r *Reader) PeriodSummaryReport(ctx context.Context, tenantID string, periodID uuid.UUID, currency *string) (PeriodSummary, error) {
	if snap, ok, err := r.findSnapshot(ctx, tenantID, periodID, currency); err != nil {
		return PeriodSummary{}, err
	} else if ok {
		return snap, nil
	}

	rows, err := r.balances.TrialBalance(ctx, tenantID, periodID, currency)
	if err != nil {
		return PeriodSummary{}, err
	}

	cur := "MULTI"
	if currency != nil {
		cur = *currency
	}
	summary := PeriodSummary{TenantID: tenantID, PeriodID: periodID, Currency: cur}
	for _, row := range rows {
		summary.TotalDebitsMinor += row.DebitTotalMinor
		summary.TotalCreditsMinor += row.CreditTotalMinor
	}
	return summary, nil
}

// findSnapshot reads a per-currency snapshot row, or aggregates across all
// currencies when none is requested.
func (r *Reader) findSnapshot(ctx context.Context, tenantID string, periodID uuid.UUID, currency *string) (PeriodSummary, bool, error) {
	var (
		row  *sqlRow
		err  error
	)
	if currency != nil {
		row, err = scanSnapshotRow(r.db.QueryRowContext(ctx, `
			SELECT currency, journal_count, line_count, total_debits_minor, total_credits_minor
			FROM period_summary_snapshots
			WHERE tenant_id = $1 AND period_id = $2 AND currency = $3
		`, tenantID, periodID, *currency))
	} else {
		row, err = scanSnapshotRow(r.db.QueryRowContext(ctx, `
			SELECT 'MULTI', COALESCE(SUM(journal_count),0), COALESCE(SUM(line_count),0),
			       COALESCE(SUM(total_debits_minor),0), COALESCE(SUM(total_credits_minor),0)
			FROM period_summary_snapshots
			WHERE tenant_id = $1 AND period_id = $2
			HAVING COUNT(*) > 0
		`, tenantID, periodID))
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PeriodSummary{}, false, nil
		}
		return PeriodSummary{}, false, err
	}
	return PeriodSummary{
		TenantID:          tenantID,
		PeriodID:          periodID,
		Currency:          row.currency,
		TotalDebitsMinor:  row.totalDebits,
		TotalCreditsMinor: row.totalCredits,
		IsSnapshot:        true,
	}, true, nil
}

type sqlRow struct {
	currency                   string
	journalCount, lineCount    int
	totalDebits, totalCredits  int64
}

func scanSnapshotRow(row *sql.Row) (*sqlRow, error) {
	var r sqlRow
	if err := row.Scan(&r.currency, &r.journalCount, &r.lineCount, &r.totalDebits, &r.totalCredits); err != nil {
		return nil, err
	}
	return &r, nil
}

// ValidateCurrency enforces the ISO 4217 3-uppercase-letter shape used
// across every reader's optional currency filter.
func ValidateCurrency(c string) error {
	if len(c) != 3 {
		return fmt.Errorf("reports: currency must be 3 uppercase letters, got %q", c)
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("reports: currency must be 3 uppercase letters, got %q", c)
		}
	}
	return nil
}
