package balance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/withobsrvr/gl-ledger/internal/dbtx"
)

var ErrNotFound = errors.New("balance: not found")

// Balance is one (tenant, period, account, currency) rollup row.
type Balance struct {
	TenantID           string
	PeriodID           uuid.UUID
	AccountCode        string
	Currency           string
	DebitTotalMinor    int64
	CreditTotalMinor   int64
	NetBalanceMinor    int64
	LastJournalEntryID uuid.UUID
	UpdatedAt          time.Time
}

// Store maintains the AccountBalance rollup grain.
type Store struct {
	db dbtx.Querier
}

func NewStore(db dbtx.Querier) *Store { return &Store{db: db} }

func (s *Store) WithQuerier(q dbtx.Querier) *Store { return &Store{db: q} }

// UpsertRollup additively applies a delta to the (tenant, period, account,
// currency) grain, inside the caller's transaction. ON CONFLICT DO UPDATE
// against the unique grain key acquires the row lock that makes concurrent
// postings to the same grain serialize to "existing + delta" (spec.md §4.4).
func (s *Store) UpsertRollup(ctx context.Context, tenantID string, periodID uuid.UUID, accountCode, currency string, debitDelta, creditDelta int64, journalEntryID uuid.UUID, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_balances
			(tenant_id, period_id, account_code, currency, debit_total_minor, credit_total_minor, net_balance_minor, last_journal_entry_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $5 - $6, $7, $8)
		ON CONFLICT (tenant_id, period_id, account_code, currency) DO UPDATE SET
			debit_total_minor = account_balances.debit_total_minor + EXCLUDED.debit_total_minor,
			credit_total_minor = account_balances.credit_total_minor + EXCLUDED.credit_total_minor,
			net_balance_minor = (account_balances.debit_total_minor + EXCLUDED.debit_total_minor)
			                  - (account_balances.credit_total_minor + EXCLUDED.credit_total_minor),
			last_journal_entry_id = EXCLUDED.last_journal_entry_id,
			updated_at = EXCLUDED.updated_at
	`, tenantID, periodID, accountCode, currency, debitDelta, creditDelta, journalEntryID, now)
	if err != nil {
		return fmt.Errorf("balance: upsert rollup %s/%s: %w", accountCode, currency, err)
	}
	return nil
}

// FindByGrain reads a single rollup row.
func (s *Store) FindByGrain(ctx context.Context, tenantID string, periodID uuid.UUID, accountCode, currency string) (*Balance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, period_id, account_code, currency, debit_total_minor, credit_total_minor, net_balance_minor, last_journal_entry_id, updated_at
		FROM account_balances
		WHERE tenant_id = $1 AND period_id = $2 AND account_code = $3 AND currency = $4
	`, tenantID, periodID, accountCode, currency)

	var b Balance
	if err := row.Scan(&b.TenantID, &b.PeriodID, &b.AccountCode, &b.Currency, &b.DebitTotalMinor, &b.CreditTotalMinor, &b.NetBalanceMinor, &b.LastJournalEntryID, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("balance: find by grain: %w", err)
	}
	return &b, nil
}

// TrialBalanceRow pairs a rollup with its account master-data fields.
type TrialBalanceRow struct {
	Balance
	AccountName   string
	AccountType   string
	NormalBalance string
}

// TrialBalance joins active accounts against their rollups for a period,
// optionally filtered by currency, ordered by (account_code, currency).
func (s *Store) TrialBalance(ctx context.Context, tenantID string, periodID uuid.UUID, currency *string) ([]TrialBalanceRow, error) {
	q := `
		SELECT b.tenant_id, b.period_id, b.account_code, b.currency,
		       b.debit_total_minor, b.credit_total_minor, b.net_balance_minor,
		       b.last_journal_entry_id, b.updated_at,
		       a.name, a.type, a.normal_balance
		FROM account_balances b
		JOIN accounts a ON a.tenant_id = b.tenant_id AND a.code = b.account_code
		WHERE b.tenant_id = $1 AND b.period_id = $2 AND a.is_active = true
	`
	args := []any{tenantID, periodID}
	if currency != nil {
		q += " AND b.currency = $3"
		args = append(args, *currency)
	}
	q += " ORDER BY b.account_code, b.currency"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("balance: trial balance: %w", err)
	}
	defer rows.Close()

	var out []TrialBalanceRow
	for rows.Next() {
		var r TrialBalanceRow
		if err := rows.Scan(&r.TenantID, &r.PeriodID, &r.AccountCode, &r.Currency,
			&r.DebitTotalMinor, &r.CreditTotalMinor, &r.NetBalanceMinor,
			&r.LastJournalEntryID, &r.UpdatedAt,
			&r.AccountName, &r.AccountType, &r.NormalBalance); err != nil {
			return nil, fmt.Errorf("balance: scan trial balance row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BalanceHistory returns every period's rollup for one account, newest
// period first.
func (s *Store) BalanceHistory(ctx context.Context, tenantID, accountCode string, currency *string) ([]Balance, error) {
	q := `
		SELECT b.tenant_id, b.period_id, b.account_code, b.currency,
		       b.debit_total_minor, b.credit_total_minor, b.net_balance_minor,
		       b.last_journal_entry_id, b.updated_at
		FROM account_balances b
		JOIN accounting_periods p ON p.id = b.period_id
		WHERE b.tenant_id = $1 AND b.account_code = $2
	`
	args := []any{tenantID, accountCode}
	if currency != nil {
		q += " AND b.currency = $3"
		args = append(args, *currency)
	}
	q += " ORDER BY p.period_start DESC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("balance: history: %w", err)
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.TenantID, &b.PeriodID, &b.AccountCode, &b.Currency, &b.DebitTotalMinor, &b.CreditTotalMinor, &b.NetBalanceMinor, &b.LastJournalEntryID, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("balance: scan history row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CountForPeriod returns the number of AccountBalance rows for a period —
// used by the close protocol's snapshot/hash computation.
func (s *Store) CountForPeriod(ctx context.Context, tenantID string, periodID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM account_balances WHERE tenant_id = $1 AND period_id = $2
	`, tenantID, periodID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("balance: count for period: %w", err)
	}
	return n, nil
}

// DeleteForPeriod removes every rollup row for a period — step 2 of the
// deterministic rebuild (spec.md §4.5).
func (s *Store) DeleteForPeriod(ctx context.Context, tenantID string, periodID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM account_balances WHERE tenant_id = $1 AND period_id = $2
	`, tenantID, periodID)
	if err != nil {
		return fmt.Errorf("balance: delete for period: %w", err)
	}
	return nil
}

// Insert writes a fresh rollup row (used by rebuild, which deletes then
// reinserts rather than additively upserting).
func (s *Store) Insert(ctx context.Context, b Balance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_balances
			(tenant_id, period_id, account_code, currency, debit_total_minor, credit_total_minor, net_balance_minor, last_journal_entry_id, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, b.TenantID, b.PeriodID, b.AccountCode, b.Currency, b.DebitTotalMinor, b.CreditTotalMinor, b.NetBalanceMinor, b.LastJournalEntryID, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("balance: insert rebuilt row: %w", err)
	}
	return nil
}
