// Package period implements the accounting-period registry (spec.md §4, C2):
// period lookup by calendar date, and the close-state fields that gate
// every write-path component.
package period

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/withobsrvr/gl-ledger/internal/dbtx"
)

var ErrNotFound = errors.New("period: not found")
var ErrNoOpenPeriod = errors.New("period: no open period covers the given date")

// Period is a closed calendar interval over which balances are aggregated.
type Period struct {
	ID          uuid.UUID
	TenantID    string
	Start       time.Time
	End         time.Time
	ClosedAt    *time.Time
	CloseHash   *string
	ClosedBy    *string
	CloseReason *string
}

func (p Period) IsClosed() bool { return p.ClosedAt != nil }

// Store resolves and mutates period rows.
type Store struct {
	db dbtx.Querier
}

func NewStore(db dbtx.Querier) *Store { return &Store{db: db} }

func (s *Store) WithQuerier(q dbtx.Querier) *Store { return &Store{db: q} }

// FindOpenContaining returns the open period whose [start,end] covers date,
// for the given tenant. reversal calls this to resolve the period its entry
// posts into; posting uses FindContaining instead.
func (s *Store) FindOpenContaining(ctx context.Context, tenantID string, date time.Time) (*Period, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, period_start, period_end, closed_at, close_hash, closed_by, close_reason
		FROM accounting_periods
		WHERE tenant_id = $1 AND period_start <= $2 AND period_end >= $2 AND closed_at IS NULL
		ORDER BY period_start
		LIMIT 1
	`, tenantID, date)

	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoOpenPeriod
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindContaining returns the period (open or closed) whose [start,end]
// covers date, for the given tenant — used where the caller must
// distinguish "no period exists" from "period exists but is closed"
// (spec.md §4.1: PeriodClosed vs NoOpenPeriod are distinct failures).
func (s *Store) FindContaining(ctx context.Context, tenantID string, date time.Time) (*Period, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, period_start, period_end, closed_at, close_hash, closed_by, close_reason
		FROM accounting_periods
		WHERE tenant_id = $1 AND period_start <= $2 AND period_end >= $2
		ORDER BY period_start
		LIMIT 1
	`, tenantID, date)

	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoOpenPeriod
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindByID loads a period by (tenant_id, id), optionally locking the row
// (FOR UPDATE) to serialize concurrent close attempts.
func (s *Store) FindByID(ctx context.Context, tenantID string, id uuid.UUID, forUpdate bool) (*Period, error) {
	q := `
		SELECT id, tenant_id, period_start, period_end, closed_at, close_hash, closed_by, close_reason
		FROM accounting_periods
		WHERE tenant_id = $1 AND id = $2
	`
	if forUpdate {
		q += " FOR UPDATE"
	}
	row := s.db.QueryRowContext(ctx, q, tenantID, id)
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func scanPeriod(row *sql.Row) (*Period, error) {
	var p Period
	if err := row.Scan(&p.ID, &p.TenantID, &p.Start, &p.End, &p.ClosedAt, &p.CloseHash, &p.ClosedBy, &p.CloseReason); err != nil {
		return nil, err
	}
	return &p, nil
}

// TrySeal performs the compare-and-set close: it only writes when
// closed_at IS NULL, returning whether this call was the winning committer.
// Per spec.md §4.8, losing committers read back the winner's row instead.
func (s *Store) TrySeal(ctx context.Context, tenantID string, id uuid.UUID, closedBy, reason, closeHash string, closedAt time.Time) (won bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounting_periods
		SET closed_at = $1, closed_by = $2, close_reason = $3, close_hash = $4
		WHERE tenant_id = $5 AND id = $6 AND closed_at IS NULL
	`, closedAt, closedBy, reason, closeHash, tenantID, id)
	if err != nil {
		return false, fmt.Errorf("period: seal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("period: seal rows affected: %w", err)
	}
	return n == 1, nil
}
