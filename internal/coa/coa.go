// Package coa implements the chart-of-accounts master data (spec.md §4, C1):
// account code → (name, type, normal balance, active) lookups used to
// enforce that journal lines only post to known, active accounts.
package coa

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/withobsrvr/gl-ledger/internal/dbtx"
)

// AccountType is the classical five-way account classification.
type AccountType string

const (
	Asset     AccountType = "Asset"
	Liability AccountType = "Liability"
	Equity    AccountType = "Equity"
	Revenue   AccountType = "Revenue"
	Expense   AccountType = "Expense"
)

// NormalBalance is the side on which an account's balance conventionally accrues.
type NormalBalance string

const (
	Debit  NormalBalance = "Debit"
	Credit NormalBalance = "Credit"
)

// Account is the (tenant_id, code)-keyed master-data row.
type Account struct {
	TenantID      string
	Code          string
	Name          string
	Type          AccountType
	NormalBalance NormalBalance
	IsActive      bool
}

var ErrNotFound = errors.New("coa: account not found")
var ErrInactive = errors.New("coa: account inactive")

// Store resolves accounts for validation at posting time.
type Store struct {
	db dbtx.Querier
}

func NewStore(db dbtx.Querier) *Store {
	return &Store{db: db}
}

// WithQuerier returns a copy of the store bound to a different Querier
// (typically a transaction), per the dbtx composition pattern.
func (s *Store) WithQuerier(q dbtx.Querier) *Store {
	return &Store{db: q}
}

// Resolve looks up an account by (tenant_id, code). It returns ErrNotFound
// or ErrInactive as appropriate; callers decide how to surface those.
func (s *Store) Resolve(ctx context.Context, tenantID, code string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, code, name, type, normal_balance, is_active
		FROM accounts
		WHERE tenant_id = $1 AND code = $2
	`, tenantID, code)

	var a Account
	if err := row.Scan(&a.TenantID, &a.Code, &a.Name, &a.Type, &a.NormalBalance, &a.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("coa: resolve %s: %w", code, err)
	}
	if !a.IsActive {
		return nil, ErrInactive
	}
	return &a, nil
}

// ListActive returns all active accounts for a tenant, ordered by code. The
// trial balance does not call it; balance.Store.TrialBalance joins accounts
// in SQL.
func (s *Store) ListActive(ctx context.Context, tenantID string) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, code, name, type, normal_balance, is_active
		FROM accounts
		WHERE tenant_id = $1 AND is_active = true
		ORDER BY code
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("coa: list active: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.TenantID, &a.Code, &a.Name, &a.Type, &a.NormalBalance, &a.IsActive); err != nil {
			return nil, fmt.Errorf("coa: scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
