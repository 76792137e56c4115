// Package journal implements the persisted, immutable-after-commit journal
// entries and lines (spec.md §4, C3).
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/withobsrvr/gl-ledger/internal/dbtx"
)

var ErrNotFound = errors.New("journal: entry not found")

// Dimensions carries the optional analytical tags a line may bear.
type Dimensions struct {
	Customer   *string
	Vendor     *string
	Location   *string
	Job        *string
	Department *string
	Class      *string
	Project    *string
}

// Line is one side of a double-entry posting.
type Line struct {
	ID            uuid.UUID
	JournalEntryID uuid.UUID
	LineNo        int
	AccountRef    string
	DebitMinor    int64
	CreditMinor   int64
	Memo          string
	Dimensions    Dimensions
}

// Entry is the header row of a posting or reversal.
type Entry struct {
	ID              uuid.UUID
	TenantID        string
	SourceModule    string
	SourceEventID   uuid.UUID
	SourceSubject   string
	PostedAt        time.Time
	Currency        string
	Description     string
	ReversesEntryID *uuid.UUID
	Lines           []Line
}

// Store persists journal entries and lines. All writes happen inside the
// caller's transaction (see internal/dbtx); Store never opens one itself.
type Store struct {
	db dbtx.Querier
}

func NewStore(db dbtx.Querier) *Store { return &Store{db: db} }

func (s *Store) WithQuerier(q dbtx.Querier) *Store { return &Store{db: q} }

// Insert writes the entry header and its lines (with dense line numbers
// 1..N) in a single call. The caller supplies a fresh UUID for e.ID.
func (s *Store) Insert(ctx context.Context, e *Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal_entries
			(id, tenant_id, source_module, source_event_id, source_subject, posted_at, currency, description, reverses_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.TenantID, e.SourceModule, e.SourceEventID, e.SourceSubject, e.PostedAt, e.Currency, e.Description, e.ReversesEntryID)
	if err != nil {
		return fmt.Errorf("journal: insert entry: %w", err)
	}

	for i := range e.Lines {
		l := &e.Lines[i]
		l.JournalEntryID = e.ID
		l.LineNo = i + 1
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO journal_lines
				(id, journal_entry_id, line_no, account_ref, debit_minor, credit_minor, memo,
				 dim_customer, dim_vendor, dim_location, dim_job, dim_department, dim_class, dim_project)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`, l.ID, l.JournalEntryID, l.LineNo, l.AccountRef, l.DebitMinor, l.CreditMinor, l.Memo,
			l.Dimensions.Customer, l.Dimensions.Vendor, l.Dimensions.Location,
			l.Dimensions.Job, l.Dimensions.Department, l.Dimensions.Class, l.Dimensions.Project)
		if err != nil {
			return fmt.Errorf("journal: insert line %d: %w", l.LineNo, err)
		}
	}
	return nil
}

// FindByID loads an entry and its lines, optionally row-locking the header
// (FOR UPDATE) so the reversal service can serialize concurrent reversals
// of the same entry.
func (s *Store) FindByID(ctx context.Context, tenantID string, id uuid.UUID, forUpdate bool) (*Entry, error) {
	q := `
		SELECT id, tenant_id, source_module, source_event_id, source_subject, posted_at, currency, description, reverses_entry_id
		FROM journal_entries
		WHERE tenant_id = $1 AND id = $2
	`
	if forUpdate {
		q += " FOR UPDATE"
	}
	row := s.db.QueryRowContext(ctx, q, tenantID, id)

	var e Entry
	if err := row.Scan(&e.ID, &e.TenantID, &e.SourceModule, &e.SourceEventID, &e.SourceSubject, &e.PostedAt, &e.Currency, &e.Description, &e.ReversesEntryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("journal: find entry: %w", err)
	}

	lines, err := s.linesFor(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	e.Lines = lines
	return &e, nil
}

func (s *Store) linesFor(ctx context.Context, entryID uuid.UUID) ([]Line, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, journal_entry_id, line_no, account_ref, debit_minor, credit_minor, memo,
		       dim_customer, dim_vendor, dim_location, dim_job, dim_department, dim_class, dim_project
		FROM journal_lines
		WHERE journal_entry_id = $1
		ORDER BY line_no
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("journal: lines for entry: %w", err)
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.JournalEntryID, &l.LineNo, &l.AccountRef, &l.DebitMinor, &l.CreditMinor, &l.Memo,
			&l.Dimensions.Customer, &l.Dimensions.Vendor, &l.Dimensions.Location,
			&l.Dimensions.Job, &l.Dimensions.Department, &l.Dimensions.Class, &l.Dimensions.Project); err != nil {
			return nil, fmt.Errorf("journal: scan line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ExistsReversalOf reports whether any entry already reverses originalID —
// used by the reversal service to reject a second reversal of the same
// original.
func (s *Store) ExistsReversalOf(ctx context.Context, tenantID string, originalID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM journal_entries
			WHERE tenant_id = $1 AND reverses_entry_id = $2
		)
	`, tenantID, originalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("journal: check reversal existence: %w", err)
	}
	return exists, nil
}

// ForPeriod returns every entry (header + lines) whose posted_at falls
// within [start,end] for tenantID, ordered by (posted_at, id) — the replay
// order used by the rebuild tool and the close snapshot. end is inclusive,
// matching period.go and rebuild.go's treatment of period_end.
func (s *Store) ForPeriod(ctx context.Context, tenantID string, start, end time.Time) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, source_module, source_event_id, source_subject, posted_at, currency, description, reverses_entry_id
		FROM journal_entries
		WHERE tenant_id = $1 AND posted_at >= $2 AND posted_at <= $3
		ORDER BY posted_at, id
	`, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("journal: entries for period: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.SourceModule, &e.SourceEventID, &e.SourceSubject, &e.PostedAt, &e.Currency, &e.Description, &e.ReversesEntryID); err != nil {
			return nil, fmt.Errorf("journal: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range entries {
		lines, err := s.linesFor(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Lines = lines
	}
	return entries, nil
}
