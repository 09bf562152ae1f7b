package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"gridbook/internal/core"
)

const entryColumns = `id, sheet_id, owner_id, date, category, amount_cents, description, created_at`

func scanEntry(row interface{ Scan(...any) error }) (core.Entry, error) {
	var (
		e         core.Entry
		date      string
		createdAt string
	)
	err := row.Scan(&e.ID, &e.SheetID, &e.OwnerID, &date, &e.Category, &e.Amount.Cents, &e.Description, &createdAt)
	if err != nil {
		return core.Entry{}, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Entry{}, fmt.Errorf("parse stored date %q: %w", date, err)
	}
	e.Date = d
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// CreateEntry inserts a new entry. The unique cell index is the source of
// truth for duplicates: a losing racer gets ErrConflict, never a second row.
func (r *SQLiteRepository) CreateEntry(ctx context.Context, e core.Entry) (core.Entry, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SheetID, e.OwnerID, e.Date.String(), e.Category, e.Amount.Cents, e.Description, formatTime(e.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Entry{}, core.ConflictErrorf("entry already exists for %s/%s", e.Date, e.Category)
		}
		return core.Entry{}, fmt.Errorf("insert entry: %w", err)
	}

	slog.InfoContext(ctx, "Entry created",
		"entry_id", e.ID,
		"sheet_id", e.SheetID,
		"date", e.Date.String(),
		"category", e.Category,
		"amount_cents", e.Amount.Cents)
	return e, nil
}

// UpdateEntry replaces the amount and description of an existing entry,
// keeping id and created_at stable.
func (r *SQLiteRepository) UpdateEntry(ctx context.Context, entryID string, amount core.Money, description string) (core.Entry, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entries SET amount_cents = ?, description = ? WHERE id = ?`,
		amount.Cents, description, entryID)
	if err != nil {
		return core.Entry{}, fmt.Errorf("update entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Entry{}, fmt.Errorf("update entry rows affected: %w", err)
	}
	if n == 0 {
		return core.Entry{}, core.NotFoundErrorf("entry %s", entryID)
	}
	return r.GetEntry(ctx, entryID)
}

// GetEntry returns an entry by id.
func (r *SQLiteRepository) GetEntry(ctx context.Context, entryID string) (core.Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ?`, entryID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return core.Entry{}, core.NotFoundErrorf("entry %s", entryID)
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("query entry: %w", err)
	}
	return e, nil
}

// GetEntryByCell returns the entry occupying one grid cell, if any.
func (r *SQLiteRepository) GetEntryByCell(ctx context.Context, sheetID string, date core.Date, category string) (core.Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE sheet_id = ? AND date = ? AND category = ?`,
		sheetID, date.String(), category)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return core.Entry{}, core.NotFoundErrorf("entry at %s/%s", date, category)
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("query entry by cell: %w", err)
	}
	return e, nil
}

// DeleteEntry removes an entry by id; its annotations cascade with it.
// Deleting an absent entry is a no-op.
func (r *SQLiteRepository) DeleteEntry(ctx context.Context, entryID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.InfoContext(ctx, "Entry deleted", "entry_id", entryID)
	}
	return nil
}

// DeleteEntryByCell clears one grid cell. No-op when the cell is empty.
func (r *SQLiteRepository) DeleteEntryByCell(ctx context.Context, sheetID string, date core.Date, category string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM entries WHERE sheet_id = ? AND date = ? AND category = ?`,
		sheetID, date.String(), category)
	if err != nil {
		return fmt.Errorf("delete entry by cell: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.InfoContext(ctx, "Cell cleared",
			"sheet_id", sheetID,
			"date", date.String(),
			"category", category)
	}
	return nil
}

// ListEntries returns a sheet's entries, optionally restricted to an
// inclusive date range (zero Dates mean unbounded), ordered by date
// descending then creation time descending.
func (r *SQLiteRepository) ListEntries(ctx context.Context, sheetID string, from, to core.Date) ([]core.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE sheet_id = ?`
	args := []any{sheetID}
	if !from.IsZero() {
		query += ` AND date >= ?`
		args = append(args, from.String())
	}
	if !to.IsZero() {
		query += ` AND date <= ?`
		args = append(args, to.String())
	}
	query += ` ORDER BY date DESC, created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []core.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// DeduplicateSheet collapses entries that illegally share a cell, keeping
// the winner under the core dedup rule. It returns the number of rows
// removed. The unique index makes new duplicates impossible; this cleans up
// state that predates it.
func (r *SQLiteRepository) DeduplicateSheet(ctx context.Context, sheetID string) (int, error) {
	var removed int
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+entryColumns+` FROM entries WHERE sheet_id = ?`, sheetID)
		if err != nil {
			return fmt.Errorf("query entries: %w", err)
		}
		defer rows.Close()

		var all []core.Entry
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return fmt.Errorf("scan entry: %w", err)
			}
			all = append(all, e)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate entries: %w", err)
		}

		survivors := core.Deduplicate(all)
		if len(survivors) == len(all) {
			return nil
		}
		keep := make(map[string]bool, len(survivors))
		for _, e := range survivors {
			keep[e.ID] = true
		}
		for _, e := range all {
			if keep[e.ID] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, e.ID); err != nil {
				return fmt.Errorf("delete duplicate entry %s: %w", e.ID, err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		slog.InfoContext(ctx, "Duplicate entries removed",
			"sheet_id", sheetID,
			"removed", removed)
	}
	return removed, nil
}
