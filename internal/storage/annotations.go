package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"gridbook/internal/core"
)

// UpsertAnnotation stores a note for an (entry, column) pair, replacing any
// previous one in place.
func (r *SQLiteRepository) UpsertAnnotation(ctx context.Context, a core.Annotation) (core.Annotation, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var existingID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM annotations WHERE entry_id = ? AND column_name = ?`,
			a.EntryID, a.Column).Scan(&existingID)
		switch {
		case err == sql.ErrNoRows:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO annotations (id, entry_id, owner_id, column_name, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
				a.ID, a.EntryID, a.OwnerID, a.Column, a.Description, formatTime(a.CreatedAt))
			if err != nil {
				if isUniqueViolation(err) {
					return core.ConflictErrorf("annotation already exists for column %q", a.Column)
				}
				return fmt.Errorf("insert annotation: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("query annotation: %w", err)
		default:
			a.ID = existingID
			_, err = tx.ExecContext(ctx,
				`UPDATE annotations SET description = ? WHERE id = ?`, a.Description, existingID)
			if err != nil {
				return fmt.Errorf("update annotation: %w", err)
			}
			return nil
		}
	})
	if err != nil {
		return core.Annotation{}, err
	}

	slog.InfoContext(ctx, "Annotation saved",
		"entry_id", a.EntryID,
		"column", a.Column)
	return a, nil
}

// ListAnnotations returns all annotations for an entry.
func (r *SQLiteRepository) ListAnnotations(ctx context.Context, entryID string) ([]core.Annotation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entry_id, owner_id, column_name, description, created_at FROM annotations WHERE entry_id = ? ORDER BY column_name`,
		entryID)
	if err != nil {
		return nil, fmt.Errorf("query annotations: %w", err)
	}
	defer rows.Close()

	var notes []core.Annotation
	for rows.Next() {
		var (
			a         core.Annotation
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.EntryID, &a.OwnerID, &a.Column, &a.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		notes = append(notes, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return notes, nil
}

// DeleteAnnotation clears one note. Clearing an absent note is a no-op; the
// entry it belonged to is left intact either way.
func (r *SQLiteRepository) DeleteAnnotation(ctx context.Context, entryID, column string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM annotations WHERE entry_id = ? AND column_name = ?`, entryID, column)
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.InfoContext(ctx, "Annotation cleared", "entry_id", entryID, "column", column)
	}
	return nil
}
