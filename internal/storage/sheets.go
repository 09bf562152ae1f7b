package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"gridbook/internal/core"
)

// CreateSheet inserts a sheet and its default categories in one transaction.
// The pinHash is empty for unprotected sheets.
func (r *SQLiteRepository) CreateSheet(ctx context.Context, sheet core.Sheet, pinHash string, categories []core.Category) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sheets (id, owner_id, name, pin_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
			sheet.ID, sheet.OwnerID, sheet.Name, pinHash, formatTime(sheet.CreatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return core.ConflictErrorf("sheet %q already exists for owner", sheet.Name)
			}
			return fmt.Errorf("insert sheet: %w", err)
		}
		for _, c := range categories {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO categories (id, sheet_id, name, display_order, created_at) VALUES (?, ?, ?, ?, ?)`,
				c.ID, c.SheetID, c.Name, c.DisplayOrder, formatTime(c.CreatedAt))
			if err != nil {
				return fmt.Errorf("insert default category %q: %w", c.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Sheet created",
		"sheet_id", sheet.ID,
		"owner_id", sheet.OwnerID,
		"categories", len(categories))
	return nil
}

// GetSheet returns a sheet by id.
func (r *SQLiteRepository) GetSheet(ctx context.Context, sheetID string) (core.Sheet, error) {
	var (
		s         core.Sheet
		pinHash   string
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, pin_hash, created_at FROM sheets WHERE id = ?`, sheetID).
		Scan(&s.ID, &s.OwnerID, &s.Name, &pinHash, &createdAt)
	if err == sql.ErrNoRows {
		return core.Sheet{}, core.NotFoundErrorf("sheet %s", sheetID)
	}
	if err != nil {
		return core.Sheet{}, fmt.Errorf("query sheet: %w", err)
	}
	s.HasPIN = pinHash != ""
	s.CreatedAt = parseTime(createdAt)
	return s, nil
}

// GetSheetPINHash returns the stored bcrypt hash for a sheet, empty when the
// sheet is unprotected. A missing sheet is reported as ErrNotFound; the
// access guard maps that to a generic denial.
func (r *SQLiteRepository) GetSheetPINHash(ctx context.Context, sheetID string) (string, error) {
	var pinHash string
	err := r.db.QueryRowContext(ctx,
		`SELECT pin_hash FROM sheets WHERE id = ?`, sheetID).Scan(&pinHash)
	if err == sql.ErrNoRows {
		return "", core.NotFoundErrorf("sheet %s", sheetID)
	}
	if err != nil {
		return "", fmt.Errorf("query sheet pin: %w", err)
	}
	return pinHash, nil
}

// ListSheets returns all sheets owned by ownerID, newest first.
func (r *SQLiteRepository) ListSheets(ctx context.Context, ownerID string) ([]core.Sheet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, name, pin_hash, created_at FROM sheets WHERE owner_id = ? ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("query sheets: %w", err)
	}
	defer rows.Close()

	var sheets []core.Sheet
	for rows.Next() {
		var (
			s         core.Sheet
			pinHash   string
			createdAt string
		)
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Name, &pinHash, &createdAt); err != nil {
			return nil, fmt.Errorf("scan sheet: %w", err)
		}
		s.HasPIN = pinHash != ""
		s.CreatedAt = parseTime(createdAt)
		sheets = append(sheets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sheets: %w", err)
	}
	return sheets, nil
}

// ListSheetIDs returns every sheet id, for maintenance sweeps.
func (r *SQLiteRepository) ListSheetIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM sheets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query sheet ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sheet id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sheet ids: %w", err)
	}
	return ids, nil
}

// DeleteSheet removes a sheet owned by ownerID. Categories, entries and
// annotations go with it through the ON DELETE CASCADE foreign keys.
func (r *SQLiteRepository) DeleteSheet(ctx context.Context, sheetID, ownerID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sheets WHERE id = ? AND owner_id = ?`, sheetID, ownerID)
	if err != nil {
		return fmt.Errorf("delete sheet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete sheet rows affected: %w", err)
	}
	if n == 0 {
		return core.NotFoundErrorf("sheet %s", sheetID)
	}

	slog.InfoContext(ctx, "Sheet deleted", "sheet_id", sheetID, "owner_id", ownerID)
	return nil
}
