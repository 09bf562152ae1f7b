package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"gridbook/internal/core"
)

// CreateCategory inserts a category, assigning the next display order.
// The name must already be normalized.
func (r *SQLiteRepository) CreateCategory(ctx context.Context, cat core.Category) (core.Category, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		order, err := nextDisplayOrder(ctx, tx, cat.SheetID)
		if err != nil {
			return err
		}
		cat.DisplayOrder = order
		_, err = tx.ExecContext(ctx,
			`INSERT INTO categories (id, sheet_id, name, display_order, created_at) VALUES (?, ?, ?, ?, ?)`,
			cat.ID, cat.SheetID, cat.Name, cat.DisplayOrder, formatTime(cat.CreatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return core.ConflictErrorf("category %q already exists", cat.Name)
			}
			return fmt.Errorf("insert category: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Category{}, err
	}

	slog.InfoContext(ctx, "Category created",
		"sheet_id", cat.SheetID,
		"category", cat.Name,
		"display_order", cat.DisplayOrder)
	return cat, nil
}

func nextDisplayOrder(ctx context.Context, tx *sql.Tx, sheetID string) (int, error) {
	var max sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(display_order) FROM categories WHERE sheet_id = ?`, sheetID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("query max display order: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

// GetCategory returns a category by normalized name.
func (r *SQLiteRepository) GetCategory(ctx context.Context, sheetID, name string) (core.Category, error) {
	var (
		c         core.Category
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, sheet_id, name, display_order, created_at FROM categories WHERE sheet_id = ? AND name = ?`,
		sheetID, name).
		Scan(&c.ID, &c.SheetID, &c.Name, &c.DisplayOrder, &createdAt)
	if err == sql.ErrNoRows {
		return core.Category{}, core.NotFoundErrorf("category %q", name)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("query category: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

// ListCategories returns category names ordered by display order, then name.
func (r *SQLiteRepository) ListCategories(ctx context.Context, sheetID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name FROM categories WHERE sheet_id = ? ORDER BY display_order ASC, name ASC`, sheetID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return names, nil
}

// RenameCategory updates the category row and rewrites every referencing
// entry in one transaction, so readers never observe the half-renamed state.
func (r *SQLiteRepository) RenameCategory(ctx context.Context, sheetID, oldName, newName string) (core.Category, error) {
	var renamed core.Category
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var createdAt string
		err := tx.QueryRowContext(ctx,
			`SELECT id, sheet_id, name, display_order, created_at FROM categories WHERE sheet_id = ? AND name = ?`,
			sheetID, oldName).
			Scan(&renamed.ID, &renamed.SheetID, &renamed.Name, &renamed.DisplayOrder, &createdAt)
		if err == sql.ErrNoRows {
			return core.NotFoundErrorf("category %q", oldName)
		}
		if err != nil {
			return fmt.Errorf("query category: %w", err)
		}
		renamed.CreatedAt = parseTime(createdAt)

		_, err = tx.ExecContext(ctx,
			`UPDATE categories SET name = ? WHERE id = ?`, newName, renamed.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return core.ConflictErrorf("category %q already exists", newName)
			}
			return fmt.Errorf("update category name: %w", err)
		}
		renamed.Name = newName

		if err := rewriteCategoryTx(ctx, tx, sheetID, oldName, newName); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return core.Category{}, err
	}

	slog.InfoContext(ctx, "Category renamed",
		"sheet_id", sheetID,
		"old_name", oldName,
		"new_name", newName)
	return renamed, nil
}

// DeleteCategory cascades referencing entries to the uncategorized sentinel
// (creating it on first use) and then removes the category row. Reassignment
// completes inside the same transaction as the delete, so entries never
// transiently reference a category that does not exist.
func (r *SQLiteRepository) DeleteCategory(ctx context.Context, sheetID, name string, sentinel core.Category) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var categoryID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM categories WHERE sheet_id = ? AND name = ?`, sheetID, name).Scan(&categoryID)
		if err == sql.ErrNoRows {
			return core.NotFoundErrorf("category %q", name)
		}
		if err != nil {
			return fmt.Errorf("query category: %w", err)
		}

		if err := ensureSentinelTx(ctx, tx, sheetID, sentinel); err != nil {
			return err
		}
		if err := reassignEntriesTx(ctx, tx, sheetID, name, core.Uncategorized); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, categoryID); err != nil {
			return fmt.Errorf("delete category: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Category deleted",
		"sheet_id", sheetID,
		"category", name)
	return nil
}

// ensureSentinelTx lazily creates the uncategorized category.
func ensureSentinelTx(ctx context.Context, tx *sql.Tx, sheetID string, sentinel core.Category) error {
	var exists int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM categories WHERE sheet_id = ? AND name = ?`,
		sheetID, core.Uncategorized).Scan(&exists)
	if err != nil {
		return fmt.Errorf("query sentinel category: %w", err)
	}
	if exists > 0 {
		return nil
	}
	order, err := nextDisplayOrder(ctx, tx, sheetID)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO categories (id, sheet_id, name, display_order, created_at) VALUES (?, ?, ?, ?, ?)`,
		sentinel.ID, sheetID, core.Uncategorized, order, formatTime(sentinel.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert sentinel category: %w", err)
	}
	return nil
}

// reassignEntriesTx moves entries from one category to another. When both
// categories hold an entry for the same date, the cell keeps the winner
// under the dedup rule (newest created_at, then greatest id) and the loser
// is dropped, so the unique cell index holds after the move.
func reassignEntriesTx(ctx context.Context, tx *sql.Tx, sheetID, from, to string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM entries
		WHERE sheet_id = ?1 AND category IN (?2, ?3) AND EXISTS (
			SELECT 1 FROM entries other
			WHERE other.sheet_id = entries.sheet_id
			  AND other.date = entries.date
			  AND other.category IN (?2, ?3)
			  AND other.id != entries.id
			  AND (other.created_at > entries.created_at
			       OR (other.created_at = entries.created_at AND other.id > entries.id))
		)`, sheetID, from, to)
	if err != nil {
		return fmt.Errorf("drop colliding entries: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE entries SET category = ? WHERE sheet_id = ? AND category = ?`, to, sheetID, from)
	if err != nil {
		return fmt.Errorf("reassign entries: %w", err)
	}
	return nil
}

// rewriteCategoryTx bulk-renames the denormalized category on entries.
func rewriteCategoryTx(ctx context.Context, tx *sql.Tx, sheetID, oldName, newName string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE entries SET category = ? WHERE sheet_id = ? AND category = ?`, newName, sheetID, oldName)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ConflictErrorf("entries already exist under category %q", newName)
		}
		return fmt.Errorf("rewrite entry category: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.DebugContext(ctx, "Entry categories rewritten",
			"sheet_id", sheetID,
			"old_name", oldName,
			"new_name", newName,
			"rows", n)
	}
	return nil
}

// RewriteCategory is the standalone all-or-nothing bulk rename of the
// denormalized category name across a sheet's entries.
func (r *SQLiteRepository) RewriteCategory(ctx context.Context, sheetID, oldName, newName string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		return rewriteCategoryTx(ctx, tx, sheetID, oldName, newName)
	})
}
