// Package ledger implements the category registry and entry store contracts
// on top of a storage port, guarding every sheet operation behind the access
// check and publishing mirror-sync events after committed writes.
package ledger

import (
	"context"
	"time"

	"gridbook/internal/core"
)

// Store is the persistence port the service drives. SQLiteRepository is the
// production implementation; MemoryStore backs tests and the memory backend.
type Store interface {
	CreateSheet(ctx context.Context, sheet core.Sheet, pinHash string, categories []core.Category) error
	GetSheet(ctx context.Context, sheetID string) (core.Sheet, error)
	ListSheets(ctx context.Context, ownerID string) ([]core.Sheet, error)
	ListSheetIDs(ctx context.Context) ([]string, error)
	DeleteSheet(ctx context.Context, sheetID, ownerID string) error

	CreateCategory(ctx context.Context, cat core.Category) (core.Category, error)
	GetCategory(ctx context.Context, sheetID, name string) (core.Category, error)
	ListCategories(ctx context.Context, sheetID string) ([]string, error)
	RenameCategory(ctx context.Context, sheetID, oldName, newName string) (core.Category, error)
	RewriteCategory(ctx context.Context, sheetID, oldName, newName string) error
	DeleteCategory(ctx context.Context, sheetID, name string, sentinel core.Category) error

	CreateEntry(ctx context.Context, e core.Entry) (core.Entry, error)
	UpdateEntry(ctx context.Context, entryID string, amount core.Money, description string) (core.Entry, error)
	GetEntry(ctx context.Context, entryID string) (core.Entry, error)
	GetEntryByCell(ctx context.Context, sheetID string, date core.Date, category string) (core.Entry, error)
	DeleteEntry(ctx context.Context, entryID string) error
	DeleteEntryByCell(ctx context.Context, sheetID string, date core.Date, category string) error
	ListEntries(ctx context.Context, sheetID string, from, to core.Date) ([]core.Entry, error)
	DeduplicateSheet(ctx context.Context, sheetID string) (int, error)

	UpsertAnnotation(ctx context.Context, a core.Annotation) (core.Annotation, error)
	ListAnnotations(ctx context.Context, entryID string) ([]core.Annotation, error)
	DeleteAnnotation(ctx context.Context, entryID, column string) error
}

// AccessGuard answers whether a caller may touch a sheet. Denials are
// uniform and reveal nothing about the sheet's existence.
type AccessGuard interface {
	Check(ctx context.Context, sheetID, pin string) error
}

// EntryEvent describes a committed entry mutation for the mirror pipeline.
type EntryEvent struct {
	Action      string    `json:"action"`
	SheetID     string    `json:"sheet_id"`
	EntryID     string    `json:"entry_id"`
	OwnerID     string    `json:"owner_id"`
	Date        string    `json:"date"`
	Category    string    `json:"category"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Entry event actions.
const (
	ActionUpsert = "upsert"
	ActionDelete = "delete"
)

// Publisher forwards entry events to the mirror worker. Publishing is
// best-effort; a failure never rolls back the committed write.
type Publisher interface {
	PublishEntryEvent(ctx context.Context, ev EntryEvent) error
}
