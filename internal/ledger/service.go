package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gridbook/internal/access"
	"gridbook/internal/core"
	applog "gridbook/internal/log"
)

// Service is the application service behind the HTTP and worker surfaces.
// Every sheet-scoped operation runs the access check first.
type Service struct {
	store     Store
	guard     AccessGuard
	publisher Publisher
	log       *applog.Logger
	now       func() time.Time
}

func NewService(store Store, guard AccessGuard, publisher Publisher, logger *applog.Logger) *Service {
	return &Service{
		store:     store,
		guard:     guard,
		publisher: publisher,
		log:       logger.WithComponent(applog.ComponentLedger),
		now:       time.Now,
	}
}

// CreateSheet creates a sheet with the default category set. The PIN is
// optional; when present it must be 4 digits and is stored bcrypt-hashed.
func (s *Service) CreateSheet(ctx context.Context, ownerID, name, pin string) (core.Sheet, error) {
	if ownerID == "" {
		return core.Sheet{}, fmt.Errorf("%w: %w", core.ErrValidation, core.ErrEmptyOwner)
	}
	name = core.NormalizeName(name)
	if err := core.ValidateName(name); err != nil {
		return core.Sheet{}, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	pinHash, err := access.HashPIN(pin)
	if err != nil {
		return core.Sheet{}, err
	}

	sheet := core.Sheet{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		HasPIN:    pinHash != "",
		CreatedAt: s.now().UTC(),
	}
	categories := make([]core.Category, 0, len(core.DefaultCategories))
	for i, cname := range core.DefaultCategories {
		categories = append(categories, core.Category{
			ID:           uuid.NewString(),
			SheetID:      sheet.ID,
			Name:         cname,
			DisplayOrder: i,
			CreatedAt:    sheet.CreatedAt,
		})
	}
	if err := s.store.CreateSheet(ctx, sheet, pinHash, categories); err != nil {
		return core.Sheet{}, fmt.Errorf("creating sheet: %w", err)
	}
	s.log.InfoContext(ctx, "sheet created",
		applog.FieldOperation, applog.OpCreate,
		applog.FieldSheetID, sheet.ID,
		applog.FieldOwnerID, ownerID)
	return sheet, nil
}

func (s *Service) ListSheets(ctx context.Context, ownerID string) ([]core.Sheet, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, core.ErrEmptyOwner)
	}
	return s.store.ListSheets(ctx, ownerID)
}

func (s *Service) GetSheet(ctx context.Context, sheetID, pin string) (core.Sheet, error) {
	if err := s.guard.Check(ctx, sheetID, pin); err != nil {
		return core.Sheet{}, err
	}
	return s.store.GetSheet(ctx, sheetID)
}

// DeleteSheet destroys a sheet and everything under it. Only the owner may
// delete, and the PIN gate applies like any other operation.
func (s *Service) DeleteSheet(ctx context.Context, sheetID, ownerID, pin string) error {
	if err := s.guard.Check(ctx, sheetID, pin); err != nil {
		return err
	}
	if err := s.store.DeleteSheet(ctx, sheetID, ownerID); err != nil {
		return fmt.Errorf("deleting sheet: %w", err)
	}
	s.log.InfoContext(ctx, "sheet deleted",
		applog.FieldOperation, applog.OpDelete,
		applog.FieldSheetID, sheetID)
	return nil
}

// CheckAccess runs the PIN gate without touching anything else. The HTTP
// layer exposes it so a client can verify a PIN before loading a sheet.
func (s *Service) CheckAccess(ctx context.Context, sheetID, pin string) error {
	return s.guard.Check(ctx, sheetID, pin)
}

// CreateCategory registers a new category at the end of the display order.
func (s *Service) CreateCategory(ctx context.Context, sheetID, pin, name string) (core.Category, error) {
	if err := s.guard.Check(ctx, sheetID, pin); err != nil {
		return core.Category{}, err
	}
	name = core.NormalizeName(name)
	if err := core.ValidateName(name); err != nil {
		return core.Category{}, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	cat, err := s.store.CreateCategory(ctx, core.Category{
		ID:        uuid.NewString(),
		SheetID:   sheetID,
		Name:      name,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return core.Category{}, fmt.Errorf("creating category: %w", err)
	}
	s.log.InfoContext(ctx, "category created",
		applog.FieldOperation, applog.OpCreate,
		applog.FieldSheetID, sheetID,
		applog.FieldCategory, cat.Name)
	return cat, nil
}

// RenameCategory renames a category and rewrites every entry referencing it
// in the same transaction, so readers never observe a half-renamed sheet.
func (s *Service) RenameCategory(ctx context.Context, sheetID, pin, oldName, newName string) (core.Category, error) {
	if err := s.guard.Check(ctx, sheetID, pin); err != nil {
		return core.Category{}, err
	}
	oldName = core.NormalizeName(oldName)
	newName = core.NormalizeName(newName)
	if err := core.ValidateName(newName); err != nil {
		return core.Category{}, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	if oldName == newName {
		return s.store.GetCategory(ctx, sheetID, oldName)
	}
	cat, err := s.store.RenameCategory(ctx, sheetID, oldName, newName)
	if err != nil {
		return core.Category{}, fmt.Errorf("renaming category: %w", err)
	}
	s.log.InfoContext(ctx, "category renamed",
		applog.FieldOperation, applog.OpRename,
		applog.FieldSheetID, sheetID,
		applog.FieldOldName, oldName,
		applog.FieldNewName, newName)
	return cat, nil
}

// DeleteCategory removes a category, moving its entries to the
// `uncategorized` sentinel. The sentinel itself cannot be deleted.
func (s *Service) DeleteCategory(ctx context.Context, sheetID, pin, name string) error {
	if err := s.guard.Check(ctx, sheetID, pin); err != nil {
		return err
	}
	name = core.NormalizeName(name)
	if name == core.Uncategorized {
		return core.ValidationErrorf("the %s category cannot be deleted", core.Uncategorized)
	}
	sentinel := core.Category{
		ID:        uuid.NewString(),
		SheetID:   sheetID,
		Name:      core.Uncategorized,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.DeleteCategory(ctx, sheetID, name, sentinel); err != nil {
		return fmt.Errorf("deleting category: %w", err)
	}
	s.log.InfoContext(ctx, "category deleted",
		applog.FieldOperation, applog.OpDelete,
		applog.FieldSheetID, sheetID,
		applog.FieldCategory, name)
	return nil
}

func (s *Service) ListCategories(ctx context.Context, sheetID, pin string) ([]string, error) {
	if err := s.guard.Check(ctx, sheetID, pin); err != nil {
		return nil, err
	}
	return s.store.ListCategories(ctx, sheetID)
}

// CellEdit is one upsert against a grid cell.
type CellEdit struct {
	SheetID     string
	OwnerID     string
	Pin         string
	Date        core.Date
	Category    string
	Amount      core.Money
	Description string
}

// UpsertCell sets the value of one (date, category) cell. A zero amount
// clears the cell. Returns the resulting entry; removed reports that the
// cell was cleared (the entry is zero-valued in that case).
//
// A concurrent create racing on the same cell loses at the unique index.
// The loss resolves silently only when the surviving row carries the same
// amount the loser wanted; otherwise the conflict is returned for the
// reconciliation layer to surface.
func (s *Service) UpsertCell(ctx context.Context, edit CellEdit) (entry core.Entry, removed bool, err error) {
	if err := s.guard.Check(ctx, edit.SheetID, edit.Pin); err != nil {
		return core.Entry{}, false, err
	}
	edit.Category = core.NormalizeName(edit.Category)
	if err := edit.Date.Validate(); err != nil {
		return core.Entry{}, false, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	// The cell must address an existing registry column.
	if _, err := s.store.GetCategory(ctx, edit.SheetID, edit.Category); err != nil {
		return core.Entry{}, false, err
	}

	if edit.Amount.IsZero() {
		existing, err := s.store.GetEntryByCell(ctx, edit.SheetID, edit.Date, edit.Category)
		if core.IsNotFound(err) {
			return core.Entry{}, true, nil
		}
		if err != nil {
			return core.Entry{}, false, err
		}
		if err := s.store.DeleteEntryByCell(ctx, edit.SheetID, edit.Date, edit.Category); err != nil {
			return core.Entry{}, false, fmt.Errorf("clearing cell: %w", err)
		}
		s.publishEntryEvent(ctx, ActionDelete, existing)
		return core.Entry{}, true, nil
	}

	entry, err = s.applyCell(ctx, edit)
	if err != nil {
		return core.Entry{}, false, err
	}
	s.publishEntryEvent(ctx, ActionUpsert, entry)
	return entry, false, nil
}

func (s *Service) applyCell(ctx context.Context, edit CellEdit) (core.Entry, error) {
	existing, err := s.store.GetEntryByCell(ctx, edit.SheetID, edit.Date, edit.Category)
	switch {
	case err == nil:
		return s.store.UpdateEntry(ctx, existing.ID, edit.Amount, edit.Description)
	case !core.IsNotFound(err):
		return core.Entry{}, err
	}

	candidate := core.Entry{
		ID:          uuid.NewString(),
		SheetID:     edit.SheetID,
		OwnerID:     edit.OwnerID,
		Date:        edit.Date,
		Category:    edit.Category,
		Amount:      edit.Amount,
		Description: edit.Description,
		CreatedAt:   s.now().UTC(),
	}
	if err := candidate.Validate(); err != nil {
		return core.Entry{}, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	created, err := s.store.CreateEntry(ctx, candidate)
	if core.IsConflict(err) {
		// Lost the race on the unique cell index. Only an idempotent
		// race resolves silently: the surviving row already holds the
		// intended amount. Anything else surfaces the conflict.
		winner, gerr := s.store.GetEntryByCell(ctx, edit.SheetID, edit.Date, edit.Category)
		if gerr != nil {
			return core.Entry{}, fmt.Errorf("resolving cell conflict: %w", gerr)
		}
		if winner.Amount == edit.Amount {
			return winner, nil
		}
		return core.Entry{}, err
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("creating entry: %w", err)
	}
	return created, nil
}

// GetCell returns the entry occupying a (date, category) cell, or a
// not-found error when the cell is empty.
func (s *Service) GetCell(ctx context.Context, sheetID, pin string, date core.Date, category string) (core.Entry, error) {
	if err := s.guard.Check(ctx, sheetID, pin); err != nil {
		return core.Entry{}, err
	}
	return s.store.GetEntryByCell(ctx, sheetID, date, core.NormalizeName(category))
}

func (s *Service) ListEntries(ctx context.Context, sheetID, pin string, from, to core.Date) ([]core.Entry, error) {
	if err := s.guard.Check(ctx, sheetID, pin); err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, sheetID, from, to)
}

// guardedEntry resolves an entry and runs the PIN gate of its sheet. Every
// entry-scoped operation goes through here so knowing an entry id never
// bypasses a sheet's protection.
func (s *Service) guardedEntry(ctx context.Context, entryID, pin string) (core.Entry, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return core.Entry{}, err
	}
	if err := s.guard.Check(ctx, entry.SheetID, pin); err != nil {
		return core.Entry{}, err
	}
	return entry, nil
}

func (s *Service) GetEntry(ctx context.Context, entryID, pin string) (core.Entry, error) {
	return s.guardedEntry(ctx, entryID, pin)
}

// DeleteEntry removes an entry by id; its annotations go with it.
func (s *Service) DeleteEntry(ctx context.Context, entryID, pin string) error {
	entry, err := s.guardedEntry(ctx, entryID, pin)
	if err != nil {
		return err
	}
	if err := s.store.DeleteEntry(ctx, entryID); err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	s.publishEntryEvent(ctx, ActionDelete, entry)
	return nil
}

// Annotate sets the note for (entry, column), replacing any existing one.
func (s *Service) Annotate(ctx context.Context, entryID, ownerID, pin, column, description string) (core.Annotation, error) {
	if column == "" {
		column = core.DefaultNotesColumn
	}
	a := core.Annotation{
		ID:          uuid.NewString(),
		EntryID:     entryID,
		OwnerID:     ownerID,
		Column:      core.NormalizeName(column),
		Description: description,
		CreatedAt:   s.now().UTC(),
	}
	if err := a.Validate(); err != nil {
		return core.Annotation{}, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	// The entry must exist; annotations never dangle.
	if _, err := s.guardedEntry(ctx, entryID, pin); err != nil {
		return core.Annotation{}, err
	}
	saved, err := s.store.UpsertAnnotation(ctx, a)
	if err != nil {
		return core.Annotation{}, fmt.Errorf("saving annotation: %w", err)
	}
	return saved, nil
}

func (s *Service) ListAnnotations(ctx context.Context, entryID, pin string) ([]core.Annotation, error) {
	if _, err := s.guardedEntry(ctx, entryID, pin); err != nil {
		return nil, err
	}
	return s.store.ListAnnotations(ctx, entryID)
}

func (s *Service) ClearAnnotation(ctx context.Context, entryID, pin, column string) error {
	if _, err := s.guardedEntry(ctx, entryID, pin); err != nil {
		return err
	}
	if column == "" {
		column = core.DefaultNotesColumn
	}
	return s.store.DeleteAnnotation(ctx, entryID, core.NormalizeName(column))
}

// Deduplicate collapses duplicate cells left over from before the unique
// index existed. Returns the number of entries removed.
func (s *Service) Deduplicate(ctx context.Context, sheetID, pin string) (int, error) {
	if err := s.guard.Check(ctx, sheetID, pin); err != nil {
		return 0, err
	}
	removed, err := s.store.DeduplicateSheet(ctx, sheetID)
	if err != nil {
		return 0, fmt.Errorf("deduplicating sheet: %w", err)
	}
	if removed > 0 {
		s.log.InfoContext(ctx, "duplicates removed",
			applog.FieldOperation, applog.OpDedup,
			applog.FieldSheetID, sheetID,
			applog.FieldRemoved, removed)
	}
	return removed, nil
}

// SweepAll runs deduplication across every sheet. Used by the scheduled
// maintenance sweep; individual sheet failures are logged, not fatal.
func (s *Service) SweepAll(ctx context.Context) (int, error) {
	ids, err := s.store.ListSheetIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing sheets for sweep: %w", err)
	}
	total := 0
	for _, id := range ids {
		removed, err := s.store.DeduplicateSheet(ctx, id)
		if err != nil {
			s.log.ErrorContext(ctx, "sweep failed for sheet",
				applog.FieldOperation, applog.OpSweep,
				applog.FieldSheetID, id,
				applog.FieldError, err)
			continue
		}
		total += removed
	}
	return total, nil
}

// Analytics computes the aggregation response for one month from a
// deduplicated snapshot of the sheet's entries.
func (s *Service) Analytics(ctx context.Context, sheetID, pin string, month core.Month) (core.Analytics, error) {
	if err := s.guard.Check(ctx, sheetID, pin); err != nil {
		return core.Analytics{}, err
	}
	categories, err := s.store.ListCategories(ctx, sheetID)
	if err != nil {
		return core.Analytics{}, fmt.Errorf("listing categories: %w", err)
	}
	entries, err := s.store.ListEntries(ctx, sheetID, core.Date{}, core.Date{})
	if err != nil {
		return core.Analytics{}, fmt.Errorf("listing entries: %w", err)
	}
	return core.ComputeAnalytics(entries, categories, month), nil
}

func (s *Service) publishEntryEvent(ctx context.Context, action string, e core.Entry) {
	if s.publisher == nil {
		return
	}
	ev := EntryEvent{
		Action:      action,
		SheetID:     e.SheetID,
		EntryID:     e.ID,
		OwnerID:     e.OwnerID,
		Date:        e.Date.String(),
		Category:    e.Category,
		AmountCents: e.Amount.Cents,
		Description: e.Description,
		OccurredAt:  s.now().UTC(),
	}
	if err := s.publisher.PublishEntryEvent(ctx, ev); err != nil {
		s.log.WarnContext(ctx, "mirror event not published",
			applog.FieldOperation, applog.OpMirror,
			applog.FieldSheetID, e.SheetID,
			applog.FieldEntryID, e.ID,
			applog.FieldError, err)
	}
}
