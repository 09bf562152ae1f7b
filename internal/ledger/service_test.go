package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"gridbook/internal/core"
	applog "gridbook/internal/log"
)

// openGuard admits everything; pin enforcement has its own tests in the
// access package.
type openGuard struct{}

func (openGuard) Check(context.Context, string, string) error { return nil }

type denyGuard struct{}

func (denyGuard) Check(context.Context, string, string) error { return core.ErrAccessDenied }

type capturePublisher struct {
	events []EntryEvent
}

func (p *capturePublisher) PublishEntryEvent(_ context.Context, ev EntryEvent) error {
	p.events = append(p.events, ev)
	return nil
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *capturePublisher) {
	t.Helper()
	store := NewMemoryStore()
	pub := &capturePublisher{}
	svc := NewService(store, openGuard{}, pub, applog.New(applog.DefaultConfig()))
	return svc, store, pub
}

func mustCreateSheet(t *testing.T, svc *Service) core.Sheet {
	t.Helper()
	sheet, err := svc.CreateSheet(context.Background(), "owner-1", "Household", "")
	if err != nil {
		t.Fatalf("create sheet: %v", err)
	}
	return sheet
}

func TestCreateSheetSeedsDefaultCategories(t *testing.T) {
	svc, _, _ := newTestService(t)
	sheet := mustCreateSheet(t, svc)

	if sheet.Name != "household" {
		t.Fatalf("name not normalized: %q", sheet.Name)
	}
	names, err := svc.ListCategories(context.Background(), sheet.ID, "")
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	if len(names) != len(core.DefaultCategories) {
		t.Fatalf("got %d default categories, want %d", len(names), len(core.DefaultCategories))
	}
	for i, want := range core.DefaultCategories {
		if names[i] != want {
			t.Fatalf("category[%d] = %q, want %q", i, names[i], want)
		}
	}
}

func TestCreateSheetValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateSheet(ctx, "", "x", ""); !core.IsValidation(err) {
		t.Fatalf("empty owner: got %v", err)
	}
	if _, err := svc.CreateSheet(ctx, "owner-1", "   ", ""); !core.IsValidation(err) {
		t.Fatalf("blank name: got %v", err)
	}
	if _, err := svc.CreateSheet(ctx, "owner-1", "vault", "12"); !core.IsValidation(err) {
		t.Fatalf("short pin: got %v", err)
	}
}

func TestUpsertCellCreatesThenUpdates(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()
	sheet := mustCreateSheet(t, svc)
	date := core.NewDate(2024, 3, 10)

	edit := CellEdit{
		SheetID: sheet.ID, OwnerID: "owner-1",
		Date: date, Category: "food", Amount: core.Money{Cents: 4250},
	}
	first, removed, err := svc.UpsertCell(ctx, edit)
	if err != nil || removed {
		t.Fatalf("first upsert: removed=%v err=%v", removed, err)
	}

	edit.Amount = core.Money{Cents: 9900}
	second, removed, err := svc.UpsertCell(ctx, edit)
	if err != nil || removed {
		t.Fatalf("second upsert: removed=%v err=%v", removed, err)
	}
	if second.ID != first.ID {
		t.Fatalf("second upsert created a new entry: %s vs %s", second.ID, first.ID)
	}
	if second.Amount.Cents != 9900 {
		t.Fatalf("amount = %d, want 9900", second.Amount.Cents)
	}

	entries, err := svc.ListEntries(ctx, sheet.ID, "", core.Date{}, core.Date{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("one cell must hold one entry, got %d", len(entries))
	}

	if len(pub.events) != 2 || pub.events[0].Action != ActionUpsert || pub.events[1].Action != ActionUpsert {
		t.Fatalf("expected two upsert events, got %+v", pub.events)
	}
}

func TestUpsertCellZeroAmountClears(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()
	sheet := mustCreateSheet(t, svc)
	date := core.NewDate(2024, 3, 10)

	edit := CellEdit{
		SheetID: sheet.ID, OwnerID: "owner-1",
		Date: date, Category: "food", Amount: core.Money{Cents: 4250},
	}
	if _, _, err := svc.UpsertCell(ctx, edit); err != nil {
		t.Fatalf("seed: %v", err)
	}

	edit.Amount = core.Money{}
	_, removed, err := svc.UpsertCell(ctx, edit)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !removed {
		t.Fatal("zero amount must clear the cell")
	}
	entries, err := svc.ListEntries(ctx, sheet.ID, "", core.Date{}, core.Date{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("cell should be empty, got %d entries", len(entries))
	}
	if last := pub.events[len(pub.events)-1]; last.Action != ActionDelete {
		t.Fatalf("expected delete event, got %+v", last)
	}

	// Clearing an already empty cell is a quiet no-op.
	before := len(pub.events)
	_, removed, err = svc.UpsertCell(ctx, edit)
	if err != nil || !removed {
		t.Fatalf("second clear: removed=%v err=%v", removed, err)
	}
	if len(pub.events) != before {
		t.Fatal("clearing an empty cell must not publish")
	}
}

func TestUpsertCellUnknownCategory(t *testing.T) {
	svc, _, _ := newTestService(t)
	sheet := mustCreateSheet(t, svc)
	_, _, err := svc.UpsertCell(context.Background(), CellEdit{
		SheetID: sheet.ID, OwnerID: "owner-1",
		Date: core.NewDate(2024, 3, 10), Category: "rocketry",
		Amount: core.Money{Cents: 100},
	})
	if !core.IsNotFound(err) {
		t.Fatalf("expected not found for unknown category, got %v", err)
	}
}

func TestUpsertCellRaceIdempotentResolution(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	sheet := mustCreateSheet(t, svc)
	date := core.NewDate(2024, 3, 10)

	// Another writer lands the same amount between the read and the
	// insert; the race is idempotent and must resolve silently.
	raced := &racingStore{
		MemoryStore: store, sheetID: sheet.ID, date: date,
		category: "food", winnerCents: 7700,
	}
	svc.store = raced

	entry, removed, err := svc.UpsertCell(ctx, CellEdit{
		SheetID: sheet.ID, OwnerID: "owner-1",
		Date: date, Category: "food", Amount: core.Money{Cents: 7700},
	})
	if err != nil || removed {
		t.Fatalf("idempotent race must resolve: removed=%v err=%v", removed, err)
	}
	if entry.ID != raced.winnerID {
		t.Fatalf("resolved entry should be the winner's row, got %s want %s", entry.ID, raced.winnerID)
	}
	entries, err := store.ListEntries(ctx, sheet.ID, core.Date{}, core.Date{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("race must leave exactly one entry, got %d", len(entries))
	}
}

func TestUpsertCellRaceDivergentSurfacesConflict(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	sheet := mustCreateSheet(t, svc)
	date := core.NewDate(2024, 3, 10)

	// The competing writer wants a different amount; the loser must see
	// the conflict, not silently overwrite.
	raced := &racingStore{
		MemoryStore: store, sheetID: sheet.ID, date: date,
		category: "food", winnerCents: 1,
	}
	svc.store = raced

	_, _, err := svc.UpsertCell(ctx, CellEdit{
		SheetID: sheet.ID, OwnerID: "owner-1",
		Date: date, Category: "food", Amount: core.Money{Cents: 7700},
	})
	if !core.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	winner, err := store.GetEntry(ctx, raced.winnerID)
	if err != nil {
		t.Fatalf("winner lookup: %v", err)
	}
	if winner.Amount.Cents != 1 {
		t.Fatalf("winner must be untouched, got %d cents", winner.Amount.Cents)
	}
}

// racingStore injects a competing entry right before the first CreateEntry.
type racingStore struct {
	*MemoryStore
	sheetID     string
	date        core.Date
	category    string
	winnerCents int64
	winnerID    string
	fired       bool
}

func (r *racingStore) CreateEntry(ctx context.Context, e core.Entry) (core.Entry, error) {
	if !r.fired && e.SheetID == r.sheetID && e.Date == r.date && e.Category == r.category {
		r.fired = true
		winner := e
		winner.ID = "zz-winner"
		winner.Amount = core.Money{Cents: r.winnerCents}
		if _, err := r.MemoryStore.CreateEntry(ctx, winner); err != nil {
			return core.Entry{}, err
		}
		r.winnerID = winner.ID
	}
	return r.MemoryStore.CreateEntry(ctx, e)
}

func TestRenameCategoryCascades(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sheet := mustCreateSheet(t, svc)

	for day := 1; day <= 2; day++ {
		_, _, err := svc.UpsertCell(ctx, CellEdit{
			SheetID: sheet.ID, OwnerID: "owner-1",
			Date: core.NewDate(2024, 3, day), Category: "food",
			Amount: core.Money{Cents: 5000},
		})
		if err != nil {
			t.Fatalf("seed day %d: %v", day, err)
		}
	}

	if _, err := svc.RenameCategory(ctx, sheet.ID, "", "Food", "Groceries"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	entries, err := svc.ListEntries(ctx, sheet.ID, "", core.Date{}, core.Date{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, e := range entries {
		if e.Category != "groceries" {
			t.Fatalf("entry not rewritten: %+v", e)
		}
	}
	names, err := svc.ListCategories(ctx, sheet.ID, "")
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	for _, n := range names {
		if n == "food" {
			t.Fatal("old name still registered")
		}
	}
}

func TestDeleteCategoryMovesEntriesToSentinel(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sheet := mustCreateSheet(t, svc)

	if _, _, err := svc.UpsertCell(ctx, CellEdit{
		SheetID: sheet.ID, OwnerID: "owner-1",
		Date: core.NewDate(2024, 3, 1), Category: "food",
		Amount: core.Money{Cents: 3000},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := svc.DeleteCategory(ctx, sheet.ID, "", "food"); err != nil {
		t.Fatalf("delete category: %v", err)
	}
	entries, err := svc.ListEntries(ctx, sheet.ID, "", core.Date{}, core.Date{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Category != core.Uncategorized {
		t.Fatalf("entry not reassigned: %+v", entries)
	}

	if err := svc.DeleteCategory(ctx, sheet.ID, "", core.Uncategorized); !core.IsValidation(err) {
		t.Fatalf("sentinel delete must be rejected, got %v", err)
	}
}

func TestAnnotationRequiresEntry(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Annotate(context.Background(), "ghost-entry", "owner-1", "", "", "note")
	if !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAnnotateDefaultsColumn(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sheet := mustCreateSheet(t, svc)

	entry, _, err := svc.UpsertCell(ctx, CellEdit{
		SheetID: sheet.ID, OwnerID: "owner-1",
		Date: core.NewDate(2024, 3, 1), Category: "food",
		Amount: core.Money{Cents: 3000},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	note, err := svc.Annotate(ctx, entry.ID, "owner-1", "", "", "split with flatmate")
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if note.Column != core.DefaultNotesColumn {
		t.Fatalf("column = %q, want %q", note.Column, core.DefaultNotesColumn)
	}

	// Re-annotating the same column replaces, never duplicates.
	if _, err := svc.Annotate(ctx, entry.ID, "owner-1", "", "notes", "actually solo"); err != nil {
		t.Fatalf("re-annotate: %v", err)
	}
	notes, err := svc.ListAnnotations(ctx, entry.ID, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(notes) != 1 || notes[0].Description != "actually solo" {
		t.Fatalf("annotations = %+v", notes)
	}
}

func TestAnalyticsUsesRegistryOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sheet := mustCreateSheet(t, svc)

	seed := []struct {
		date  core.Date
		cat   string
		cents int64
	}{
		{core.NewDate(2024, 3, 1), "food", 10000},
		{core.NewDate(2024, 3, 15), "transport", 2500},
		{core.NewDate(2024, 2, 20), "food", 10000},
	}
	for _, s := range seed {
		if _, _, err := svc.UpsertCell(ctx, CellEdit{
			SheetID: sheet.ID, OwnerID: "owner-1",
			Date: s.date, Category: s.cat, Amount: core.Money{Cents: s.cents},
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	got, err := svc.Analytics(ctx, sheet.ID, "", core.Month{Year: 2024, Month: time.March})
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if got.CurrentMonthTotal.Cents != 12500 {
		t.Fatalf("current month total = %d, want 12500", got.CurrentMonthTotal.Cents)
	}
	if got.PreviousMonthTotal.Cents != 10000 {
		t.Fatalf("previous month total = %d, want 10000", got.PreviousMonthTotal.Cents)
	}
	if got.PercentChange != 25.0 {
		t.Fatalf("percent change = %v, want 25", got.PercentChange)
	}
	if len(got.Categories) != len(core.DefaultCategories) {
		t.Fatalf("categories should be the full registry list, got %v", got.Categories)
	}
}

func TestGuardDenialShortCircuits(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, denyGuard{}, nil, applog.New(applog.DefaultConfig()))
	ctx := context.Background()

	if _, err := svc.GetSheet(ctx, "any", ""); !errors.Is(err, core.ErrAccessDenied) {
		t.Fatalf("GetSheet: %v", err)
	}
	if _, err := svc.ListCategories(ctx, "any", ""); !errors.Is(err, core.ErrAccessDenied) {
		t.Fatalf("ListCategories: %v", err)
	}
	if _, _, err := svc.UpsertCell(ctx, CellEdit{SheetID: "any"}); !errors.Is(err, core.ErrAccessDenied) {
		t.Fatalf("UpsertCell: %v", err)
	}
	if _, err := svc.Deduplicate(ctx, "any", ""); !errors.Is(err, core.ErrAccessDenied) {
		t.Fatalf("Deduplicate: %v", err)
	}
}

// Knowing an entry id must not bypass the sheet's protection: every
// entry-scoped operation resolves the entry's sheet and runs the guard.
func TestEntryScopedOperationsRunTheGuard(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	sheet := mustCreateSheet(t, svc)

	entry, _, err := svc.UpsertCell(ctx, CellEdit{
		SheetID: sheet.ID, OwnerID: "owner-1",
		Date: core.NewDate(2024, 3, 1), Category: "food",
		Amount: core.Money{Cents: 3000},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	locked := NewService(store, denyGuard{}, nil, applog.New(applog.DefaultConfig()))
	if _, err := locked.GetEntry(ctx, entry.ID, ""); !errors.Is(err, core.ErrAccessDenied) {
		t.Fatalf("GetEntry: %v", err)
	}
	if _, err := locked.Annotate(ctx, entry.ID, "owner-1", "", "", "note"); !errors.Is(err, core.ErrAccessDenied) {
		t.Fatalf("Annotate: %v", err)
	}
	if _, err := locked.ListAnnotations(ctx, entry.ID, ""); !errors.Is(err, core.ErrAccessDenied) {
		t.Fatalf("ListAnnotations: %v", err)
	}
	if err := locked.ClearAnnotation(ctx, entry.ID, "", "notes"); !errors.Is(err, core.ErrAccessDenied) {
		t.Fatalf("ClearAnnotation: %v", err)
	}
	if err := locked.DeleteEntry(ctx, entry.ID, ""); !errors.Is(err, core.ErrAccessDenied) {
		t.Fatalf("DeleteEntry: %v", err)
	}
}

func TestSweepAll(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	sheet := mustCreateSheet(t, svc)

	// Plant a duplicate cell directly in the store, as legacy data would.
	older := core.Entry{
		ID: "aaa", SheetID: sheet.ID, OwnerID: "owner-1",
		Date: core.NewDate(2024, 1, 5), Category: "food",
		Amount: core.Money{Cents: 100}, CreatedAt: time.Now().Add(-time.Hour),
	}
	newer := older
	newer.ID = "bbb"
	newer.Amount = core.Money{Cents: 200}
	newer.CreatedAt = time.Now()
	store.entries[older.ID] = older
	store.entries[newer.ID] = newer

	removed, err := svc.SweepAll(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := store.entries["bbb"]; !ok {
		t.Fatal("newest entry must survive the sweep")
	}
	if _, ok := store.entries["aaa"]; ok {
		t.Fatal("older duplicate must be removed")
	}
}
