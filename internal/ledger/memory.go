package ledger

import (
	"context"
	"sort"
	"sync"

	"gridbook/internal/core"
)

// MemoryStore is an in-memory Store with the same observable semantics as
// the SQLite repository. It backs tests and the `memory` data backend.
type MemoryStore struct {
	mu          sync.RWMutex
	sheets      map[string]core.Sheet
	pinHashes   map[string]string
	categories  map[string][]core.Category // by sheet id, display order
	entries     map[string]core.Entry      // by entry id
	annotations map[string][]core.Annotation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sheets:      make(map[string]core.Sheet),
		pinHashes:   make(map[string]string),
		categories:  make(map[string][]core.Category),
		entries:     make(map[string]core.Entry),
		annotations: make(map[string][]core.Annotation),
	}
}

func (m *MemoryStore) CreateSheet(_ context.Context, sheet core.Sheet, pinHash string, categories []core.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sheets {
		if s.OwnerID == sheet.OwnerID && s.Name == sheet.Name {
			return core.ConflictErrorf("sheet %q already exists", sheet.Name)
		}
	}
	m.sheets[sheet.ID] = sheet
	m.pinHashes[sheet.ID] = pinHash
	m.categories[sheet.ID] = append([]core.Category(nil), categories...)
	return nil
}

func (m *MemoryStore) GetSheet(_ context.Context, sheetID string) (core.Sheet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sheet, ok := m.sheets[sheetID]
	if !ok {
		return core.Sheet{}, core.NotFoundErrorf("sheet %s not found", sheetID)
	}
	return sheet, nil
}

func (m *MemoryStore) GetSheetPINHash(_ context.Context, sheetID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sheets[sheetID]; !ok {
		return "", core.NotFoundErrorf("sheet %s not found", sheetID)
	}
	return m.pinHashes[sheetID], nil
}

func (m *MemoryStore) ListSheets(_ context.Context, ownerID string) ([]core.Sheet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Sheet
	for _, s := range m.sheets {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListSheetIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sheets))
	for id := range m.sheets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) DeleteSheet(_ context.Context, sheetID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sheet, ok := m.sheets[sheetID]
	if !ok || sheet.OwnerID != ownerID {
		return core.NotFoundErrorf("sheet %s not found", sheetID)
	}
	delete(m.sheets, sheetID)
	delete(m.pinHashes, sheetID)
	delete(m.categories, sheetID)
	for id, e := range m.entries {
		if e.SheetID == sheetID {
			delete(m.entries, id)
			delete(m.annotations, id)
		}
	}
	return nil
}

func (m *MemoryStore) CreateCategory(_ context.Context, cat core.Category) (core.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sheets[cat.SheetID]; !ok {
		return core.Category{}, core.NotFoundErrorf("sheet %s not found", cat.SheetID)
	}
	cats := m.categories[cat.SheetID]
	order := 0
	for _, c := range cats {
		if c.Name == cat.Name {
			return core.Category{}, core.ConflictErrorf("category %q already exists", cat.Name)
		}
		if c.DisplayOrder >= order {
			order = c.DisplayOrder + 1
		}
	}
	cat.DisplayOrder = order
	m.categories[cat.SheetID] = append(cats, cat)
	return cat, nil
}

func (m *MemoryStore) GetCategory(_ context.Context, sheetID, name string) (core.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.categories[sheetID] {
		if c.Name == name {
			return c, nil
		}
	}
	return core.Category{}, core.NotFoundErrorf("category %q not found", name)
}

func (m *MemoryStore) ListCategories(_ context.Context, sheetID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cats := append([]core.Category(nil), m.categories[sheetID]...)
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].DisplayOrder != cats[j].DisplayOrder {
			return cats[i].DisplayOrder < cats[j].DisplayOrder
		}
		return cats[i].Name < cats[j].Name
	})
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	return names, nil
}

func (m *MemoryStore) RenameCategory(_ context.Context, sheetID, oldName, newName string) (core.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cats := m.categories[sheetID]
	idx := -1
	for i, c := range cats {
		if c.Name == newName {
			return core.Category{}, core.ConflictErrorf("category %q already exists", newName)
		}
		if c.Name == oldName {
			idx = i
		}
	}
	if idx < 0 {
		return core.Category{}, core.NotFoundErrorf("category %q not found", oldName)
	}
	cats[idx].Name = newName
	for id, e := range m.entries {
		if e.SheetID == sheetID && e.Category == oldName {
			e.Category = newName
			m.entries[id] = e
		}
	}
	return cats[idx], nil
}

func (m *MemoryStore) DeleteCategory(_ context.Context, sheetID, name string, sentinel core.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cats := m.categories[sheetID]
	idx := -1
	hasSentinel := false
	order := 0
	for i, c := range cats {
		if c.Name == name {
			idx = i
		}
		if c.Name == core.Uncategorized {
			hasSentinel = true
		}
		if c.DisplayOrder >= order {
			order = c.DisplayOrder + 1
		}
	}
	if idx < 0 {
		return core.NotFoundErrorf("category %q not found", name)
	}
	if !hasSentinel {
		sentinel.DisplayOrder = order
		cats = append(cats, sentinel)
	}

	// Reassign entries, resolving per-date collisions with the sentinel
	// column by the dedup rule: newest created_at, then greatest id.
	byCell := make(map[core.CellKey]core.Entry)
	for _, e := range m.entries {
		if e.SheetID == sheetID && e.Category == core.Uncategorized {
			byCell[e.Cell()] = e
		}
	}
	for id, e := range m.entries {
		if e.SheetID != sheetID || e.Category != name {
			continue
		}
		target := core.CellKey{Date: e.Date, Category: core.Uncategorized}
		if occupant, ok := byCell[target]; ok {
			loser := e
			if newerEntry(e, occupant) {
				loser = occupant
				e.Category = core.Uncategorized
				m.entries[id] = e
				byCell[target] = e
			}
			delete(m.entries, loser.ID)
			delete(m.annotations, loser.ID)
			continue
		}
		e.Category = core.Uncategorized
		m.entries[id] = e
		byCell[target] = e
	}

	m.categories[sheetID] = append(cats[:idx], cats[idx+1:]...)
	return nil
}

// newerEntry mirrors the dedup tie-break used everywhere else.
func newerEntry(a, b core.Entry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (m *MemoryStore) RewriteCategory(_ context.Context, sheetID, oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.SheetID == sheetID && e.Category == oldName {
			e.Category = newName
			m.entries[id] = e
		}
	}
	return nil
}

func (m *MemoryStore) CreateEntry(_ context.Context, e core.Entry) (core.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.entries {
		if existing.SheetID == e.SheetID && existing.Cell() == e.Cell() {
			return core.Entry{}, core.ConflictErrorf("entry already exists for %s/%s", e.Date, e.Category)
		}
	}
	m.entries[e.ID] = e
	return e, nil
}

func (m *MemoryStore) UpdateEntry(_ context.Context, entryID string, amount core.Money, description string) (core.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return core.Entry{}, core.NotFoundErrorf("entry %s not found", entryID)
	}
	e.Amount = amount
	e.Description = description
	m.entries[entryID] = e
	return e, nil
}

func (m *MemoryStore) GetEntry(_ context.Context, entryID string) (core.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[entryID]
	if !ok {
		return core.Entry{}, core.NotFoundErrorf("entry %s not found", entryID)
	}
	return e, nil
}

func (m *MemoryStore) GetEntryByCell(_ context.Context, sheetID string, date core.Date, category string) (core.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.SheetID == sheetID && e.Date == date && e.Category == category {
			return e, nil
		}
	}
	return core.Entry{}, core.NotFoundErrorf("no entry at %s/%s", date, category)
}

func (m *MemoryStore) DeleteEntry(_ context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, entryID)
	delete(m.annotations, entryID)
	return nil
}

func (m *MemoryStore) DeleteEntryByCell(_ context.Context, sheetID string, date core.Date, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.SheetID == sheetID && e.Date == date && e.Category == category {
			delete(m.entries, id)
			delete(m.annotations, id)
		}
	}
	return nil
}

func (m *MemoryStore) ListEntries(_ context.Context, sheetID string, from, to core.Date) ([]core.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Entry
	for _, e := range m.entries {
		if e.SheetID != sheetID {
			continue
		}
		if !from.IsZero() && e.Date.Before(from.Time) {
			continue
		}
		if !to.IsZero() && e.Date.After(to.Time) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.After(out[j].Date.Time)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) DeduplicateSheet(_ context.Context, sheetID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []core.Entry
	for _, e := range m.entries {
		if e.SheetID == sheetID {
			all = append(all, e)
		}
	}
	keep := core.Deduplicate(all)
	kept := make(map[string]bool, len(keep))
	for _, e := range keep {
		kept[e.ID] = true
	}
	removed := 0
	for _, e := range all {
		if !kept[e.ID] {
			delete(m.entries, e.ID)
			delete(m.annotations, e.ID)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) UpsertAnnotation(_ context.Context, a core.Annotation) (core.Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	notes := m.annotations[a.EntryID]
	for i, existing := range notes {
		if existing.Column == a.Column {
			existing.Description = a.Description
			notes[i] = existing
			return existing, nil
		}
	}
	m.annotations[a.EntryID] = append(notes, a)
	return a, nil
}

func (m *MemoryStore) ListAnnotations(_ context.Context, entryID string) ([]core.Annotation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	notes := append([]core.Annotation(nil), m.annotations[entryID]...)
	sort.Slice(notes, func(i, j int) bool { return notes[i].Column < notes[j].Column })
	return notes, nil
}

func (m *MemoryStore) DeleteAnnotation(_ context.Context, entryID, column string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	notes := m.annotations[entryID]
	for i, a := range notes {
		if a.Column == column {
			m.annotations[entryID] = append(notes[:i], notes[i+1:]...)
			return nil
		}
	}
	return nil
}
