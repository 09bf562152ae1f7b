package grid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gridbook/internal/core"
	"gridbook/internal/ledger"
	applog "gridbook/internal/log"
)

// fakeBackend records writes and can be told to fail or conflict. When
// started/block are set, each write announces itself and then waits, so a
// test can interleave submissions with an in-flight write.
type fakeBackend struct {
	mu         sync.Mutex
	cells      map[core.CellKey]core.Entry
	writes     []core.Money
	failWith   error
	conflict   bool
	conflictOn *core.Money // conflict only for this amount
	started    chan struct{}
	block      chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{cells: make(map[core.CellKey]core.Entry)}
}

func (f *fakeBackend) UpsertCell(_ context.Context, edit ledger.CellEdit) (core.Entry, bool, error) {
	f.mu.Lock()
	started, block := f.started, f.block
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return core.Entry{}, false, f.failWith
	}
	if f.conflict || (f.conflictOn != nil && edit.Amount == *f.conflictOn) {
		return core.Entry{}, false, core.ConflictErrorf("cell taken")
	}
	f.writes = append(f.writes, edit.Amount)
	key := core.CellKey{Date: edit.Date, Category: edit.Category}
	if edit.Amount.IsZero() {
		delete(f.cells, key)
		return core.Entry{}, true, nil
	}
	e := core.Entry{
		ID: "e1", SheetID: edit.SheetID, Date: edit.Date,
		Category: edit.Category, Amount: edit.Amount,
	}
	f.cells[key] = e
	return e, false, nil
}

func (f *fakeBackend) GetCell(_ context.Context, _, _ string, date core.Date, category string) (core.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.cells[core.CellKey{Date: date, Category: category}]
	if !ok {
		return core.Entry{}, core.NotFoundErrorf("empty cell")
	}
	return e, nil
}

func (f *fakeBackend) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func newTestController(backend Backend, debounce time.Duration) *Controller {
	return NewController(backend, debounce, applog.New(applog.DefaultConfig()))
}

func testEdit(raw string) RawEdit {
	return RawEdit{
		SheetID:  "sheet-1",
		OwnerID:  "owner-1",
		Date:     core.NewDate(2024, 3, 10),
		Category: "food",
		RawValue: raw,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSubmitDebouncesToOneWrite(t *testing.T) {
	backend := newFakeBackend()
	ctrl := newTestController(backend, 30*time.Millisecond)

	// Rapid typing: 4, 42, 42., 42.50. Only the final value may land.
	for _, raw := range []string{"4", "42", "42.", "42.50"} {
		cell, err := ctrl.Submit(testEdit(raw))
		if err != nil {
			t.Fatalf("submit %q: %v", raw, err)
		}
		if cell.Status != StatusPending {
			t.Fatalf("status after submit = %v, want pending", cell.Status)
		}
	}

	waitFor(t, func() bool {
		return ctrl.State("sheet-1", core.NewDate(2024, 3, 10), "food").Status == StatusClean
	})
	if n := backend.writeCount(); n != 1 {
		t.Fatalf("got %d writes, want exactly 1", n)
	}

	cell := ctrl.State("sheet-1", core.NewDate(2024, 3, 10), "food")
	if cell.Committed.Cents != 4250 {
		t.Fatalf("committed = %d, want 4250", cell.Committed.Cents)
	}
	if cell.Optimistic != cell.Committed {
		t.Fatalf("clean cell must show the committed value: %+v", cell)
	}
}

func TestSubmitRejectsBadDecimal(t *testing.T) {
	backend := newFakeBackend()
	ctrl := newTestController(backend, time.Millisecond)

	_, err := ctrl.Submit(testEdit("abc"))
	if !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	cell := ctrl.State("sheet-1", core.NewDate(2024, 3, 10), "food")
	if cell.Status != StatusClean || !cell.Optimistic.IsZero() {
		t.Fatalf("rejected edit must not touch the cell: %+v", cell)
	}
	if backend.writeCount() != 0 {
		t.Fatal("rejected edit must not reach the backend")
	}
}

func TestOptimisticRollbackOnFailure(t *testing.T) {
	backend := newFakeBackend()
	ctrl := newTestController(backend, time.Millisecond)
	ctx := context.Background()

	// Establish a committed value first.
	if _, err := ctrl.Apply(ctx, testEdit("10.00")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	backend.mu.Lock()
	backend.failWith = errors.New("backend down")
	backend.mu.Unlock()

	cell, err := ctrl.Apply(ctx, testEdit("99.99"))
	if err == nil {
		t.Fatal("expected write failure")
	}
	if cell.Optimistic.Cents != 1000 {
		t.Fatalf("optimistic value must roll back to committed 1000, got %d", cell.Optimistic.Cents)
	}
	if cell.Status != StatusClean {
		t.Fatalf("status = %v, want clean after rollback", cell.Status)
	}
}

func TestConflictIdenticalValueAutoResolves(t *testing.T) {
	backend := newFakeBackend()
	ctrl := newTestController(backend, time.Millisecond)
	ctx := context.Background()

	// The cell already holds the exact value the edit wants; the create
	// conflict is an idempotent race.
	key := core.CellKey{Date: core.NewDate(2024, 3, 10), Category: "food"}
	backend.cells[key] = core.Entry{ID: "other", Amount: core.Money{Cents: 4250}}
	backend.conflict = true

	cell, err := ctrl.Apply(ctx, testEdit("42.50"))
	if err != nil {
		t.Fatalf("idempotent conflict must resolve silently, got %v", err)
	}
	if cell.Status != StatusClean || cell.Committed.Cents != 4250 {
		t.Fatalf("cell = %+v, want clean at 4250", cell)
	}
}

func TestConflictDivergentValueSurfaces(t *testing.T) {
	backend := newFakeBackend()
	ctrl := newTestController(backend, time.Millisecond)
	ctx := context.Background()

	key := core.CellKey{Date: core.NewDate(2024, 3, 10), Category: "food"}
	backend.cells[key] = core.Entry{ID: "other", Amount: core.Money{Cents: 1111}}
	backend.conflict = true

	cell, err := ctrl.Apply(ctx, testEdit("42.50"))
	if !core.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if cell.Status != StatusConflict {
		t.Fatalf("status = %v, want conflict", cell.Status)
	}
	if cell.ConflictValue.Cents != 1111 {
		t.Fatalf("conflict value = %d, want the server's 1111", cell.ConflictValue.Cents)
	}

	// Accepting the server value settles the cell.
	resolved, err := ctrl.ResolveConflict(ctx, testEdit("42.50"), true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusClean || resolved.Committed.Cents != 1111 {
		t.Fatalf("resolved = %+v, want clean at 1111", resolved)
	}
	if resolved.Optimistic.Cents != 1111 {
		t.Fatalf("display must adopt the server value, got %d", resolved.Optimistic.Cents)
	}
}

func TestResolveConflictRetryIntended(t *testing.T) {
	backend := newFakeBackend()
	ctrl := newTestController(backend, time.Millisecond)
	ctx := context.Background()

	key := core.CellKey{Date: core.NewDate(2024, 3, 10), Category: "food"}
	backend.cells[key] = core.Entry{ID: "other", Amount: core.Money{Cents: 1111}}
	backend.conflict = true

	if _, err := ctrl.Apply(ctx, testEdit("42.50")); !core.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// The user insists on their value; the conflict is gone by now.
	backend.mu.Lock()
	backend.conflict = false
	backend.mu.Unlock()

	resolved, err := ctrl.ResolveConflict(ctx, testEdit("42.50"), false)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if resolved.Status != StatusClean || resolved.Committed.Cents != 4250 {
		t.Fatalf("resolved = %+v, want clean at 4250", resolved)
	}
}

func TestPendingEditSupersedesConflict(t *testing.T) {
	backend := newFakeBackend()
	ctrl := newTestController(backend, 5*time.Millisecond)

	// The first value conflicts against an occupant; the corrected value
	// typed while that write is in flight must still land.
	key := core.CellKey{Date: core.NewDate(2024, 3, 10), Category: "food"}
	backend.cells[key] = core.Entry{ID: "other", Amount: core.Money{Cents: 1111}}
	first := core.Money{Cents: 2000}
	backend.conflictOn = &first
	backend.started = make(chan struct{}, 4)
	backend.block = make(chan struct{})

	if _, err := ctrl.Submit(testEdit("20")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-backend.started
	if _, err := ctrl.Submit(testEdit("30")); err != nil {
		t.Fatalf("submit while in flight: %v", err)
	}
	close(backend.block)

	waitFor(t, func() bool {
		cell := ctrl.State("sheet-1", core.NewDate(2024, 3, 10), "food")
		return cell.Status == StatusClean && cell.Committed.Cents == 3000
	})
	cell := ctrl.State("sheet-1", core.NewDate(2024, 3, 10), "food")
	if cell.Optimistic.Cents != 3000 {
		t.Fatalf("display = %d, want the superseding 3000", cell.Optimistic.Cents)
	}
}

func TestConflictWithUnreadableServerValue(t *testing.T) {
	backend := newFakeBackend()
	ctrl := newTestController(backend, time.Millisecond)
	ctx := context.Background()

	// The write conflicts but the read-back finds nothing, so the server
	// value is unknown rather than zero.
	backend.conflict = true

	cell, err := ctrl.Apply(ctx, testEdit("20"))
	if !core.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if cell.Status != StatusConflict {
		t.Fatalf("status = %v, want conflict", cell.Status)
	}
	if cell.ConflictKnown {
		t.Fatalf("conflict value must be marked unknown: %+v", cell)
	}

	// Accepting the server side refetches; a missing cell settles at zero.
	resolved, err := ctrl.ResolveConflict(ctx, testEdit("20"), true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusClean || !resolved.Committed.IsZero() {
		t.Fatalf("resolved = %+v, want clean at zero", resolved)
	}
}

func TestClearCellThroughController(t *testing.T) {
	backend := newFakeBackend()
	ctrl := newTestController(backend, time.Millisecond)
	ctx := context.Background()

	if _, err := ctrl.Apply(ctx, testEdit("10.00")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cell, err := ctrl.Apply(ctx, testEdit(""))
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !cell.Committed.IsZero() || cell.Status != StatusClean {
		t.Fatalf("cleared cell = %+v, want empty and clean", cell)
	}
}

func TestEditsToDifferentCellsAreIndependent(t *testing.T) {
	backend := newFakeBackend()
	ctrl := newTestController(backend, 10*time.Millisecond)

	foodEdit := testEdit("10.00")
	transportEdit := testEdit("20.00")
	transportEdit.Category = "transport"

	if _, err := ctrl.Submit(foodEdit); err != nil {
		t.Fatalf("submit food: %v", err)
	}
	if _, err := ctrl.Submit(transportEdit); err != nil {
		t.Fatalf("submit transport: %v", err)
	}

	waitFor(t, func() bool { return backend.writeCount() == 2 })

	food := ctrl.State("sheet-1", core.NewDate(2024, 3, 10), "food")
	transport := ctrl.State("sheet-1", core.NewDate(2024, 3, 10), "transport")
	if food.Committed.Cents != 1000 || transport.Committed.Cents != 2000 {
		t.Fatalf("cells crossed: food=%+v transport=%+v", food, transport)
	}
}
