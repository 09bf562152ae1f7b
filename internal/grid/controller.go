// Package grid reconciles raw cell edits against the ledger. Each
// (sheet, date, category) cell moves through a small state machine:
//
//	Clean -> Pending (edit accepted, debounce armed)
//	Pending -> InFlight (debounce fired, write issued)
//	InFlight -> Clean (write committed)
//	InFlight -> Clean (write failed, optimistic value rolled back)
//	InFlight -> Conflict (another writer owns the cell with a different value)
//
// Edits are applied optimistically before the write lands, debounced on the
// trailing edge so rapid typing produces one write, and serialized per cell
// so a cell never has two writes in flight. A newer edit supersedes an
// older one that has not been flushed yet.
package grid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gridbook/internal/core"
	"gridbook/internal/ledger"
	applog "gridbook/internal/log"
)

// Backend is the slice of the ledger service the controller drives.
type Backend interface {
	UpsertCell(ctx context.Context, edit ledger.CellEdit) (core.Entry, bool, error)
	GetCell(ctx context.Context, sheetID, pin string, date core.Date, category string) (core.Entry, error)
}

// Status is a cell's reconciliation state.
type Status int

const (
	StatusClean Status = iota
	StatusPending
	StatusInFlight
	StatusConflict
)

func (s Status) String() string {
	switch s {
	case StatusClean:
		return "clean"
	case StatusPending:
		return "pending"
	case StatusInFlight:
		return "in_flight"
	case StatusConflict:
		return "conflict"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Cell is a point-in-time view of one cell's reconciliation state.
type Cell struct {
	Status        Status
	Committed     core.Money // last value known to be persisted; zero means empty
	Optimistic    core.Money // value currently shown, may be ahead of Committed
	ConflictValue core.Money // server value when Status is Conflict and ConflictKnown
	ConflictKnown bool       // false when the server value could not be read back
	Err           error      // terminal error of the last flush, if any
}

// RawEdit is an uncommitted user edit of one cell.
type RawEdit struct {
	SheetID     string
	OwnerID     string
	Pin         string
	Date        core.Date
	Category    string
	RawValue    string // decimal text as typed; empty or "0" clears the cell
	Description string
}

type cellID struct {
	sheetID string
	key     core.CellKey
}

type cellState struct {
	mu            sync.Mutex
	status        Status
	committed     core.Money
	optimistic    core.Money
	conflict      core.Money
	conflictKnown bool
	lastErr       error

	pending *ledger.CellEdit // latest unflushed edit; supersedes older ones
	timer   *time.Timer
	flights sync.Mutex // held for the duration of one write
}

// Controller owns the per-cell state machines.
type Controller struct {
	backend  Backend
	interval time.Duration
	log      *applog.Logger

	mu    sync.Mutex
	cells map[cellID]*cellState
}

func NewController(backend Backend, debounce time.Duration, logger *applog.Logger) *Controller {
	return &Controller{
		backend:  backend,
		interval: debounce,
		log:      logger.WithComponent(applog.ComponentGrid),
		cells:    make(map[cellID]*cellState),
	}
}

func (c *Controller) cell(id cellID) *cellState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.cells[id]
	if !ok {
		st = &cellState{}
		c.cells[id] = st
	}
	return st
}

func parseEdit(raw RawEdit) (ledger.CellEdit, error) {
	if err := raw.Date.Validate(); err != nil {
		return ledger.CellEdit{}, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	value := raw.RawValue
	if value == "" {
		value = "0"
	}
	cents, err := core.ParseAmountToCents(value)
	if err != nil {
		return ledger.CellEdit{}, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	return ledger.CellEdit{
		SheetID:     raw.SheetID,
		OwnerID:     raw.OwnerID,
		Pin:         raw.Pin,
		Date:        raw.Date,
		Category:    core.NormalizeName(raw.Category),
		Amount:      core.Money{Cents: cents},
		Description: raw.Description,
	}, nil
}

// Submit accepts an edit, applies it optimistically and arms the trailing
// edge debounce. Validation failures are returned immediately and leave the
// cell untouched. The returned view reflects the optimistic state.
func (c *Controller) Submit(raw RawEdit) (Cell, error) {
	edit, err := parseEdit(raw)
	if err != nil {
		return Cell{}, err
	}
	id := cellID{sheetID: edit.SheetID, key: core.CellKey{Date: edit.Date, Category: edit.Category}}
	st := c.cell(id)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.optimistic = edit.Amount
	st.pending = &edit
	st.lastErr = nil
	if st.status != StatusInFlight {
		st.status = StatusPending
	}
	// Trailing edge: every keystroke restarts the clock.
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(c.interval, func() { c.flush(id, st) })
	return st.view(), nil
}

// Apply runs an edit through the same reconciliation path synchronously,
// bypassing the debounce. The HTTP surface uses this so a response carries
// the final state of the write.
func (c *Controller) Apply(ctx context.Context, raw RawEdit) (Cell, error) {
	edit, err := parseEdit(raw)
	if err != nil {
		return Cell{}, err
	}
	id := cellID{sheetID: edit.SheetID, key: core.CellKey{Date: edit.Date, Category: edit.Category}}
	st := c.cell(id)

	st.mu.Lock()
	st.optimistic = edit.Amount
	st.lastErr = nil
	st.status = StatusInFlight
	st.mu.Unlock()

	c.write(ctx, id, st, edit)

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.lastErr != nil {
		return st.view(), st.lastErr
	}
	return st.view(), nil
}

// State returns the current view of a cell without altering it.
func (c *Controller) State(sheetID string, date core.Date, category string) Cell {
	id := cellID{sheetID: sheetID, key: core.CellKey{Date: date, Category: core.NormalizeName(category)}}
	st := c.cell(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.view()
}

// ResolveConflict settles a conflicted cell. With acceptServer the server's
// value becomes the committed and displayed value; otherwise the user's
// intended value is re-submitted as a fresh edit.
func (c *Controller) ResolveConflict(ctx context.Context, raw RawEdit, acceptServer bool) (Cell, error) {
	edit, err := parseEdit(raw)
	if err != nil {
		return Cell{}, err
	}
	id := cellID{sheetID: edit.SheetID, key: core.CellKey{Date: edit.Date, Category: edit.Category}}
	st := c.cell(id)

	st.mu.Lock()
	if st.status != StatusConflict {
		view := st.view()
		st.mu.Unlock()
		return view, nil
	}
	if acceptServer {
		server := st.conflict
		known := st.conflictKnown
		st.mu.Unlock()
		if !known {
			// The conflicting value was never read back; fetch it now.
			current, gerr := c.backend.GetCell(ctx, edit.SheetID, edit.Pin, edit.Date, edit.Category)
			if gerr != nil && !core.IsNotFound(gerr) {
				return st.snapshot(), gerr
			}
			server = current.Amount
		}
		st.mu.Lock()
		if st.status != StatusConflict {
			// A newer edit settled the cell while we were refetching.
			view := st.view()
			st.mu.Unlock()
			return view, nil
		}
		st.committed = server
		st.optimistic = server
		st.conflict = core.Money{}
		st.conflictKnown = false
		st.lastErr = nil
		st.status = StatusClean
		view := st.view()
		st.mu.Unlock()
		return view, nil
	}
	st.conflict = core.Money{}
	st.conflictKnown = false
	st.lastErr = nil
	st.status = StatusClean
	st.mu.Unlock()
	return c.Apply(ctx, raw)
}

func (st *cellState) snapshot() Cell {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.view()
}

func (st *cellState) view() Cell {
	return Cell{
		Status:        st.status,
		Committed:     st.committed,
		Optimistic:    st.optimistic,
		ConflictValue: st.conflict,
		ConflictKnown: st.conflictKnown,
		Err:           st.lastErr,
	}
}

// flush is the debounce timer callback. It drains the pending edit and
// writes it; edits queued while the write is in flight trigger another
// flush afterwards, so per-cell order is preserved.
func (c *Controller) flush(id cellID, st *cellState) {
	st.mu.Lock()
	edit := st.pending
	if edit == nil {
		st.mu.Unlock()
		return
	}
	st.pending = nil
	st.status = StatusInFlight
	st.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c.write(ctx, id, st, *edit)

	st.mu.Lock()
	again := st.pending != nil
	if again && st.status == StatusConflict {
		// A newer local edit supersedes the conflicted write's outcome.
		st.conflict = core.Money{}
		st.conflictKnown = false
		st.lastErr = nil
		st.status = StatusPending
	}
	st.mu.Unlock()
	if again {
		c.flush(id, st)
	}
}

// write performs one serialized write for a cell and settles its state.
func (c *Controller) write(ctx context.Context, id cellID, st *cellState, edit ledger.CellEdit) {
	st.flights.Lock()
	defer st.flights.Unlock()

	entry, removed, err := c.backend.UpsertCell(ctx, edit)

	st.mu.Lock()
	defer st.mu.Unlock()

	switch {
	case err == nil:
		if removed {
			st.committed = core.Money{}
		} else {
			st.committed = entry.Amount
		}
		st.conflict = core.Money{}
		st.conflictKnown = false
		st.lastErr = nil
		if st.pending == nil {
			st.optimistic = st.committed
			st.status = StatusClean
		} else {
			st.status = StatusPending
		}

	case core.IsConflict(err):
		// Refetch and compare. An identical value means we raced a
		// write that wanted the same thing; anything else needs the
		// user's decision.
		current, gerr := c.backend.GetCell(ctx, edit.SheetID, edit.Pin, edit.Date, edit.Category)
		switch {
		case gerr == nil && current.Amount == edit.Amount:
			st.committed = current.Amount
			st.optimistic = st.committed
			st.conflict = core.Money{}
			st.conflictKnown = false
			st.lastErr = nil
			st.status = StatusClean
			return
		case gerr != nil:
			// The server value could not be read back; surface the
			// conflict with the value unknown rather than as zero.
			st.conflict = core.Money{}
			st.conflictKnown = false
			st.lastErr = fmt.Errorf("%w (reading server value: %v)", err, gerr)
		default:
			st.conflict = current.Amount
			st.conflictKnown = true
			st.lastErr = err
		}
		st.status = StatusConflict
		c.log.WarnContext(ctx, "cell conflict surfaced",
			applog.FieldSheetID, edit.SheetID,
			applog.FieldDate, edit.Date.String(),
			applog.FieldCategory, edit.Category)

	default:
		// Roll the optimistic value back to the last committed one.
		st.optimistic = st.committed
		st.status = StatusClean
		st.lastErr = err
		c.log.WarnContext(ctx, "cell write failed",
			applog.FieldSheetID, edit.SheetID,
			applog.FieldDate, edit.Date.String(),
			applog.FieldCategory, edit.Category,
			applog.FieldError, err)
	}
}
