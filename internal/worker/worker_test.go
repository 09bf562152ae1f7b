package worker

import (
	"context"
	"errors"
	"testing"

	"gridbook/internal/ledger"
	applog "gridbook/internal/log"
)

type fakeMirror struct {
	applied []ledger.EntryEvent
	fail    error
}

func (f *fakeMirror) Apply(_ context.Context, ev ledger.EntryEvent) error {
	if f.fail != nil {
		return f.fail
	}
	f.applied = append(f.applied, ev)
	return nil
}

func TestHandleEntryEvent(t *testing.T) {
	mirror := &fakeMirror{}
	w := NewMirrorWorker(mirror, applog.New(applog.DefaultConfig()))

	ev := ledger.EntryEvent{
		Action: ledger.ActionUpsert, SheetID: "s1", EntryID: "e1",
		Date: "2024-03-10", Category: "food", AmountCents: 4250,
	}
	if err := w.HandleEntryEvent(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(mirror.applied) != 1 || mirror.applied[0].EntryID != "e1" {
		t.Fatalf("applied = %+v", mirror.applied)
	}
}

func TestHandleEntryEventPropagatesFailure(t *testing.T) {
	mirror := &fakeMirror{fail: errors.New("mirror down")}
	w := NewMirrorWorker(mirror, applog.New(applog.DefaultConfig()))

	err := w.HandleEntryEvent(context.Background(), ledger.EntryEvent{Action: ledger.ActionUpsert})
	if err == nil {
		t.Fatal("failure must propagate so the delivery is nacked")
	}
}

type fakeSweeper struct {
	calls int
}

func (f *fakeSweeper) SweepAll(context.Context) (int, error) {
	f.calls++
	return 0, nil
}

func TestNewSweepSchedulerValidatesSpec(t *testing.T) {
	logger := applog.New(applog.DefaultConfig())

	if _, err := NewSweepScheduler("@hourly", &fakeSweeper{}, logger); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	if _, err := NewSweepScheduler("not a cron spec", &fakeSweeper{}, logger); err == nil {
		t.Fatal("invalid spec must be rejected")
	}
}
