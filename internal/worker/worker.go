// Package worker runs the background side of the system: it drains the
// mirror queue into the Google Sheets mirror and sweeps duplicates on a
// cron schedule.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"gridbook/internal/ledger"
	applog "gridbook/internal/log"
)

// MirrorWriter reflects one committed entry event onto the mirror.
type MirrorWriter interface {
	Apply(ctx context.Context, ev ledger.EntryEvent) error
}

// Sweeper runs the cross-sheet deduplication pass.
type Sweeper interface {
	SweepAll(ctx context.Context) (int, error)
}

// MirrorWorker handles entry events from the queue. Errors bubble up so the
// consumer nacks and the broker redelivers.
type MirrorWorker struct {
	mirror MirrorWriter
	log    *applog.Logger
}

func NewMirrorWorker(mirror MirrorWriter, logger *applog.Logger) *MirrorWorker {
	return &MirrorWorker{
		mirror: mirror,
		log:    logger.WithComponent(applog.ComponentWorker),
	}
}

// HandleEntryEvent applies one event to the mirror.
func (w *MirrorWorker) HandleEntryEvent(ctx context.Context, ev ledger.EntryEvent) error {
	w.log.InfoContext(ctx, "processing entry event",
		"action", ev.Action,
		applog.FieldSheetID, ev.SheetID,
		applog.FieldEntryID, ev.EntryID)

	if err := w.mirror.Apply(ctx, ev); err != nil {
		return fmt.Errorf("apply to mirror: %w", err)
	}
	return nil
}

// SweepScheduler runs the dedup sweep on a cron schedule.
type SweepScheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	log     *applog.Logger
}

// NewSweepScheduler validates the standard 5-field cron spec and registers
// the sweep job. Start it with Start; Stop waits for a running job.
func NewSweepScheduler(schedule string, sweeper Sweeper, logger *applog.Logger) (*SweepScheduler, error) {
	s := &SweepScheduler{
		cron:    cron.New(),
		sweeper: sweeper,
		log:     logger.WithComponent(applog.ComponentWorker),
	}
	if _, err := s.cron.AddFunc(schedule, s.runSweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *SweepScheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	removed, err := s.sweeper.SweepAll(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "dedup sweep failed",
			applog.FieldOperation, applog.OpSweep,
			applog.FieldError, err)
		return
	}
	s.log.InfoContext(ctx, "dedup sweep finished",
		applog.FieldOperation, applog.OpSweep,
		applog.FieldRemoved, removed)
}

func (s *SweepScheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and blocks until any in-flight sweep returns.
func (s *SweepScheduler) Stop() {
	<-s.cron.Stop().Done()
}
