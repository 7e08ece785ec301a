package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/uzulabs/gridsync/internal/types"
)

// SyncRunner runs the scheduled incremental sync.
// Implemented by syncer.Syncer.
type SyncRunner interface {
	DailyIncrementalSync(ctx context.Context, trigger string) (*types.RunSummary, error)
}

// Guard is the single-flight lock shared by the scheduler and the
// manual API trigger. Overlapping runs are rejected, never queued.
type Guard struct {
	running atomic.Bool
}

// TryAcquire claims the guard. Returns false if a run is in flight.
func (g *Guard) TryAcquire() bool {
	return g.running.CompareAndSwap(false, true)
}

// Release frees the guard after a run completes.
func (g *Guard) Release() {
	g.running.Store(false)
}

// Busy reports whether a run is currently in flight.
func (g *Guard) Busy() bool {
	return g.running.Load()
}

// SyncCoordinator runs the daily incremental sync on a cron schedule.
type SyncCoordinator struct {
	runner   SyncRunner
	guard    *Guard
	schedule string
	loc      *time.Location
}

// NewSyncCoordinator creates a coordinator for the given cron expression,
// evaluated in the destination's civil timezone.
func NewSyncCoordinator(runner SyncRunner, guard *Guard, schedule string, loc *time.Location) *SyncCoordinator {
	if loc == nil {
		loc = time.Local
	}
	return &SyncCoordinator{
		runner:   runner,
		guard:    guard,
		schedule: schedule,
		loc:      loc,
	}
}

// Run starts the scheduler loop. It blocks until ctx is cancelled, then
// waits for any in-flight job to finish.
func (c *SyncCoordinator) Run(ctx context.Context) error {
	scheduler := cron.New(cron.WithLocation(c.loc))
	if _, err := scheduler.AddFunc(c.schedule, func() { c.trigger(ctx) }); err != nil {
		return err
	}

	slog.Info("sync coordinator started",
		"component", "worker",
		"worker", "sync-coordinator",
		"schedule", c.schedule,
		"timezone", c.loc.String(),
	)

	scheduler.Start()
	<-ctx.Done()

	stopped := scheduler.Stop()
	<-stopped.Done()

	slog.Info("sync coordinator stopped",
		"component", "worker",
		"worker", "sync-coordinator",
		"reason", "context_cancelled",
	)
	return nil
}

// trigger runs one scheduled sync under the single-flight guard.
func (c *SyncCoordinator) trigger(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !c.guard.TryAcquire() {
		slog.Warn("scheduled sync skipped, a run is already in flight",
			"component", "worker",
			"worker", "sync-coordinator",
		)
		return
	}
	defer c.guard.Release()

	start := time.Now()
	summary, err := c.runner.DailyIncrementalSync(ctx, "schedule")
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("scheduled sync failed",
			"component", "worker",
			"worker", "sync-coordinator",
			"error", err,
		)
		return
	}

	slog.Info("scheduled sync completed",
		"component", "worker",
		"worker", "sync-coordinator",
		"fetched", summary.Fetched,
		"updated", summary.Updated,
		"appended", summary.Appended,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
