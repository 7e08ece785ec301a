// Package syncer composes source, engine and grid into runnable sync
// operations and records a summary of every run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uzulabs/gridsync/internal/grid"
	"github.com/uzulabs/gridsync/internal/reconcile"
	"github.com/uzulabs/gridsync/internal/source"
	"github.com/uzulabs/gridsync/internal/types"
	"github.com/uzulabs/gridsync/internal/window"
)

var (
	// ErrMissingConfig marks a run that could not start because a
	// required collaborator was absent.
	ErrMissingConfig = errors.New("missing configuration")

	// ErrFetch marks a run that failed while pulling from the source.
	ErrFetch = errors.New("source fetch failed")

	// ErrWrite marks a run that failed while writing the destination.
	ErrWrite = errors.New("destination write failed")
)

// Fetcher pulls record batches from the source backend.
// Implemented by source.Client.
type Fetcher interface {
	FetchAll(ctx context.Context, q source.Query) ([]types.Record, error)
}

// RunStore persists run summaries. Implemented by grid.SQLiteStore.
type RunStore interface {
	RecordRun(ctx context.Context, run *types.RunSummary) error
}

// Hook runs after a successful incremental merge. Hook failures are
// logged and never fail the run that triggered them.
type Hook interface {
	Name() string
	Run(ctx context.Context, win window.Window) error
}

// Syncer orchestrates sync runs against a single destination sheet.
type Syncer struct {
	fetcher Fetcher
	engine  *reconcile.Engine
	grid    grid.Grid
	windows *window.Calculator
	logger  *slog.Logger

	runs  RunStore
	hooks []Hook

	now func() time.Time
}

// New wires a Syncer from its collaborators.
func New(fetcher Fetcher, engine *reconcile.Engine, g grid.Grid, windows *window.Calculator, logger *slog.Logger) (*Syncer, error) {
	if fetcher == nil || engine == nil || g == nil || windows == nil {
		return nil, fmt.Errorf("%w: syncer requires fetcher, engine, grid and window calculator", ErrMissingConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		fetcher: fetcher,
		engine:  engine,
		grid:    g,
		windows: windows,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// SetRunStore enables run history persistence.
func (s *Syncer) SetRunStore(rs RunStore) { s.runs = rs }

// RegisterHook appends a post-merge hook. Hooks run in registration
// order after every successful incremental merge.
func (s *Syncer) RegisterHook(h Hook) { s.hooks = append(s.hooks, h) }

// FullSync replaces the destination with the complete source table.
func (s *Syncer) FullSync(ctx context.Context, trigger string) (*types.RunSummary, error) {
	return s.run(ctx, types.ModeOverwrite, trigger, nil, 0, false)
}

// DailyIncrementalSync merges the most recent completed cutover-to-cutover
// window and then runs the registered hooks.
func (s *Syncer) DailyIncrementalSync(ctx context.Context, trigger string) (*types.RunSummary, error) {
	win := s.windows.Daily(s.now())
	return s.run(ctx, types.ModeMerge, trigger, &win, 0, true)
}

// SyncRange merges an explicit date range ("YYYY-MM-DD" bounds, inclusive).
func (s *Syncer) SyncRange(ctx context.Context, start, end, trigger string) (*types.RunSummary, error) {
	win, err := s.windows.Range(start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingConfig, err)
	}
	return s.run(ctx, types.ModeMerge, trigger, &win, 0, true)
}

// SyncToday merges everything modified since the last cutover.
func (s *Syncer) SyncToday(ctx context.Context, trigger string) (*types.RunSummary, error) {
	win := s.windows.Today(s.now())
	return s.run(ctx, types.ModeMerge, trigger, &win, 0, true)
}

// TestSync merges a small capped batch, useful for verifying wiring
// without moving the whole table.
func (s *Syncer) TestSync(ctx context.Context, limit int) (*types.RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.run(ctx, types.ModeMerge, "test", nil, limit, false)
}

func (s *Syncer) run(ctx context.Context, mode types.SyncMode, trigger string, win *window.Window, limit int, runHooks bool) (*types.RunSummary, error) {
	summary := &types.RunSummary{
		Mode:      mode,
		Trigger:   trigger,
		StartedAt: s.now(),
	}
	if win != nil {
		summary.WindowStart = &win.Start
		summary.WindowEnd = &win.End
	}

	result, err := s.execute(ctx, mode, win, limit, summary)
	summary.Duration = s.now().Sub(summary.StartedAt)

	if err != nil {
		summary.Error = err.Error()
		s.record(ctx, summary)
		s.logger.Error("sync run failed",
			"mode", mode,
			"trigger", trigger,
			"error", err,
		)
		return summary, err
	}

	summary.Updated = result.Updated
	summary.Appended = result.Appended
	summary.Deleted = result.Deleted
	summary.Duplicates = len(result.Duplicates)
	if mode == types.ModeOverwrite || result.Mode == types.ModeOverwrite {
		summary.Appended = result.Written
	}
	s.record(ctx, summary)

	s.logger.Info("sync run complete",
		"mode", result.Mode,
		"trigger", trigger,
		"fetched", summary.Fetched,
		"updated", summary.Updated,
		"appended", summary.Appended,
		"deleted", summary.Deleted,
		"duration", summary.Duration,
	)

	if runHooks && win != nil {
		s.runPostMergeHooks(ctx, *win)
	}
	return summary, nil
}

func (s *Syncer) execute(ctx context.Context, mode types.SyncMode, win *window.Window, limit int, summary *types.RunSummary) (reconcile.Result, error) {
	q := source.Query{Window: win, Limit: limit}
	batch, err := s.fetcher.FetchAll(ctx, q)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	summary.Fetched = len(batch)

	var result reconcile.Result
	switch mode {
	case types.ModeOverwrite:
		result, err = s.engine.Overwrite(s.grid, batch)
	default:
		result, err = s.engine.Merge(s.grid, batch)
	}
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return result, nil
}

// runPostMergeHooks is best-effort: a failed hook is logged and the
// remaining hooks still run.
func (s *Syncer) runPostMergeHooks(ctx context.Context, win window.Window) {
	for _, h := range s.hooks {
		if err := h.Run(ctx, win); err != nil {
			s.logger.Warn("post-merge hook failed",
				"hook", h.Name(),
				"error", err,
			)
			continue
		}
		s.logger.Debug("post-merge hook complete", "hook", h.Name())
	}
}

func (s *Syncer) record(ctx context.Context, run *types.RunSummary) {
	if s.runs == nil {
		return
	}
	if err := s.runs.RecordRun(ctx, run); err != nil {
		s.logger.Warn("recording run summary failed", "error", err)
	}
}
