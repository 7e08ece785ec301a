package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uzulabs/gridsync/internal/grid"
	"github.com/uzulabs/gridsync/internal/reconcile"
	"github.com/uzulabs/gridsync/internal/source"
	"github.com/uzulabs/gridsync/internal/window"
)

// categoryField is the source column the category resync filters on.
const categoryField = "prod_category"

// RPCCaller invokes stored functions on the source backend.
// Implemented by source.Client.
type RPCCaller interface {
	CallFunction(ctx context.Context, name string, args map[string]any) error
}

// CategoryResyncHook re-pulls the merged window once per configured
// product category and merges each batch again. Category-scoped pulls
// catch rows the backend reclassified after the main window query ran.
type CategoryResyncHook struct {
	fetcher    Fetcher
	engine     *reconcile.Engine
	grid       grid.Grid
	categories []string
	logger     *slog.Logger
}

// NewCategoryResyncHook builds the hook for the given categories.
func NewCategoryResyncHook(fetcher Fetcher, engine *reconcile.Engine, g grid.Grid, categories []string, logger *slog.Logger) *CategoryResyncHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &CategoryResyncHook{
		fetcher:    fetcher,
		engine:     engine,
		grid:       g,
		categories: categories,
		logger:     logger,
	}
}

func (h *CategoryResyncHook) Name() string { return "category-resync" }

// Run merges one category at a time; the first failure aborts the hook
// so the caller can log it, but earlier categories stay applied.
func (h *CategoryResyncHook) Run(ctx context.Context, win window.Window) error {
	for _, category := range h.categories {
		q := source.Query{
			Window:  &win,
			Filters: map[string]string{categoryField: "eq." + category},
		}
		batch, err := h.fetcher.FetchAll(ctx, q)
		if err != nil {
			return fmt.Errorf("category %q: %w", category, err)
		}
		result, err := h.engine.Merge(h.grid, batch)
		if err != nil {
			return fmt.Errorf("category %q: %w", category, err)
		}
		h.logger.Debug("category resynced",
			"category", category,
			"fetched", len(batch),
			"updated", result.Updated,
			"appended", result.Appended,
		)
	}
	return nil
}

// StalePurgeHook asks the backend to drop stale records via a stored
// function. Destination rows are never deleted by this hook; the purge
// happens on the source side only.
type StalePurgeHook struct {
	caller   RPCCaller
	function string
}

// NewStalePurgeHook builds the hook for the named stored function.
func NewStalePurgeHook(caller RPCCaller, function string) *StalePurgeHook {
	return &StalePurgeHook{caller: caller, function: function}
}

func (h *StalePurgeHook) Name() string { return "stale-purge" }

func (h *StalePurgeHook) Run(ctx context.Context, _ window.Window) error {
	if err := h.caller.CallFunction(ctx, h.function, nil); err != nil {
		return fmt.Errorf("rpc %s: %w", h.function, err)
	}
	return nil
}
