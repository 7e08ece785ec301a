package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/uzulabs/gridsync/internal/config"
	"github.com/uzulabs/gridsync/internal/grid"
	"github.com/uzulabs/gridsync/internal/reconcile"
	"github.com/uzulabs/gridsync/internal/source"
	"github.com/uzulabs/gridsync/internal/syncer"
	"github.com/uzulabs/gridsync/internal/types"
	"github.com/uzulabs/gridsync/internal/window"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "gridsync",
	Short: "gridsync - order sheet mirroring service",
	Long:  "Pulls order records from the hosted backend and mirrors them into a destination sheet.",
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output run summaries in JSON format")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fullSyncCmd)
	rootCmd.AddCommand(dailySyncCmd)
	rootCmd.AddCommand(syncRangeCmd)
	rootCmd.AddCommand(syncTodayCmd)
	rootCmd.AddCommand(testSyncCmd)
}

// app bundles everything a sync command needs, plus the handles that
// have to be closed on the way out.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	syncer *syncer.Syncer
	store  *grid.SQLiteStore // nil for the csv backend
}

func (a *app) Close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("store close error", "error", err)
	}
}

// buildApp loads config and wires the full sync pipeline:
// source client, projector, engine, destination grid, hooks.
func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	cutover, err := config.ParseCutover(cfg.Sync.Cutover)
	if err != nil {
		return nil, err
	}
	windows, err := window.NewCalculator(cfg.Sync.Timezone, cutover)
	if err != nil {
		return nil, err
	}
	projector, err := reconcile.NewProjector(cfg.Sync.Timezone)
	if err != nil {
		return nil, err
	}

	schema := types.Schema{
		Columns:  cfg.Schema.Columns,
		Identity: cfg.Schema.Identity,
	}
	engine := reconcile.NewEngine(projector, schema, logger)
	client := source.NewClient(cfg.Source, logger)

	var (
		sheet grid.Grid
		store *grid.SQLiteStore
	)
	switch cfg.Sheet.Backend {
	case "sqlite":
		store, err = grid.NewSQLiteStore(cfg.Sheet.Path)
		if err != nil {
			return nil, err
		}
		sheet = store.Sheet(cfg.Sheet.Name)
	case "csv":
		sheet, err = grid.NewCSVGrid(cfg.Sheet.Path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown sheet backend %q", cfg.Sheet.Backend)
	}

	s, err := syncer.New(client, engine, sheet, windows, logger)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}
	if store != nil {
		s.SetRunStore(store)
	}

	if cfg.Hooks.CategoryResync && len(cfg.Hooks.Categories) > 0 {
		s.RegisterHook(syncer.NewCategoryResyncHook(client, engine, sheet, cfg.Hooks.Categories, logger))
	}
	if cfg.Hooks.StalePurge {
		s.RegisterHook(syncer.NewStalePurgeHook(client, cfg.Hooks.PurgeFunction))
	}

	return &app{cfg: cfg, logger: logger, syncer: s, store: store}, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printSummary renders a run summary as a table, or JSON with --json.
func printSummary(w io.Writer, summary *types.RunSummary) error {
	if jsonOutput {
		return printJSON(w, summary)
	}

	tw := newTabWriter(w)
	fmt.Fprintln(tw, "MODE\tFETCHED\tUPDATED\tAPPENDED\tDELETED\tDUPLICATES\tDURATION")
	fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
		summary.Mode,
		summary.Fetched,
		summary.Updated,
		summary.Appended,
		summary.Deleted,
		summary.Duplicates,
		summary.Duration.Round(time.Millisecond),
	)
	return tw.Flush()
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
