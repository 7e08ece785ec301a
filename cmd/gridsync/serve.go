package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/uzulabs/gridsync/internal/api"
	"github.com/uzulabs/gridsync/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the status API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()
	slog.Info("pipeline initialized",
		"backend", a.cfg.Sheet.Backend,
		"sheet", a.cfg.Sheet.Name,
	)

	// Scheduler and API share one guard: only one run at a time.
	guard := &worker.Guard{}
	coordinator := worker.NewSyncCoordinator(
		a.syncer,
		guard,
		a.cfg.Sync.Schedule,
		mustLocation(a.cfg.Sync.Timezone),
	)

	var history api.RunHistory
	if a.store != nil {
		history = a.store
	}
	handler := api.NewHandler(a.syncer, history, guard, a.cfg.Server.APIKey, Version, a.cfg.Sheet.Name)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(a.cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(a.cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	startWorker(ctx, &wg, "sync-coordinator", func(ctx context.Context) {
		if err := coordinator.Run(ctx); err != nil {
			slog.Error("coordinator error", "error", err)
			cancel()
		}
	})

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called
		// gracefully. Any other error indicates an actual server failure.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(a.cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()
	slog.Info("shutdown complete")
	return nil
}

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// Config validation already checked the zone name.
		return time.Local
	}
	return loc
}

// startWorker launches a background worker goroutine that respects
// context cancellation. Workers are tracked via WaitGroup for graceful
// shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
