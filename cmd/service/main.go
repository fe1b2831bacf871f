// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sipp-sync/internal/api"
	"sipp-sync/internal/app"
	"sipp-sync/internal/config"
	"sipp-sync/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logger, logLevel := app.NewLogger()
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	app.SetLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully",
		"sync_enabled", cfg.Sync.Enabled,
		"schedule", cfg.Sync.Interval.String(),
		"strategy", cfg.Sync.Strategy.String(),
	)

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Database, migrations and sync components
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// 5. Supervision tree
	supervisor := app.NewSupervisor(logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(a.Queries, a.Job, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	supervisor.Add(app.NewHTTPService(server, 30*time.Second))

	if cfg.Sync.Enabled {
		scheduler := syncer.NewScheduler(a.Job, cfg.Sync.EntityTypes, cfg.Sync.Interval, cfg.Sync.Concurrency, app.SyncLogger(logger, cfg.Logging))
		supervisor.Add(scheduler)
	} else {
		logger.Warn("SIPP sync is disabled, scheduler not started")
	}

	// 6. Run until a shutdown signal arrives
	logger.Info("Application started", "http_addr", cfg.HTTPAddr)
	if err := supervisor.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor stopped: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}
