// cmd/sippsync/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"sipp-sync/internal/app"
	"sipp-sync/internal/config"
	custom_errors "sipp-sync/internal/errors"
	"sipp-sync/internal/model"
	"sipp-sync/internal/syncer"
)

const (
	exitOK         = 0
	exitFailed     = 1
	exitInProgress = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger, logLevel := app.NewLogger()
	slog.SetDefault(logger)

	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		logger.Error("Invalid arguments", "error", err)
		return exitFailed
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return exitFailed
	}
	app.SetLogLevel(cfg.LogLevel, logLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Application startup error", "error", err)
		return exitFailed
	}
	defer a.Close()

	return syncEntities(ctx, a.Job, opts.entities, opts.mode, cfg.Sync.Concurrency, logger)
}

type options struct {
	entities []model.EntityType
	mode     model.SyncType
}

func parseFlags(args []string) (options, error) {
	fs := pflag.NewFlagSet("sippsync", pflag.ContinueOnError)
	typ := fs.String("type", "all", "entity type to sync (case_types, court_rooms, judges, cases, court_schedules) or all")
	mode := fs.String("mode", "full", "sync mode: full or incremental")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	syncType, err := model.ParseSyncType(*mode)
	if err != nil {
		return options{}, err
	}
	if *typ == "all" {
		return options{entities: model.AllEntityTypes, mode: syncType}, nil
	}
	entity, err := model.ParseEntityType(*typ)
	if err != nil {
		return options{}, err
	}
	return options{entities: []model.EntityType{entity}, mode: syncType}, nil
}

// syncEntities runs every entity and returns the process exit code.
func syncEntities(ctx context.Context, runner syncer.Runner, entities []model.EntityType, mode model.SyncType, concurrency int, logger *slog.Logger) int {
	if concurrency <= 0 {
		concurrency = 1
	}
	var (
		mu         sync.Mutex
		failed     bool
		inProgress bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, entity := range entities {
		g.Go(func() error {
			log, err := runner.Run(gctx, entity, mode)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				fmt.Printf("%s: fetched %d, created %d, updated %d in %s\n",
					entity, log.RecordsFetched, log.RecordsCreated, log.RecordsUpdated, log.Duration())
			case errors.Is(err, custom_errors.ErrSyncInProgress):
				inProgress = true
				logger.Warn("Sync already in progress", "entity", entity)
			default:
				failed = true
				logger.Error("Sync failed", "entity", entity, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case failed:
		return exitFailed
	case inProgress:
		return exitInProgress
	}
	return exitOK
}
