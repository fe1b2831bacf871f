// internal/syncer/scheduler.go
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	custom_errors "sipp-sync/internal/errors"
	"sipp-sync/internal/model"
)

// Scheduler runs incremental syncs of the configured entity types on a fixed
// interval. It implements suture.Service.
type Scheduler struct {
	runner      Runner
	entities    []model.EntityType
	interval    time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewScheduler creates a new Scheduler instance.
func NewScheduler(runner Runner, entities []model.EntityType, interval time.Duration, concurrency int, logger *slog.Logger) *Scheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Scheduler{
		runner:      runner,
		entities:    entities,
		interval:    interval,
		concurrency: concurrency,
		logger:      logger,
	}
}

func (s *Scheduler) String() string { return "sipp-sync-scheduler" }

// Serve runs a cycle immediately and then on every tick until ctx is done.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.logger.Info("Starting scheduler", "interval", s.interval.String(), "concurrency", s.concurrency, "entities", len(s.entities))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunCycle(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunCycle(ctx)
		case <-ctx.Done():
			s.logger.Info("Scheduler shutting down", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunCycle runs one incremental sync per entity type, at most concurrency at a time.
// Entity types whose previous run still holds the lock are skipped.
func (s *Scheduler) RunCycle(ctx context.Context) {
	s.logger.Info("Starting new sync cycle")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, entity := range s.entities {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			_, err := s.runner.Run(gctx, entity, model.SyncIncremental)
			switch {
			case err == nil:
			case errors.Is(err, custom_errors.ErrSyncInProgress):
				s.logger.Info("Skipping entity, previous run still in progress", "entity", entity)
			case errors.Is(err, context.Canceled):
			default:
				s.logger.Error("Failed to sync entity", "entity", entity, "error", err)
			}
			return nil
		})
	}

	_ = g.Wait()
	s.logger.Info("Sync cycle finished")
}
