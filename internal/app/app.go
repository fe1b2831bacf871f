// Package app wires the sync components from configuration. It is shared by
// the service daemon and the command-line runner.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"sipp-sync/internal/config"
	"sipp-sync/internal/database"
	"sipp-sync/internal/lock"
	"sipp-sync/internal/notify"
	"sipp-sync/internal/sipp"
	"sipp-sync/internal/syncer"
)

// App holds the long-lived components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Queries *database.Queries
	Job     *syncer.Job
}

// NewLogger builds the JSON logger used by every binary.
func NewLogger() (*slog.Logger, *slog.LevelVar) {
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler), logLevel
}

// SetLogLevel applies LOG_LEVEL.
func SetLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}

// SyncLogger is the logger handed to the sync components. It discards
// everything when SIPP_LOGGING_ENABLED is false.
func SyncLogger(base *slog.Logger, cfg config.LoggingConfig) *slog.Logger {
	if !cfg.Enabled {
		return slog.New(slog.DiscardHandler)
	}
	return base.With("channel", cfg.Channel)
}

// New connects to the database, applies migrations and builds the sync job.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	logger.Info("Database connection established")

	if err := RunMigrations(cfg.MigrationsURL, cfg.DBURL); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	syncLogger := SyncLogger(logger, cfg.Logging)

	client, err := sipp.NewClient(sipp.Options{
		BaseURL:           cfg.SIPP.BaseURL,
		APIKey:            cfg.SIPP.APIKey,
		BearerToken:       cfg.SIPP.BearerToken,
		Timeout:           cfg.SIPP.Timeout(),
		RetryAttempts:     cfg.SIPP.RetryAttempts,
		RetryDelay:        cfg.SIPP.RetryDelay(),
		RateLimitRequests: cfg.SIPP.RateLimitRequests,
		RateLimitWindow:   cfg.SIPP.RateLimitWindow(),
	}, syncLogger)
	if err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("failed to create SIPP client: %w", err)
	}

	queries := database.New(dbpool)
	job := syncer.NewJob(
		queries,
		client,
		lock.NewPGLocker(dbpool, syncLogger),
		Notifier(cfg, syncLogger),
		syncLogger,
		syncer.JobConfig{
			Enabled:   cfg.Sync.Enabled,
			BatchSize: cfg.Sync.BatchSize,
			Strategy:  cfg.Sync.Strategy,
		},
	)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Pool:    dbpool,
		Queries: queries,
		Job:     job,
	}, nil
}

// Notifier picks email delivery when notifications are enabled.
func Notifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	if !cfg.Sync.NotificationsEnabled || len(cfg.Sync.NotificationEmails) == 0 {
		return notify.LogNotifier{Logger: logger}
	}
	return notify.NewEmailNotifier(notify.SMTPSettings{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, cfg.Sync.NotificationEmails)
}

func (a *App) Close() {
	a.Pool.Close()
}

// RunMigrations applies every pending migration from sourceURL.
func RunMigrations(sourceURL, dbURL string) error {
	m, err := migrate.New(sourceURL, dbURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
