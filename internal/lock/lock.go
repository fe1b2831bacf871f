// Package lock provides the at-most-one-run guarantee for sync jobs.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	custom_errors "sipp-sync/internal/errors"
)

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

// Locker hands out exclusive, non-blocking locks by key.
type Locker interface {
	// TryLock returns errors.ErrSyncInProgress when the key is already held.
	TryLock(ctx context.Context, key string) (Unlock, error)
}

// PGLocker implements Locker with PostgreSQL session advisory locks, so the
// guarantee holds across every process sharing the database.
type PGLocker struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPGLocker(pool *pgxpool.Pool, logger *slog.Logger) *PGLocker {
	return &PGLocker{pool: pool, logger: logger}
}

// TryLock pins a pooled connection for as long as the lock is held, since
// advisory locks belong to the session that took them.
func (l *PGLocker) TryLock(ctx context.Context, key string) (Unlock, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for lock %q: %w", key, err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock %q: %w", key, err)
	}
	if !acquired {
		conn.Release()
		return nil, custom_errors.ErrSyncInProgress
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		defer conn.Release()

		// The run's context may already be cancelled; unlocking must still happen.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock(hashtext($1))", key); err != nil {
			l.logger.Error("Failed to release advisory lock, closing session", "key", key, "error", err)
			// Closing the session drops every advisory lock it holds.
			_ = conn.Conn().Close(unlockCtx)
		}
	}, nil
}

// SyncKey is the lock key for sync runs of one entity type.
func SyncKey(entity string) string {
	return "sipp-sync:" + entity
}
