//go:build integration

// cmd/service/integration_test.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipp-sync/internal/api"
	"sipp-sync/internal/app"
	"sipp-sync/internal/config"
	"sipp-sync/internal/conflict"
	"sipp-sync/internal/database"
	"sipp-sync/internal/model"
	"sipp-sync/internal/testutil"
)

// fakeSIPP serves 150 perkara records, three of them invalid. When failPage
// is set, that page answers 500.
type fakeSIPP struct {
	failPage  atomic.Int32
	lastSince atomic.Value
}

func (f *fakeSIPP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lastSince.Store(r.URL.Query().Get("updated_since"))
	if r.URL.Path != "/api/v1/perkara" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if int32(page) == f.failPage.Load() {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	const total = 150
	lastPage := (total + perPage - 1) / perPage
	var records []string
	for id := (page-1)*perPage + 1; id <= total && id <= page*perPage; id++ {
		if id == 11 || id == 76 || id == 141 {
			records = append(records, fmt.Sprintf(`{"id": %d, "case_type_code": "Pdt.G"}`, id))
			continue
		}
		records = append(records, fmt.Sprintf(
			`{"id": %d, "case_number": "%d/Pdt.G/2024/PN Jkt", "case_type_code": "Pdt.G", "registered_at": "2024-01-15", "updated_at": "2024-06-01T00:00:00Z"}`,
			id, id))
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"data": [%s], "meta": {"current_page": %d, "last_page": %d, "per_page": %d, "total": %d}}`,
		strings.Join(records, ","), page, lastPage, perPage, total)
}

func TestSyncService_Integration(t *testing.T) {
	ctx := context.Background()
	pool, connStr := testutil.SetupTestDatabase(ctx, t, "file://../../migrations")

	sipp := &fakeSIPP{}
	sippServer := httptest.NewServer(sipp)
	defer sippServer.Close()

	cfg := &config.Config{
		DBURL:         connStr,
		MigrationsURL: "file://../../migrations",
		SIPP: config.SIPPConfig{
			BaseURL:            sippServer.URL + "/api/v1",
			TimeoutSeconds:     5,
			RetryAttempts:      3,
			RetryDelayMillis:   10,
			RateLimitRequests:  100,
			RateLimitWindowSec: 60,
		},
		Sync: config.SyncConfig{
			Enabled:   true,
			BatchSize: 100,
			Strategy:  conflict.NewestTimestampWins,
		},
		Logging: config.LoggingConfig{Enabled: true, Channel: "sipp"},
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	a, err := app.New(ctx, cfg, logger)
	require.NoError(t, err)
	defer a.Close()

	apiServer := httptest.NewServer(api.NewRouter(a.Queries, a.Job, logger))
	defer apiServer.Close()
	q := database.New(pool)

	trigger := func(t *testing.T) (int, model.SyncLog) {
		t.Helper()
		resp, err := http.Post(apiServer.URL+"/v1/sync/cases?type=full", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		var log model.SyncLog
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&log))
		return resp.StatusCode, log
	}

	// A local-only row must survive every run untouched.
	local, err := q.CreateLocalEntity(ctx, model.EntityCases, database.CreateLocalEntityParams{Label: "99/Pdt.P/2024/PN Jkt"})
	require.NoError(t, err)

	t.Run("first full sync", func(t *testing.T) {
		status, log := trigger(t)

		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, 150, log.RecordsFetched)
		assert.Equal(t, 147, log.RecordsCreated+log.RecordsUpdated)
		assert.EqualValues(t, 3, log.Metadata["errored"])

		errored, err := q.ListEntities(ctx, model.EntityCases, database.ListEntitiesParams{
			SyncStatus: pgtype.Text{String: "error", Valid: true},
			Limit:      100,
		})
		require.NoError(t, err)
		assert.Len(t, errored, 3)
	})

	t.Run("second full sync is idempotent", func(t *testing.T) {
		status, log := trigger(t)

		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, 0, log.RecordsCreated)
		assert.Equal(t, 0, log.RecordsUpdated)

		var total, succeeded int
		require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE sync_status = 'success') FROM sipp_cases`).Scan(&total, &succeeded))
		assert.Equal(t, 151, total, "150 synced rows plus the local one")
		assert.Equal(t, 147, succeeded)
	})

	t.Run("retry exhaustion records one failed log", func(t *testing.T) {
		sipp.failPage.Store(2)
		defer sipp.failPage.Store(0)
		before, err := q.ListSyncLogs(ctx, database.ListSyncLogsParams{Limit: 100})
		require.NoError(t, err)

		status, log := trigger(t)

		assert.Equal(t, http.StatusBadGateway, status)
		require.NotNil(t, log.ErrorMessage)
		after, err := q.ListSyncLogs(ctx, database.ListSyncLogsParams{Limit: 100})
		require.NoError(t, err)
		assert.Len(t, after, len(before)+1)

		pending, err := q.ListEntities(ctx, model.EntityCases, database.ListEntitiesParams{
			SyncStatus: pgtype.Text{String: "pending", Valid: true},
			Limit:      100,
		})
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("incremental sync sends the cursor", func(t *testing.T) {
		log, err := a.Job.Run(ctx, model.EntityCases, model.SyncIncremental)

		require.NoError(t, err)
		assert.Equal(t, 0, log.RecordsCreated)
		since, _ := sipp.lastSince.Load().(string)
		_, perr := time.Parse(time.RFC3339, since)
		assert.NoError(t, perr, "updated_since must be the last successful start time")
	})

	t.Run("local rows are untouched", func(t *testing.T) {
		var (
			externalID pgtype.Text
			status     pgtype.Text
			label      string
		)
		err := pool.QueryRow(ctx, `SELECT external_id, sync_status, label FROM sipp_cases WHERE id = $1`, local.ID).
			Scan(&externalID, &status, &label)
		require.NoError(t, err)
		assert.False(t, externalID.Valid)
		assert.False(t, status.Valid)
		assert.Equal(t, local.Label, label)
	})
}
