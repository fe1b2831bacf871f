// internal/database/sync_logs.sql.go
package database

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const syncLogColumns = `id, run_id, entity_type, sync_type, start_time, end_time,
	records_fetched, records_updated, records_created, records_retryable, error_message, metadata`

func scanSyncLog(row pgx.Row) (SyncLog, error) {
	var i SyncLog
	err := row.Scan(
		&i.ID,
		&i.RunID,
		&i.EntityType,
		&i.SyncType,
		&i.StartTime,
		&i.EndTime,
		&i.RecordsFetched,
		&i.RecordsUpdated,
		&i.RecordsCreated,
		&i.RecordsRetryable,
		&i.ErrorMessage,
		&i.Metadata,
	)
	return i, err
}

const createSyncLog = `-- name: CreateSyncLog :one
INSERT INTO sync_logs (run_id, entity_type, sync_type, start_time)
VALUES ($1, $2, $3, $4)
RETURNING ` + syncLogColumns

type CreateSyncLogParams struct {
	RunID      pgtype.UUID        `json:"run_id"`
	EntityType string             `json:"entity_type"`
	SyncType   string             `json:"sync_type"`
	StartTime  pgtype.Timestamptz `json:"start_time"`
}

func (q *Queries) CreateSyncLog(ctx context.Context, arg CreateSyncLogParams) (SyncLog, error) {
	row := q.db.QueryRow(ctx, createSyncLog,
		arg.RunID,
		arg.EntityType,
		arg.SyncType,
		arg.StartTime,
	)
	return scanSyncLog(row)
}

const finishSyncLog = `-- name: FinishSyncLog :one
UPDATE sync_logs
SET end_time = $2,
    records_fetched = $3,
    records_updated = $4,
    records_created = $5,
    records_retryable = $6,
    error_message = $7,
    metadata = $8
WHERE id = $1
RETURNING ` + syncLogColumns

type FinishSyncLogParams struct {
	ID               int64              `json:"id"`
	EndTime          pgtype.Timestamptz `json:"end_time"`
	RecordsFetched   int32              `json:"records_fetched"`
	RecordsUpdated   int32              `json:"records_updated"`
	RecordsCreated   int32              `json:"records_created"`
	RecordsRetryable int32              `json:"records_retryable"`
	ErrorMessage     pgtype.Text        `json:"error_message"`
	Metadata         json.RawMessage    `json:"metadata"`
}

func (q *Queries) FinishSyncLog(ctx context.Context, arg FinishSyncLogParams) (SyncLog, error) {
	metadata := arg.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	row := q.db.QueryRow(ctx, finishSyncLog,
		arg.ID,
		arg.EndTime,
		arg.RecordsFetched,
		arg.RecordsUpdated,
		arg.RecordsCreated,
		arg.RecordsRetryable,
		arg.ErrorMessage,
		metadata,
	)
	return scanSyncLog(row)
}

const listSyncLogs = `-- name: ListSyncLogs :many
SELECT ` + syncLogColumns + `
FROM sync_logs
WHERE ($1::text IS NULL OR entity_type = $1::text)
ORDER BY start_time DESC, id DESC
LIMIT $2
`

type ListSyncLogsParams struct {
	EntityType pgtype.Text `json:"entity_type"`
	Limit      int32       `json:"limit"`
}

func (q *Queries) ListSyncLogs(ctx context.Context, arg ListSyncLogsParams) ([]SyncLog, error) {
	rows, err := q.db.Query(ctx, listSyncLogs, arg.EntityType, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []SyncLog{}
	for rows.Next() {
		i, err := scanSyncLog(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// GetLastSuccessfulSyncLog skips runs that left records to retry, so the
// incremental cursor never moves past a record that failed on a local write.
const getLastSuccessfulSyncLog = `-- name: GetLastSuccessfulSyncLog :one
SELECT ` + syncLogColumns + `
FROM sync_logs
WHERE entity_type = $1
  AND end_time IS NOT NULL
  AND error_message IS NULL
  AND records_retryable = 0
ORDER BY start_time DESC
LIMIT 1
`

func (q *Queries) GetLastSuccessfulSyncLog(ctx context.Context, entityType string) (SyncLog, error) {
	row := q.db.QueryRow(ctx, getLastSuccessfulSyncLog, entityType)
	return scanSyncLog(row)
}
