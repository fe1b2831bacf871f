// internal/database/entities.sql.go
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	custom_errors "sipp-sync/internal/errors"
	"sipp-sync/internal/model"
)

// Every synced entity table shares the same layout, so the queries are
// templated on the table name. Table names only ever come from model.EntityType.
const entityColumns = `id, external_id, label, attributes, remote_checksum, remote_updated_at,
	local_updated_at, sync_status, sync_error, last_sync_at, created_at, updated_at, deleted_at`

func tableFor(entity model.EntityType) (string, error) {
	table := entity.Table()
	if table == "" {
		return "", &custom_errors.ErrUnknownEntityType{Name: string(entity)}
	}
	return table, nil
}

func scanEntity(row pgx.Row) (Entity, error) {
	var i Entity
	err := row.Scan(
		&i.ID,
		&i.ExternalID,
		&i.Label,
		&i.Attributes,
		&i.RemoteChecksum,
		&i.RemoteUpdatedAt,
		&i.LocalUpdatedAt,
		&i.SyncStatus,
		&i.SyncError,
		&i.LastSyncAt,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.DeletedAt,
	)
	return i, err
}

const getEntityByExternalID = `-- name: GetEntityByExternalID :one
SELECT ` + entityColumns + `
FROM %s
WHERE external_id = $1
`

func (q *Queries) GetEntityByExternalID(ctx context.Context, entity model.EntityType, externalID string) (Entity, error) {
	table, err := tableFor(entity)
	if err != nil {
		return Entity{}, err
	}
	row := q.db.QueryRow(ctx, fmt.Sprintf(getEntityByExternalID, table), externalID)
	return scanEntity(row)
}

const createSyncedEntity = `-- name: CreateSyncedEntity :one
INSERT INTO %s (
    external_id, label, attributes, remote_checksum, remote_updated_at,
    sync_status, sync_error, last_sync_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8
)
RETURNING ` + entityColumns

type CreateSyncedEntityParams struct {
	ExternalID      string             `json:"external_id"`
	Label           string             `json:"label"`
	Attributes      json.RawMessage    `json:"attributes"`
	RemoteChecksum  pgtype.Text        `json:"remote_checksum"`
	RemoteUpdatedAt pgtype.Timestamptz `json:"remote_updated_at"`
	SyncStatus      string             `json:"sync_status"`
	SyncError       pgtype.Text        `json:"sync_error"`
	LastSyncAt      pgtype.Timestamptz `json:"last_sync_at"`
}

func (q *Queries) CreateSyncedEntity(ctx context.Context, entity model.EntityType, arg CreateSyncedEntityParams) (Entity, error) {
	table, err := tableFor(entity)
	if err != nil {
		return Entity{}, err
	}
	attrs := arg.Attributes
	if len(attrs) == 0 {
		attrs = json.RawMessage(`{}`)
	}
	row := q.db.QueryRow(ctx, fmt.Sprintf(createSyncedEntity, table),
		arg.ExternalID,
		arg.Label,
		attrs,
		arg.RemoteChecksum,
		arg.RemoteUpdatedAt,
		arg.SyncStatus,
		arg.SyncError,
		arg.LastSyncAt,
	)
	return scanEntity(row)
}

const applySyncUpdate = `-- name: ApplySyncUpdate :one
UPDATE %s
SET label = $2,
    attributes = $3,
    remote_checksum = $4,
    remote_updated_at = $5,
    sync_status = 'success',
    sync_error = NULL,
    last_sync_at = $6,
    updated_at = NOW()
WHERE id = $1 AND external_id IS NOT NULL
RETURNING ` + entityColumns

type ApplySyncUpdateParams struct {
	ID              int64              `json:"id"`
	Label           string             `json:"label"`
	Attributes      json.RawMessage    `json:"attributes"`
	RemoteChecksum  pgtype.Text        `json:"remote_checksum"`
	RemoteUpdatedAt pgtype.Timestamptz `json:"remote_updated_at"`
	LastSyncAt      pgtype.Timestamptz `json:"last_sync_at"`
}

func (q *Queries) ApplySyncUpdate(ctx context.Context, entity model.EntityType, arg ApplySyncUpdateParams) (Entity, error) {
	table, err := tableFor(entity)
	if err != nil {
		return Entity{}, err
	}
	row := q.db.QueryRow(ctx, fmt.Sprintf(applySyncUpdate, table),
		arg.ID,
		arg.Label,
		arg.Attributes,
		arg.RemoteChecksum,
		arg.RemoteUpdatedAt,
		arg.LastSyncAt,
	)
	return scanEntity(row)
}

const markEntitySynced = `-- name: MarkEntitySynced :exec
UPDATE %s
SET sync_status = 'success', sync_error = NULL, last_sync_at = $2
WHERE id = $1 AND external_id IS NOT NULL
`

type MarkEntitySyncedParams struct {
	ID         int64              `json:"id"`
	LastSyncAt pgtype.Timestamptz `json:"last_sync_at"`
}

func (q *Queries) MarkEntitySynced(ctx context.Context, entity model.EntityType, arg MarkEntitySyncedParams) error {
	table, err := tableFor(entity)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, fmt.Sprintf(markEntitySynced, table), arg.ID, arg.LastSyncAt)
	return err
}

const markEntitySyncError = `-- name: MarkEntitySyncError :exec
UPDATE %s
SET sync_status = 'error', sync_error = $2
WHERE id = $1 AND external_id IS NOT NULL
`

type MarkEntitySyncErrorParams struct {
	ID        int64  `json:"id"`
	SyncError string `json:"sync_error"`
}

func (q *Queries) MarkEntitySyncError(ctx context.Context, entity model.EntityType, arg MarkEntitySyncErrorParams) error {
	table, err := tableFor(entity)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, fmt.Sprintf(markEntitySyncError, table), arg.ID, arg.SyncError)
	return err
}

const clearEntitySyncError = `-- name: ClearEntitySyncError :exec
UPDATE %s
SET sync_status = 'success', sync_error = NULL
WHERE id = $1 AND external_id IS NOT NULL
`

// ClearEntitySyncError resets the status without moving last_sync_at, so a
// pending local edit stays visible to conflict resolution.
func (q *Queries) ClearEntitySyncError(ctx context.Context, entity model.EntityType, id int64) error {
	table, err := tableFor(entity)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, fmt.Sprintf(clearEntitySyncError, table), id)
	return err
}

const discardLocalEdit = `-- name: DiscardLocalEdit :one
UPDATE %s
SET local_updated_at = NULL,
    remote_checksum = NULL,
    updated_at = NOW()
WHERE id = $1 AND external_id IS NOT NULL AND deleted_at IS NULL
RETURNING ` + entityColumns

// DiscardLocalEdit drops the local edit of a synced row. The cleared checksum
// makes the next run rewrite the row from SIPP.
func (q *Queries) DiscardLocalEdit(ctx context.Context, entity model.EntityType, id int64) (Entity, error) {
	table, err := tableFor(entity)
	if err != nil {
		return Entity{}, err
	}
	row := q.db.QueryRow(ctx, fmt.Sprintf(discardLocalEdit, table), id)
	return scanEntity(row)
}

const failPendingEntities = `-- name: FailPendingEntities :execrows
UPDATE %s
SET sync_status = 'error', sync_error = $1
WHERE sync_status = 'pending' AND external_id IS NOT NULL
`

func (q *Queries) FailPendingEntities(ctx context.Context, entity model.EntityType, reason string) (int64, error) {
	table, err := tableFor(entity)
	if err != nil {
		return 0, err
	}
	result, err := q.db.Exec(ctx, fmt.Sprintf(failPendingEntities, table), reason)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listEntities = `-- name: ListEntities :many
SELECT ` + entityColumns + `
FROM %s
WHERE deleted_at IS NULL
  AND ($1::text IS NULL OR sync_status = $1::text)
ORDER BY id
LIMIT $2
`

type ListEntitiesParams struct {
	SyncStatus pgtype.Text `json:"sync_status"`
	Limit      int32       `json:"limit"`
}

func (q *Queries) ListEntities(ctx context.Context, entity model.EntityType, arg ListEntitiesParams) ([]Entity, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, err
	}
	rows, err := q.db.Query(ctx, fmt.Sprintf(listEntities, table), arg.SyncStatus, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Entity{}
	for rows.Next() {
		i, err := scanEntity(rows)
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

const createLocalEntity = `-- name: CreateLocalEntity :one
INSERT INTO %s (label, attributes, local_updated_at)
VALUES ($1, $2, NOW())
RETURNING ` + entityColumns

type CreateLocalEntityParams struct {
	Label      string          `json:"label"`
	Attributes json.RawMessage `json:"attributes"`
}

func (q *Queries) CreateLocalEntity(ctx context.Context, entity model.EntityType, arg CreateLocalEntityParams) (Entity, error) {
	table, err := tableFor(entity)
	if err != nil {
		return Entity{}, err
	}
	attrs := arg.Attributes
	if len(attrs) == 0 {
		attrs = json.RawMessage(`{}`)
	}
	row := q.db.QueryRow(ctx, fmt.Sprintf(createLocalEntity, table), arg.Label, attrs)
	return scanEntity(row)
}

const updateLocalEntity = `-- name: UpdateLocalEntity :one
UPDATE %s
SET label = COALESCE($2, label),
    attributes = COALESCE($3, attributes),
    local_updated_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL
RETURNING ` + entityColumns

type UpdateLocalEntityParams struct {
	ID         int64           `json:"id"`
	Label      pgtype.Text     `json:"label"`
	Attributes json.RawMessage `json:"attributes"`
}

func (q *Queries) UpdateLocalEntity(ctx context.Context, entity model.EntityType, arg UpdateLocalEntityParams) (Entity, error) {
	table, err := tableFor(entity)
	if err != nil {
		return Entity{}, err
	}
	var attrs any
	if len(arg.Attributes) > 0 {
		attrs = arg.Attributes
	}
	row := q.db.QueryRow(ctx, fmt.Sprintf(updateLocalEntity, table), arg.ID, arg.Label, attrs)
	return scanEntity(row)
}
