// internal/database/querier.go
package database

import (
	"context"

	"sipp-sync/internal/model"
)

type Querier interface {
	ApplySyncUpdate(ctx context.Context, entity model.EntityType, arg ApplySyncUpdateParams) (Entity, error)
	ClearEntitySyncError(ctx context.Context, entity model.EntityType, id int64) error
	CreateLocalEntity(ctx context.Context, entity model.EntityType, arg CreateLocalEntityParams) (Entity, error)
	CreateSyncLog(ctx context.Context, arg CreateSyncLogParams) (SyncLog, error)
	CreateSyncedEntity(ctx context.Context, entity model.EntityType, arg CreateSyncedEntityParams) (Entity, error)
	DiscardLocalEdit(ctx context.Context, entity model.EntityType, id int64) (Entity, error)
	FailPendingEntities(ctx context.Context, entity model.EntityType, reason string) (int64, error)
	FinishSyncLog(ctx context.Context, arg FinishSyncLogParams) (SyncLog, error)
	GetEntityByExternalID(ctx context.Context, entity model.EntityType, externalID string) (Entity, error)
	GetLastSuccessfulSyncLog(ctx context.Context, entityType string) (SyncLog, error)
	ListEntities(ctx context.Context, entity model.EntityType, arg ListEntitiesParams) ([]Entity, error)
	ListSyncLogs(ctx context.Context, arg ListSyncLogsParams) ([]SyncLog, error)
	MarkEntitySyncError(ctx context.Context, entity model.EntityType, arg MarkEntitySyncErrorParams) error
	MarkEntitySynced(ctx context.Context, entity model.EntityType, arg MarkEntitySyncedParams) error
	UpdateLocalEntity(ctx context.Context, entity model.EntityType, arg UpdateLocalEntityParams) (Entity, error)
}

var _ Querier = (*Queries)(nil)
