// internal/database/models.go
package database

import (
	"encoding/json"

	"github.com/jackc/pgx/v5/pgtype"
)

// Entity is a row of any synced entity table. Rows with a NULL external_id
// were created locally and are never touched by sync.
type Entity struct {
	ID              int64              `json:"id"`
	ExternalID      pgtype.Text        `json:"external_id"`
	Label           string             `json:"label"`
	Attributes      json.RawMessage    `json:"attributes"`
	RemoteChecksum  pgtype.Text        `json:"remote_checksum"`
	RemoteUpdatedAt pgtype.Timestamptz `json:"remote_updated_at"`
	LocalUpdatedAt  pgtype.Timestamptz `json:"local_updated_at"`
	SyncStatus      pgtype.Text        `json:"sync_status"`
	SyncError       pgtype.Text        `json:"sync_error"`
	LastSyncAt      pgtype.Timestamptz `json:"last_sync_at"`
	CreatedAt       pgtype.Timestamptz `json:"created_at"`
	UpdatedAt       pgtype.Timestamptz `json:"updated_at"`
	DeletedAt       pgtype.Timestamptz `json:"deleted_at"`
}

type SyncLog struct {
	ID               int64              `json:"id"`
	RunID            pgtype.UUID        `json:"run_id"`
	EntityType       string             `json:"entity_type"`
	SyncType         string             `json:"sync_type"`
	StartTime        pgtype.Timestamptz `json:"start_time"`
	EndTime          pgtype.Timestamptz `json:"end_time"`
	RecordsFetched   int32              `json:"records_fetched"`
	RecordsUpdated   int32              `json:"records_updated"`
	RecordsCreated   int32              `json:"records_created"`
	RecordsRetryable int32              `json:"records_retryable"`
	ErrorMessage     pgtype.Text        `json:"error_message"`
	Metadata         json.RawMessage    `json:"metadata"`
}
