// internal/database/convert.go
package database

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"sipp-sync/internal/model"
)

// ToModel converts a sync_logs row to its domain form. Undecodable metadata is dropped.
func (l SyncLog) ToModel() model.SyncLog {
	out := model.SyncLog{
		ID:             l.ID,
		EntityType:     model.EntityType(l.EntityType),
		SyncType:       model.SyncType(l.SyncType),
		StartTime:      l.StartTime.Time,
		RecordsFetched: int(l.RecordsFetched),
		RecordsUpdated: int(l.RecordsUpdated),
		RecordsCreated: int(l.RecordsCreated),
	}
	if l.RunID.Valid {
		out.RunID = uuid.UUID(l.RunID.Bytes).String()
	}
	if l.EndTime.Valid {
		end := l.EndTime.Time
		out.EndTime = &end
	}
	if l.ErrorMessage.Valid {
		msg := l.ErrorMessage.String
		out.ErrorMessage = &msg
	}
	if len(l.Metadata) > 0 {
		var meta map[string]any
		if err := json.Unmarshal(l.Metadata, &meta); err == nil {
			out.Metadata = meta
		}
	}
	return out
}
