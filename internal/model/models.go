// internal/model/models.go
package model

import (
	"fmt"
	"strings"
	"time"

	custom_errors "sipp-sync/internal/errors"
)

// EntityType identifies one kind of record mirrored from SIPP.
type EntityType string

const (
	EntityCaseTypes      EntityType = "case_types"
	EntityCourtRooms     EntityType = "court_rooms"
	EntityJudges         EntityType = "judges"
	EntityCases          EntityType = "cases"
	EntityCourtSchedules EntityType = "court_schedules"
)

// AllEntityTypes lists every synced entity, reference data first.
var AllEntityTypes = []EntityType{
	EntityCaseTypes,
	EntityCourtRooms,
	EntityJudges,
	EntityCases,
	EntityCourtSchedules,
}

var entityTables = map[EntityType]string{
	EntityCaseTypes:      "sipp_case_types",
	EntityCourtRooms:     "sipp_court_rooms",
	EntityJudges:         "sipp_judges",
	EntityCases:          "sipp_cases",
	EntityCourtSchedules: "court_schedules",
}

var entityResources = map[EntityType]string{
	EntityCaseTypes:      "jenis-perkara",
	EntityCourtRooms:     "ruang-sidang",
	EntityJudges:         "hakim",
	EntityCases:          "perkara",
	EntityCourtSchedules: "jadwal-sidang",
}

// ParseEntityType accepts the canonical name; hyphens are treated as underscores.
func ParseEntityType(name string) (EntityType, error) {
	normalized := EntityType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_"))
	if _, ok := entityTables[normalized]; !ok {
		return "", &custom_errors.ErrUnknownEntityType{Name: name}
	}
	return normalized, nil
}

// Table returns the local table holding this entity.
func (e EntityType) Table() string { return entityTables[e] }

// Resource returns the SIPP API path segment for this entity.
func (e EntityType) Resource() string { return entityResources[e] }

func (e EntityType) String() string { return string(e) }

// SyncType selects between a full pull and a pull of records changed since the last successful run.
type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
)

// ParseSyncType defaults to incremental for an empty value.
func ParseSyncType(s string) (SyncType, error) {
	switch SyncType(strings.ToLower(strings.TrimSpace(s))) {
	case "", SyncIncremental:
		return SyncIncremental, nil
	case SyncFull:
		return SyncFull, nil
	default:
		return "", fmt.Errorf("invalid sync type %q, expected full or incremental", s)
	}
}

// SyncStatus is the outcome of the last sync attempt for a record.
// Local-only records carry no status.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSuccess, SyncStatusError:
		return true
	}
	return false
}

// SyncLog is the audit record of one sync run.
type SyncLog struct {
	ID             int64          `json:"id"`
	RunID          string         `json:"run_id"`
	EntityType     EntityType     `json:"entity_type"`
	SyncType       SyncType       `json:"sync_type"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
	RecordsFetched int            `json:"records_fetched"`
	RecordsUpdated int            `json:"records_updated"`
	RecordsCreated int            `json:"records_created"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// WasSuccessful reports whether the run finished without a fatal error.
func (l SyncLog) WasSuccessful() bool {
	return l.ErrorMessage == nil
}

// Duration is zero while the run is still open.
func (l SyncLog) Duration() time.Duration {
	if l.EndTime == nil {
		return 0
	}
	return l.EndTime.Sub(l.StartTime)
}

// SyncStats counts per-record outcomes of a run.
type SyncStats struct {
	Fetched   int `json:"fetched"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Errored   int `json:"errored"`
	Skipped   int `json:"skipped"`
	Unchanged int `json:"unchanged"`
	Pages     int `json:"pages"`
	// Retryable counts errored records that failed on a local write and
	// must be fetched again by the next run.
	Retryable int `json:"retryable"`
}

// Consistent checks created + updated + errored <= fetched.
func (s SyncStats) Consistent() bool {
	return s.Created+s.Updated+s.Errored <= s.Fetched
}
