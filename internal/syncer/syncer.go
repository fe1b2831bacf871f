// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"sipp-sync/internal/conflict"
	"sipp-sync/internal/database"
	custom_errors "sipp-sync/internal/errors"
	"sipp-sync/internal/lock"
	"sipp-sync/internal/metrics"
	"sipp-sync/internal/model"
	"sipp-sync/internal/notify"
	"sipp-sync/internal/sipp"
)

// Record outcomes, also used as metric labels.
const (
	outcomeCreated   = "created"
	outcomeUpdated   = "updated"
	outcomeUnchanged = "unchanged"
	outcomeSkipped   = "skipped"
	outcomeError     = "error"
)

// Runner runs one sync of one entity type.
type Runner interface {
	Run(ctx context.Context, entity model.EntityType, syncType model.SyncType) (model.SyncLog, error)
}

// JobConfig holds the sync policy knobs.
type JobConfig struct {
	Enabled   bool
	BatchSize int
	Strategy  conflict.Strategy
}

// Job pulls one entity type from SIPP into its local table and records the run in sync_logs.
type Job struct {
	q        database.Querier
	client   sipp.Fetcher
	locker   lock.Locker
	notifier notify.Notifier
	logger   *slog.Logger
	cfg      JobConfig
	now      func() time.Time
}

var _ Runner = (*Job)(nil)

// NewJob creates a new Job instance.
func NewJob(q database.Querier, client sipp.Fetcher, locker lock.Locker, notifier notify.Notifier, logger *slog.Logger, cfg JobConfig) *Job {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Job{
		q:        q,
		client:   client,
		locker:   locker,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run executes one sync run. The returned log is always the persisted row
// when the run got far enough to create one; the error is the run's fatal
// error, errors.ErrSyncInProgress or errors.ErrSyncDisabled.
func (j *Job) Run(ctx context.Context, entity model.EntityType, syncType model.SyncType) (model.SyncLog, error) {
	if !j.cfg.Enabled {
		return model.SyncLog{}, custom_errors.ErrSyncDisabled
	}
	if entity.Table() == "" {
		return model.SyncLog{}, &custom_errors.ErrUnknownEntityType{Name: string(entity)}
	}

	unlock, err := j.locker.TryLock(ctx, lock.SyncKey(string(entity)))
	if err != nil {
		if errors.Is(err, custom_errors.ErrSyncInProgress) {
			metrics.SyncRunsSkipped.WithLabelValues(string(entity)).Inc()
		}
		return model.SyncLog{}, err
	}
	defer unlock()

	runID := uuid.New()
	start := j.now()
	logger := j.logger.With("entity", string(entity), "sync_type", string(syncType), "run_id", runID.String())
	logger.Info("Starting SIPP sync run", "strategy", j.cfg.Strategy.String(), "batch_size", j.cfg.BatchSize)

	row, err := j.q.CreateSyncLog(ctx, database.CreateSyncLogParams{
		RunID:      pgtype.UUID{Bytes: runID, Valid: true},
		EntityType: string(entity),
		SyncType:   string(syncType),
		StartTime:  timestamptz(start),
	})
	if err != nil {
		return model.SyncLog{}, fmt.Errorf("create sync log: %w", err)
	}

	r := &run{job: j, entity: entity, logger: logger}
	r.failPending(ctx, "left pending by an interrupted sync run")
	runErr := r.execute(ctx, syncType)

	// The log must be closed even when the caller's context is gone.
	finishCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		r.failPending(finishCtx, "sync run aborted before this record was processed")
	}

	finished, err := j.finishLog(finishCtx, row.ID, r, runErr)
	if err != nil {
		logger.Error("Failed to finish sync log", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("finish sync log: %w", err)
		}
	}
	if finished.ID == 0 {
		finished = row.ToModel()
	}

	result := "success"
	if runErr != nil {
		result = "failure"
	}
	metrics.SyncRuns.WithLabelValues(string(entity), string(syncType), result).Inc()
	metrics.SyncDuration.WithLabelValues(string(entity)).Observe(j.now().Sub(start).Seconds())

	if runErr != nil {
		logger.Error("SIPP sync run failed", "error", runErr, "fetched", r.stats.Fetched, "created", r.stats.Created, "updated", r.stats.Updated, "errored", r.stats.Errored)
		if err := j.notifier.NotifyRunFailed(finishCtx, finished); err != nil {
			logger.Error("Failed to send failure notification", "error", err)
		}
		return finished, runErr
	}

	logger.Info("SIPP sync run finished",
		"fetched", r.stats.Fetched,
		"created", r.stats.Created,
		"updated", r.stats.Updated,
		"unchanged", r.stats.Unchanged,
		"skipped", r.stats.Skipped,
		"errored", r.stats.Errored,
		"duration", finished.Duration().String(),
	)
	return finished, nil
}

func (j *Job) finishLog(ctx context.Context, id int64, r *run, runErr error) (model.SyncLog, error) {
	if !r.stats.Consistent() {
		r.logger.Warn("Sync counters exceed fetched records",
			"fetched", r.stats.Fetched,
			"created", r.stats.Created,
			"updated", r.stats.Updated,
			"errored", r.stats.Errored,
		)
	}
	meta := map[string]any{
		"errored":   r.stats.Errored,
		"skipped":   r.stats.Skipped,
		"unchanged": r.stats.Unchanged,
		"pages":     r.stats.Pages,
		"retryable": r.stats.Retryable,
		"strategy":  j.cfg.Strategy.String(),
	}
	if r.since != nil {
		meta["updated_since"] = r.since.UTC().Format(time.RFC3339)
	}
	if r.firstRecordErr != "" {
		meta["first_record_error"] = r.firstRecordErr
	}
	if r.danglingPending > 0 {
		meta["pending_marked_error"] = r.danglingPending
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return model.SyncLog{}, err
	}

	var errMsg pgtype.Text
	if runErr != nil {
		errMsg = pgtype.Text{String: runErr.Error(), Valid: true}
	}

	row, err := j.q.FinishSyncLog(ctx, database.FinishSyncLogParams{
		ID:               id,
		EndTime:          timestamptz(j.now()),
		RecordsFetched:   int32(r.stats.Fetched),
		RecordsUpdated:   int32(r.stats.Updated),
		RecordsCreated:   int32(r.stats.Created),
		RecordsRetryable: int32(r.stats.Retryable),
		ErrorMessage:     errMsg,
		Metadata:         metaJSON,
	})
	if err != nil {
		return model.SyncLog{}, err
	}
	return row.ToModel(), nil
}

// run holds the state of a single Job.Run.
type run struct {
	job             *Job
	entity          model.EntityType
	logger          *slog.Logger
	stats           model.SyncStats
	since           *time.Time
	firstRecordErr  string
	danglingPending int64
}

func (r *run) execute(ctx context.Context, syncType model.SyncType) error {
	if syncType == model.SyncIncremental {
		since, err := r.job.incrementalSince(ctx, r.entity)
		if err != nil {
			return err
		}
		r.since = since
		if since == nil {
			r.logger.Info("No previous successful run, fetching everything")
		}
	}

	for page := 1; ; page++ {
		p, err := r.job.client.FetchPage(ctx, r.entity, sipp.PageRequest{
			Page:         page,
			PerPage:      r.job.cfg.BatchSize,
			UpdatedSince: r.since,
		})
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", page, err)
		}
		r.stats.Pages++
		r.stats.Fetched += len(p.Records)
		r.logger.Debug("Processing SIPP page", "page", p.Number, "records", len(p.Records))

		for _, raw := range p.Records {
			outcome := r.processRecord(ctx, raw)
			metrics.SyncRecords.WithLabelValues(string(r.entity), outcome).Inc()
			switch outcome {
			case outcomeCreated:
				r.stats.Created++
			case outcomeUpdated:
				r.stats.Updated++
			case outcomeUnchanged:
				r.stats.Unchanged++
			case outcomeSkipped:
				r.stats.Skipped++
			default:
				r.stats.Errored++
			}
		}

		if !p.HasMore || len(p.Records) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (r *run) failPending(ctx context.Context, reason string) {
	n, err := r.job.q.FailPendingEntities(ctx, r.entity, reason)
	if err != nil {
		r.logger.Error("Failed to resolve pending records", "error", err)
		return
	}
	if n > 0 {
		r.logger.Warn("Marked pending records as errored", "count", n, "reason", reason)
	}
	r.danglingPending += n
}

// incrementalSince returns the start of the last successful run that left no
// records to retry, or nil when there is none.
func (j *Job) incrementalSince(ctx context.Context, entity model.EntityType) (*time.Time, error) {
	last, err := j.q.GetLastSuccessfulSyncLog(ctx, string(entity))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load last successful sync: %w", err)
	}
	if !last.StartTime.Valid {
		return nil, nil
	}
	since := last.StartTime.Time
	return &since, nil
}

// processRecord stores one remote record and returns its outcome. Failures
// are recorded on the row and never abort the run.
func (r *run) processRecord(ctx context.Context, raw []byte) string {
	q := r.job.q
	now := r.job.now()

	rec, err := model.DecodeRecord(r.entity, raw)
	if err != nil {
		var vErr *custom_errors.ValidationError
		externalID := ""
		if errors.As(err, &vErr) {
			externalID = vErr.ExternalID
		}
		r.recordFailure(ctx, externalID, raw, err)
		return outcomeError
	}

	existing, err := q.GetEntityByExternalID(ctx, r.entity, rec.ExternalID)
	if errors.Is(err, pgx.ErrNoRows) {
		_, err := q.CreateSyncedEntity(ctx, r.entity, database.CreateSyncedEntityParams{
			ExternalID:      rec.ExternalID,
			Label:           rec.Label,
			Attributes:      rec.Attributes,
			RemoteChecksum:  pgtype.Text{String: rec.Checksum, Valid: true},
			RemoteUpdatedAt: optionalTimestamptz(rec.RemoteUpdatedAt),
			SyncStatus:      string(model.SyncStatusSuccess),
			LastSyncAt:      timestamptz(now),
		})
		if err != nil {
			r.stats.Retryable++
			r.noteRecordError(rec.ExternalID, fmt.Errorf("create: %w", err))
			return outcomeError
		}
		return outcomeCreated
	}
	if err != nil {
		r.stats.Retryable++
		r.noteRecordError(rec.ExternalID, fmt.Errorf("lookup: %w", err))
		return outcomeError
	}

	if existing.DeletedAt.Valid {
		r.logger.Debug("Skipping soft-deleted record", "external_id", rec.ExternalID)
		return outcomeSkipped
	}

	local := localState(existing)

	if existing.RemoteChecksum.Valid && existing.RemoteChecksum.String == rec.Checksum {
		// last_sync_at stays put on a locally edited row, otherwise the edit
		// would stop counting as dirty.
		if local.Dirty() {
			if existing.SyncStatus.String == string(model.SyncStatusSuccess) {
				return outcomeUnchanged
			}
			if err := q.ClearEntitySyncError(ctx, r.entity, existing.ID); err != nil {
				r.markRetryable(ctx, existing.ID, rec.ExternalID, fmt.Errorf("clear sync error: %w", err))
				return outcomeError
			}
			return outcomeUnchanged
		}
		if err := q.MarkEntitySynced(ctx, r.entity, database.MarkEntitySyncedParams{
			ID:         existing.ID,
			LastSyncAt: timestamptz(now),
		}); err != nil {
			r.markRetryable(ctx, existing.ID, rec.ExternalID, fmt.Errorf("mark synced: %w", err))
			return outcomeError
		}
		return outcomeUnchanged
	}

	decision := r.job.cfg.Strategy.Resolve(local, conflict.RemoteState{UpdatedAt: rec.RemoteUpdatedAt})
	switch decision.Outcome {
	case conflict.KeepLocal:
		r.logger.Debug("Keeping local version", "external_id", rec.ExternalID, "reason", decision.Reason)
		return outcomeSkipped
	case conflict.Flag:
		r.markError(ctx, existing.ID, rec.ExternalID, &custom_errors.ConflictError{ExternalID: rec.ExternalID})
		return outcomeError
	}

	if _, err := q.ApplySyncUpdate(ctx, r.entity, database.ApplySyncUpdateParams{
		ID:              existing.ID,
		Label:           rec.Label,
		Attributes:      rec.Attributes,
		RemoteChecksum:  pgtype.Text{String: rec.Checksum, Valid: true},
		RemoteUpdatedAt: optionalTimestamptz(rec.RemoteUpdatedAt),
		LastSyncAt:      timestamptz(now),
	}); err != nil {
		r.markRetryable(ctx, existing.ID, rec.ExternalID, fmt.Errorf("update: %w", err))
		return outcomeError
	}
	return outcomeUpdated
}

// recordFailure marks the row of an undecodable record as errored, creating
// it when SIPP's id is known but the row does not exist yet.
func (r *run) recordFailure(ctx context.Context, externalID string, raw []byte, cause error) {
	r.noteRecordError(externalID, cause)
	if externalID == "" {
		return
	}

	q := r.job.q
	existing, err := q.GetEntityByExternalID(ctx, r.entity, externalID)
	if err == nil {
		r.markError(ctx, existing.ID, externalID, cause)
		return
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("Failed to look up invalid record", "external_id", externalID, "error", err)
		return
	}

	attrs := raw
	if !json.Valid(attrs) {
		attrs = []byte(`{}`)
	}
	if _, err := q.CreateSyncedEntity(ctx, r.entity, database.CreateSyncedEntityParams{
		ExternalID: externalID,
		Attributes: attrs,
		SyncStatus: string(model.SyncStatusError),
		SyncError:  pgtype.Text{String: cause.Error(), Valid: true},
	}); err != nil {
		r.logger.Error("Failed to store invalid record", "external_id", externalID, "error", err)
	}
}

func (r *run) markError(ctx context.Context, id int64, externalID string, cause error) {
	r.noteRecordError(externalID, cause)
	if err := r.job.q.MarkEntitySyncError(ctx, r.entity, database.MarkEntitySyncErrorParams{
		ID:        id,
		SyncError: cause.Error(),
	}); err != nil {
		r.logger.Error("Failed to mark record as errored", "external_id", externalID, "error", err)
	}
}

// markRetryable marks a record that failed on a local write. The run then
// does not count as a cursor for incremental syncs.
func (r *run) markRetryable(ctx context.Context, id int64, externalID string, cause error) {
	r.stats.Retryable++
	r.markError(ctx, id, externalID, cause)
}

func (r *run) noteRecordError(externalID string, err error) {
	r.logger.Warn("SIPP record failed", "external_id", externalID, "error", err)
	if r.firstRecordErr == "" {
		r.firstRecordErr = err.Error()
	}
}

func localState(e database.Entity) conflict.LocalState {
	var s conflict.LocalState
	if e.LocalUpdatedAt.Valid {
		t := e.LocalUpdatedAt.Time
		s.LocalUpdatedAt = &t
	}
	if e.LastSyncAt.Valid {
		t := e.LastSyncAt.Time
		s.LastSyncAt = &t
	}
	if e.RemoteUpdatedAt.Valid {
		t := e.RemoteUpdatedAt.Time
		s.RemoteUpdatedAt = &t
	}
	return s
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return timestamptz(t)
}
