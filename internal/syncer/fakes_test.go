// internal/syncer/fakes_test.go
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/mock"

	"sipp-sync/internal/database"
	custom_errors "sipp-sync/internal/errors"
	"sipp-sync/internal/lock"
	"sipp-sync/internal/model"
	"sipp-sync/internal/sipp"
)

// testClock is a manually advanced clock shared by the job and the store.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is an in-memory database.Querier with the same row semantics as the SQL queries.
type memStore struct {
	mu     sync.Mutex
	clock  *testClock
	nextID int64
	rows   map[model.EntityType][]*database.Entity
	logs   []*database.SyncLog
	// failCreate fails the next CreateSyncedEntity for an external id.
	failCreate map[string]error
}

var _ database.Querier = (*memStore)(nil)

func newMemStore(clock *testClock) *memStore {
	return &memStore{clock: clock, rows: map[model.EntityType][]*database.Entity{}}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) find(entity model.EntityType, id int64) *database.Entity {
	for _, e := range s.rows[entity] {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *memStore) byStatus(entity model.EntityType, status model.SyncStatus) []database.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.Entity
	for _, e := range s.rows[entity] {
		if e.SyncStatus.Valid && e.SyncStatus.String == string(status) {
			out = append(out, *e)
		}
	}
	return out
}

func (s *memStore) get(entity model.EntityType, externalID string) database.Entity {
	e, err := s.GetEntityByExternalID(context.Background(), entity, externalID)
	if err != nil {
		panic(err)
	}
	return e
}

func (s *memStore) count(entity model.EntityType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[entity])
}

func (s *memStore) logCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

func (s *memStore) GetEntityByExternalID(_ context.Context, entity model.EntityType, externalID string) (database.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.rows[entity] {
		if e.ExternalID.Valid && e.ExternalID.String == externalID {
			return *e, nil
		}
	}
	return database.Entity{}, pgx.ErrNoRows
}

func (s *memStore) CreateSyncedEntity(_ context.Context, entity model.EntityType, arg database.CreateSyncedEntityParams) (database.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failCreate[arg.ExternalID]; ok {
		delete(s.failCreate, arg.ExternalID)
		return database.Entity{}, err
	}
	for _, e := range s.rows[entity] {
		if e.ExternalID.String == arg.ExternalID {
			return database.Entity{}, fmt.Errorf("duplicate external_id %s", arg.ExternalID)
		}
	}
	now := pgtype.Timestamptz{Time: s.clock.Now(), Valid: true}
	e := &database.Entity{
		ID:              s.id(),
		ExternalID:      pgtype.Text{String: arg.ExternalID, Valid: true},
		Label:           arg.Label,
		Attributes:      arg.Attributes,
		RemoteChecksum:  arg.RemoteChecksum,
		RemoteUpdatedAt: arg.RemoteUpdatedAt,
		SyncStatus:      pgtype.Text{String: arg.SyncStatus, Valid: true},
		SyncError:       arg.SyncError,
		LastSyncAt:      arg.LastSyncAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.rows[entity] = append(s.rows[entity], e)
	return *e, nil
}

func (s *memStore) ApplySyncUpdate(_ context.Context, entity model.EntityType, arg database.ApplySyncUpdateParams) (database.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(entity, arg.ID)
	if e == nil || !e.ExternalID.Valid {
		return database.Entity{}, pgx.ErrNoRows
	}
	e.Label = arg.Label
	e.Attributes = arg.Attributes
	e.RemoteChecksum = arg.RemoteChecksum
	e.RemoteUpdatedAt = arg.RemoteUpdatedAt
	e.SyncStatus = pgtype.Text{String: string(model.SyncStatusSuccess), Valid: true}
	e.SyncError = pgtype.Text{}
	e.LastSyncAt = arg.LastSyncAt
	e.UpdatedAt = pgtype.Timestamptz{Time: s.clock.Now(), Valid: true}
	return *e, nil
}

func (s *memStore) MarkEntitySynced(_ context.Context, entity model.EntityType, arg database.MarkEntitySyncedParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.find(entity, arg.ID); e != nil && e.ExternalID.Valid {
		e.SyncStatus = pgtype.Text{String: string(model.SyncStatusSuccess), Valid: true}
		e.SyncError = pgtype.Text{}
		e.LastSyncAt = arg.LastSyncAt
	}
	return nil
}

func (s *memStore) MarkEntitySyncError(_ context.Context, entity model.EntityType, arg database.MarkEntitySyncErrorParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.find(entity, arg.ID); e != nil && e.ExternalID.Valid {
		e.SyncStatus = pgtype.Text{String: string(model.SyncStatusError), Valid: true}
		e.SyncError = pgtype.Text{String: arg.SyncError, Valid: true}
	}
	return nil
}

func (s *memStore) ClearEntitySyncError(_ context.Context, entity model.EntityType, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.find(entity, id); e != nil && e.ExternalID.Valid {
		e.SyncStatus = pgtype.Text{String: string(model.SyncStatusSuccess), Valid: true}
		e.SyncError = pgtype.Text{}
	}
	return nil
}

func (s *memStore) DiscardLocalEdit(_ context.Context, entity model.EntityType, id int64) (database.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(entity, id)
	if e == nil || !e.ExternalID.Valid || e.DeletedAt.Valid {
		return database.Entity{}, pgx.ErrNoRows
	}
	e.LocalUpdatedAt = pgtype.Timestamptz{}
	e.RemoteChecksum = pgtype.Text{}
	e.UpdatedAt = pgtype.Timestamptz{Time: s.clock.Now(), Valid: true}
	return *e, nil
}

func (s *memStore) FailPendingEntities(_ context.Context, entity model.EntityType, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.rows[entity] {
		if e.ExternalID.Valid && e.SyncStatus.String == string(model.SyncStatusPending) {
			e.SyncStatus = pgtype.Text{String: string(model.SyncStatusError), Valid: true}
			e.SyncError = pgtype.Text{String: reason, Valid: true}
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListEntities(_ context.Context, entity model.EntityType, arg database.ListEntitiesParams) ([]database.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []database.Entity{}
	for _, e := range s.rows[entity] {
		if e.DeletedAt.Valid {
			continue
		}
		if arg.SyncStatus.Valid && e.SyncStatus.String != arg.SyncStatus.String {
			continue
		}
		out = append(out, *e)
		if int32(len(out)) == arg.Limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) CreateLocalEntity(_ context.Context, entity model.EntityType, arg database.CreateLocalEntityParams) (database.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := pgtype.Timestamptz{Time: s.clock.Now(), Valid: true}
	e := &database.Entity{
		ID:             s.id(),
		Label:          arg.Label,
		Attributes:     arg.Attributes,
		LocalUpdatedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.rows[entity] = append(s.rows[entity], e)
	return *e, nil
}

func (s *memStore) UpdateLocalEntity(_ context.Context, entity model.EntityType, arg database.UpdateLocalEntityParams) (database.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(entity, arg.ID)
	if e == nil || e.DeletedAt.Valid {
		return database.Entity{}, pgx.ErrNoRows
	}
	if arg.Label.Valid {
		e.Label = arg.Label.String
	}
	if len(arg.Attributes) > 0 {
		e.Attributes = arg.Attributes
	}
	now := pgtype.Timestamptz{Time: s.clock.Now(), Valid: true}
	e.LocalUpdatedAt = now
	e.UpdatedAt = now
	return *e, nil
}

func (s *memStore) CreateSyncLog(_ context.Context, arg database.CreateSyncLogParams) (database.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := &database.SyncLog{
		ID:         s.id(),
		RunID:      arg.RunID,
		EntityType: arg.EntityType,
		SyncType:   arg.SyncType,
		StartTime:  arg.StartTime,
		Metadata:   []byte(`{}`),
	}
	s.logs = append(s.logs, l)
	return *l, nil
}

func (s *memStore) FinishSyncLog(_ context.Context, arg database.FinishSyncLogParams) (database.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.logs {
		if l.ID == arg.ID {
			l.EndTime = arg.EndTime
			l.RecordsFetched = arg.RecordsFetched
			l.RecordsUpdated = arg.RecordsUpdated
			l.RecordsCreated = arg.RecordsCreated
			l.RecordsRetryable = arg.RecordsRetryable
			l.ErrorMessage = arg.ErrorMessage
			l.Metadata = arg.Metadata
			return *l, nil
		}
	}
	return database.SyncLog{}, pgx.ErrNoRows
}

func (s *memStore) ListSyncLogs(_ context.Context, arg database.ListSyncLogsParams) ([]database.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []database.SyncLog{}
	for i := len(s.logs) - 1; i >= 0; i-- {
		l := s.logs[i]
		if arg.EntityType.Valid && l.EntityType != arg.EntityType.String {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

func (s *memStore) GetLastSuccessfulSyncLog(_ context.Context, entityType string) (database.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.logs) - 1; i >= 0; i-- {
		l := s.logs[i]
		if l.EntityType == entityType && l.EndTime.Valid && !l.ErrorMessage.Valid && l.RecordsRetryable == 0 {
			return *l, nil
		}
	}
	return database.SyncLog{}, pgx.ErrNoRows
}

// fakeFetcher serves a fixed record set per entity, paginated by PerPage.
type fakeFetcher struct {
	mu       sync.Mutex
	records  map[model.EntityType][]json.RawMessage
	failPage int
	failErr  error
	requests []sipp.PageRequest
}

func (f *fakeFetcher) set(entity model.EntityType, records []json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records == nil {
		f.records = map[model.EntityType][]json.RawMessage{}
	}
	f.records[entity] = records
}

func (f *fakeFetcher) FetchPage(_ context.Context, entity model.EntityType, req sipp.PageRequest) (sipp.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.failPage != 0 && req.Page == f.failPage {
		return sipp.Page{}, f.failErr
	}
	all := f.records[entity]
	start := (req.Page - 1) * req.PerPage
	if start > len(all) {
		start = len(all)
	}
	end := start + req.PerPage
	if end > len(all) {
		end = len(all)
	}
	return sipp.Page{
		Records: all[start:end],
		Number:  req.Page,
		Total:   len(all),
		HasMore: end < len(all),
	}, nil
}

// memLocker is an in-process lock.Locker.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocker) TryLock(_ context.Context, key string) (lock.Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, custom_errors.ErrSyncInProgress
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// recordingNotifier remembers every failure it was told about.
type recordingNotifier struct {
	mu     sync.Mutex
	failed []model.SyncLog
}

func (n *recordingNotifier) NotifyRunFailed(_ context.Context, log model.SyncLog) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, log)
	return nil
}

// MockQuerier is a mock of the database.Querier interface.
type MockQuerier struct {
	mock.Mock
}

func (m *MockQuerier) ApplySyncUpdate(ctx context.Context, entity model.EntityType, arg database.ApplySyncUpdateParams) (database.Entity, error) {
	args := m.Called(ctx, entity, arg)
	return args.Get(0).(database.Entity), args.Error(1)
}
func (m *MockQuerier) ClearEntitySyncError(ctx context.Context, entity model.EntityType, id int64) error {
	args := m.Called(ctx, entity, id)
	return args.Error(0)
}
func (m *MockQuerier) CreateLocalEntity(ctx context.Context, entity model.EntityType, arg database.CreateLocalEntityParams) (database.Entity, error) {
	args := m.Called(ctx, entity, arg)
	return args.Get(0).(database.Entity), args.Error(1)
}
func (m *MockQuerier) CreateSyncLog(ctx context.Context, arg database.CreateSyncLogParams) (database.SyncLog, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(database.SyncLog), args.Error(1)
}
func (m *MockQuerier) CreateSyncedEntity(ctx context.Context, entity model.EntityType, arg database.CreateSyncedEntityParams) (database.Entity, error) {
	args := m.Called(ctx, entity, arg)
	return args.Get(0).(database.Entity), args.Error(1)
}
func (m *MockQuerier) DiscardLocalEdit(ctx context.Context, entity model.EntityType, id int64) (database.Entity, error) {
	args := m.Called(ctx, entity, id)
	return args.Get(0).(database.Entity), args.Error(1)
}
func (m *MockQuerier) FailPendingEntities(ctx context.Context, entity model.EntityType, reason string) (int64, error) {
	args := m.Called(ctx, entity, reason)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockQuerier) FinishSyncLog(ctx context.Context, arg database.FinishSyncLogParams) (database.SyncLog, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(database.SyncLog), args.Error(1)
}
func (m *MockQuerier) GetEntityByExternalID(ctx context.Context, entity model.EntityType, externalID string) (database.Entity, error) {
	args := m.Called(ctx, entity, externalID)
	return args.Get(0).(database.Entity), args.Error(1)
}
func (m *MockQuerier) GetLastSuccessfulSyncLog(ctx context.Context, entityType string) (database.SyncLog, error) {
	args := m.Called(ctx, entityType)
	return args.Get(0).(database.SyncLog), args.Error(1)
}
func (m *MockQuerier) ListEntities(ctx context.Context, entity model.EntityType, arg database.ListEntitiesParams) ([]database.Entity, error) {
	args := m.Called(ctx, entity, arg)
	return args.Get(0).([]database.Entity), args.Error(1)
}
func (m *MockQuerier) ListSyncLogs(ctx context.Context, arg database.ListSyncLogsParams) ([]database.SyncLog, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).([]database.SyncLog), args.Error(1)
}
func (m *MockQuerier) MarkEntitySyncError(ctx context.Context, entity model.EntityType, arg database.MarkEntitySyncErrorParams) error {
	args := m.Called(ctx, entity, arg)
	return args.Error(0)
}
func (m *MockQuerier) MarkEntitySynced(ctx context.Context, entity model.EntityType, arg database.MarkEntitySyncedParams) error {
	args := m.Called(ctx, entity, arg)
	return args.Error(0)
}
func (m *MockQuerier) UpdateLocalEntity(ctx context.Context, entity model.EntityType, arg database.UpdateLocalEntityParams) (database.Entity, error) {
	args := m.Called(ctx, entity, arg)
	return args.Get(0).(database.Entity), args.Error(1)
}

func testRunID() pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.New(), Valid: true}
}
