// internal/api/handler.go
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sipp-sync/internal/database"
	custom_errors "sipp-sync/internal/errors"
	"sipp-sync/internal/model"
	"sipp-sync/internal/syncer"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Handler is the container for API dependencies.
type Handler struct {
	db     database.Querier
	runner syncer.Runner
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db database.Querier, runner syncer.Runner, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:     db,
		runner: runner,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Get("/health", h.healthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/sync/logs", h.listSyncLogs)
		r.Post("/sync/{entity}", h.triggerSync)
		r.Get("/entities/{entity}", h.listEntities)
		r.Post("/entities/{entity}", h.createLocalEntity)
		r.Patch("/entities/{entity}/{id}", h.updateLocalEntity)
		r.Post("/entities/{entity}/{id}/accept-remote", h.acceptRemote)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// triggerSync runs a sync for one entity type and waits for it to finish.
// POST /v1/sync/{entity}?type=full|incremental
func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.entityParam(w, r)
	if !ok {
		return
	}
	syncType, err := model.ParseSyncType(r.URL.Query().Get("type"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	// A client disconnect must not abort a run halfway through.
	log, err := h.runner.Run(context.WithoutCancel(r.Context()), entity, syncType)
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, log)
	case errors.Is(err, custom_errors.ErrSyncInProgress):
		respondWithError(w, http.StatusConflict, "A sync for this entity is already in progress")
	case errors.Is(err, custom_errors.ErrSyncDisabled):
		respondWithError(w, http.StatusServiceUnavailable, "SIPP sync is disabled")
	case log.ID != 0:
		respondWithJSON(w, http.StatusBadGateway, log)
	default:
		h.logger.Error("Failed to run sync", "entity", entity, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// listSyncLogs returns the most recent sync runs.
// GET /v1/sync/logs?entity=cases&limit=N
func (h *Handler) listSyncLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	var entityFilter pgtype.Text
	if name := r.URL.Query().Get("entity"); name != "" {
		entity, err := model.ParseEntityType(name)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		entityFilter = pgtype.Text{String: string(entity), Valid: true}
	}

	rows, err := h.db.ListSyncLogs(r.Context(), database.ListSyncLogsParams{
		EntityType: entityFilter,
		Limit:      limit,
	})
	if err != nil {
		h.logger.Error("Failed to list sync logs", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	logs := make([]model.SyncLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, row.ToModel())
	}
	respondWithJSON(w, http.StatusOK, logs)
}

// listEntities handles the filtered entity view.
// GET /v1/entities/{entity}?sync_status=error&limit=N
func (h *Handler) listEntities(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.entityParam(w, r)
	if !ok {
		return
	}
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	var status pgtype.Text
	if s := r.URL.Query().Get("sync_status"); s != "" {
		if !model.SyncStatus(s).Valid() {
			respondWithError(w, http.StatusBadRequest, "Invalid 'sync_status' parameter. Must be one of pending, success, error.")
			return
		}
		status = pgtype.Text{String: s, Valid: true}
	}

	rows, err := h.db.ListEntities(r.Context(), entity, database.ListEntitiesParams{
		SyncStatus: status,
		Limit:      limit,
	})
	if err != nil {
		h.logger.Error("Failed to list entities", "entity", entity, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, rows)
}

type createEntityRequest struct {
	Label      string          `json:"label" validate:"required,max=255"`
	Attributes json.RawMessage `json:"attributes"`
}

// createLocalEntity stores a row that only exists locally and is never synced.
// POST /v1/entities/{entity}
func (h *Handler) createLocalEntity(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.entityParam(w, r)
	if !ok {
		return
	}
	var req createEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := model.Validate(req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if !validAttributes(req.Attributes) {
		respondWithError(w, http.StatusUnprocessableEntity, "'attributes' must be a JSON object")
		return
	}

	row, err := h.db.CreateLocalEntity(r.Context(), entity, database.CreateLocalEntityParams{
		Label:      req.Label,
		Attributes: []byte(req.Attributes),
	})
	if err != nil {
		h.logger.Error("Failed to create entity", "entity", entity, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusCreated, row)
}

type updateEntityRequest struct {
	Label      *string         `json:"label" validate:"omitempty,min=1,max=255"`
	Attributes json.RawMessage `json:"attributes"`
}

// updateLocalEntity records a local edit, which later syncs treat as a conflict.
// PATCH /v1/entities/{entity}/{id}
func (h *Handler) updateLocalEntity(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.entityParam(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req updateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := model.Validate(req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if !validAttributes(req.Attributes) {
		respondWithError(w, http.StatusUnprocessableEntity, "'attributes' must be a JSON object")
		return
	}
	if req.Label == nil && len(req.Attributes) == 0 {
		respondWithError(w, http.StatusUnprocessableEntity, "Nothing to update")
		return
	}

	params := database.UpdateLocalEntityParams{ID: id, Attributes: []byte(req.Attributes)}
	if req.Label != nil {
		params.Label = pgtype.Text{String: *req.Label, Valid: true}
	}
	row, err := h.db.UpdateLocalEntity(r.Context(), entity, params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Entity not found")
			return
		}
		h.logger.Error("Failed to update entity", "entity", entity, "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, row)
}

// acceptRemote drops the local edit of a synced row so the next run takes
// the SIPP version. It is how operators settle rows flagged for manual resolution.
// POST /v1/entities/{entity}/{id}/accept-remote
func (h *Handler) acceptRemote(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.entityParam(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	row, err := h.db.DiscardLocalEdit(r.Context(), entity, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Synced entity not found")
			return
		}
		h.logger.Error("Failed to discard local edit", "entity", entity, "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.logger.Info("Local edit discarded", "entity", entity, "id", id)
	respondWithJSON(w, http.StatusOK, row)
}

func (h *Handler) entityParam(w http.ResponseWriter, r *http.Request) (model.EntityType, bool) {
	entity, err := model.ParseEntityType(chi.URLParam(r, "entity"))
	if err != nil {
		respondWithError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return entity, true
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid entity id")
		return 0, false
	}
	return id, true
}

func limitParam(w http.ResponseWriter, r *http.Request) (int32, bool) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultLimit, true
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > maxLimit {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 100.")
		return 0, false
	}
	return int32(limit), true
}

// validAttributes accepts an absent value or a JSON object.
func validAttributes(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	var obj map[string]any
	return json.Unmarshal(raw, &obj) == nil && obj != nil
}
