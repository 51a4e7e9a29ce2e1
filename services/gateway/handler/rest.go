package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Davide9292/v-try.app-sub001/internal/auth"
	"github.com/Davide9292/v-try.app-sub001/internal/domain"
	"github.com/Davide9292/v-try.app-sub001/internal/kafka"
	"github.com/Davide9292/v-try.app-sub001/internal/postgres"
	"github.com/Davide9292/v-try.app-sub001/internal/quota"
	redisstore "github.com/Davide9292/v-try.app-sub001/internal/redis"
	"github.com/Davide9292/v-try.app-sub001/pkg/telemetry"
)

// maxPayloadBytes bounds the opaque generation payload a client may submit.
const maxPayloadBytes = 64 << 10

// REST handles the gateway's HTTP API.
type REST struct {
	producer kafka.Producer
	store    postgres.JobStore
	cache    redisstore.ViewCache
	events   redisstore.EventPublisher
	quota    *quota.Tracker
	logger   *slog.Logger
}

// NewREST creates a new REST handler.
func NewREST(
	producer kafka.Producer,
	store postgres.JobStore,
	cache redisstore.ViewCache,
	events redisstore.EventPublisher,
	tracker *quota.Tracker,
	logger *slog.Logger,
) *REST {
	return &REST{
		producer: producer,
		store:    store,
		cache:    cache,
		events:   events,
		quota:    tracker,
		logger:   logger,
	}
}

// SubmitRequest is the JSON body for POST /api/v1/generate.
type SubmitRequest struct {
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	InputRef string          `json:"input_ref,omitempty"`
}

// SubmitResponse is the 202 response body.
type SubmitResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusResponse is the job view served by GET /api/v1/status/{id}.
type StatusResponse struct {
	JobID     string           `json:"job_id"`
	Status    domain.Status    `json:"status"`
	Progress  int              `json:"progress"`
	ResultRef string           `json:"result_ref,omitempty"`
	Error     *domain.JobError `json:"error,omitempty"`
}

// Submit handles POST /api/v1/generate.
func (h *REST) Submit(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("gateway").Start(r.Context(), "gateway.submit")
	defer span.End()

	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := domain.Kind(req.Kind)
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "field 'kind' must be IMAGE or VIDEO")
		return
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		writeError(w, http.StatusBadRequest, "field 'payload' is required")
		return
	}
	if len(req.Payload) > maxPayloadBytes {
		writeError(w, http.StatusBadRequest, "payload too large")
		return
	}

	// Quota is the admission gate: consume-then-enqueue, so a surge of
	// submissions can never overshoot the daily limit.
	used, allowed, err := h.quota.TryConsume(ctx, id.OwnerID, id.Tier, kind)
	if err != nil {
		h.logger.Error("quota check failed",
			slog.String("owner_id", id.OwnerID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to check quota")
		return
	}
	if !allowed {
		limit := h.quota.Limit(id.Tier, kind)
		telemetry.GatewayQuotaRejected.WithLabelValues(string(kind), string(id.Tier)).Inc()
		span.SetStatus(codes.Error, "quota exceeded")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": "daily quota exceeded",
			"kind":  string(kind),
			"limit": limit,
			"used":  used,
		})
		return
	}

	jobID := uuid.New().String()
	now := time.Now().UTC()
	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.kind", string(kind)),
	)

	job := &domain.GenerationJob{
		ID:        jobID,
		OwnerID:   id.OwnerID,
		Kind:      kind,
		Status:    domain.StatusQueued,
		Payload:   req.Payload,
		InputRef:  req.InputRef,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.Create(ctx, job); err != nil {
		h.logger.Error("failed to persist job",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	// Job id as the message key keeps re-deliveries of one job in order.
	raw, _ := json.Marshal(domain.QueueMessage{JobID: jobID, OwnerID: id.OwnerID, Kind: kind})
	if err := h.producer.Publish(ctx, kafka.TopicSubmitted, jobID, raw); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "kafka publish failed")
		h.logger.Error("failed to enqueue job",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
		// Row stays QUEUED with no queue entry; surfaced to the client so it
		// can resubmit, and visible in metrics via the 500.
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	if err := h.cache.Put(ctx, redisstore.ViewFromJob(job)); err != nil {
		h.logger.Warn("view cache prime failed",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
	}

	telemetry.GatewayJobsSubmitted.WithLabelValues(string(kind)).Inc()
	h.logger.Info("job submitted",
		slog.String("job_id", jobID),
		slog.String("owner_id", id.OwnerID),
		slog.String("kind", string(kind)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(SubmitResponse{
		JobID:     jobID,
		Status:    string(domain.StatusQueued),
		CreatedAt: now,
	})
}

// GetStatus handles GET /api/v1/status/{id}.
func (h *REST) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required")
		return
	}
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	// Fast path: the Redis view refreshed on every transition.
	if view, err := h.cache.Get(ctx, jobID); err == nil {
		if view.OwnerID != id.OwnerID {
			// Foreign jobs look like missing jobs.
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, viewResponse(view))
		return
	}

	// Slow path: Postgres, then backfill the cache.
	job, err := h.store.GetOwned(ctx, jobID, id.OwnerID)
	if err != nil {
		var notFound *domain.JobNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("status lookup failed",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return
	}
	view := redisstore.ViewFromJob(job)
	if err := h.cache.Put(ctx, view); err != nil {
		h.logger.Warn("view cache backfill failed",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, viewResponse(view))
}

// Cancel handles DELETE /api/v1/cancel/{id}.
func (h *REST) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required")
		return
	}
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	job, err := h.store.Cancel(ctx, jobID, id.OwnerID)
	if err != nil {
		var notFound *domain.JobNotFoundError
		var notOwner *domain.NotOwnerError
		var terminal *domain.AlreadyTerminalError
		switch {
		case errors.As(err, &notFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.As(err, &notOwner):
			writeError(w, http.StatusForbidden, "job belongs to another user")
		case errors.As(err, &terminal):
			writeError(w, http.StatusConflict, "job already "+string(terminal.Status))
		default:
			h.logger.Error("cancel failed",
				slog.String("job_id", jobID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}

	// A worker holding this job discovers the cancellation when its terminal
	// update misses; subscribers hear about it right away.
	view := redisstore.ViewFromJob(job)
	if err := h.cache.Put(ctx, view); err != nil {
		h.logger.Warn("view cache update failed",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
	if err := h.events.PublishEvent(ctx, domain.EventFromJob(job)); err != nil {
		h.logger.Warn("event publish failed",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
	}

	telemetry.GatewayJobsCancelled.Inc()
	h.logger.Info("job cancelled",
		slog.String("job_id", jobID),
		slog.String("owner_id", id.OwnerID),
	)
	writeJSON(w, http.StatusOK, viewResponse(view))
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Readyz handles GET /readyz. Checks the view cache path.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.cache.Get(ctx, "__readyz__"); err != nil {
		var notFound *domain.JobNotFoundError
		if !errors.As(err, &notFound) {
			writeError(w, http.StatusServiceUnavailable, "redis not ready")
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func viewResponse(view redisstore.JobView) StatusResponse {
	return StatusResponse{
		JobID:     view.JobID,
		Status:    view.Status,
		Progress:  view.Progress,
		ResultRef: view.ResultRef,
		Error:     view.Error,
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
