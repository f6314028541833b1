package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bobarin/longform/internal/models"
	"github.com/bobarin/longform/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Projects is the read/reset surface of the project store.
type Projects interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context, status string, limit, offset int) ([]models.Project, error)
	ResetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
}

// URLSigner produces a time-limited link to a stored object.
type URLSigner interface {
	URL(ctx context.Context, remotePath string) (string, error)
}

// StatsSource reports poll loop counters.
type StatsSource interface {
	Stats() worker.Stats
}

// QueueDepth reports how many projects wait for the publish pipeline.
type QueueDepth interface {
	PublishQueueLength(ctx context.Context) (int64, error)
}

// Emitter publishes status changes made through the API.
type Emitter interface {
	Emit(ctx context.Context, change models.StatusChange) error
}

type Handler struct {
	projects Projects
	signer   URLSigner   // optional
	stats    StatsSource // optional
	queue    QueueDepth  // optional
	emitter  Emitter     // optional
	logger   zerolog.Logger
	now      func() time.Time
}

func NewHandler(projects Projects, signer URLSigner, stats StatsSource, queue QueueDepth, emitter Emitter, logger zerolog.Logger) *Handler {
	return &Handler{
		projects: projects,
		signer:   signer,
		stats:    stats,
		queue:    queue,
		emitter:  emitter,
		logger:   logger.With().Str("component", "api").Logger(),
		now:      time.Now,
	}
}

// ListProjects handles GET /v1/projects?status=&limit=&offset=
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !models.ProjectStatus(status).Valid() {
		respondError(w, http.StatusBadRequest, "Invalid status filter")
		return
	}

	limit := 20
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	projects, err := h.projects.ListProjects(r.Context(), status, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list projects")
		respondError(w, http.StatusInternalServerError, "Failed to list projects")
		return
	}

	responses := lo.Map(projects, func(p models.Project, _ int) models.ProjectResponse {
		return models.ProjectResponse{Project: p}
	})

	respondJSON(w, http.StatusOK, models.ListProjectsResponse{
		Projects: responses,
		Limit:    limit,
		Offset:   offset,
	})
}

// GetProject handles GET /v1/projects/{id}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	project, err := h.projects.GetProject(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.buildProjectResponse(r.Context(), *project))
}

// RetryProject handles POST /v1/projects/{id}/retry
func (h *Handler) RetryProject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	project, err := h.projects.ResetProject(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	h.logger.Info().Str("project_id", id.String()).Msg("project reset for retry")

	if h.emitter != nil {
		change := models.StatusChange{
			ProjectID:  project.ID,
			From:       models.ProjectStatusFailed,
			To:         project.Status,
			Progress:   project.ProcessingProgress,
			OccurredAt: h.now().UTC(),
		}
		if err := h.emitter.Emit(r.Context(), change); err != nil {
			h.logger.Warn().Err(err).Str("project_id", id.String()).Msg("failed to emit status event")
		}
	}
	respondJSON(w, http.StatusAccepted, models.ProjectResponse{Project: *project})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{Status: "ok"}

	if h.stats != nil {
		s := h.stats.Stats()
		if !s.LastTickAt.IsZero() {
			resp.LastTickAt = &s.LastTickAt
		}
		resp.TicksRun = s.TicksRun
		resp.TicksSkipped = s.TicksSkipped
		resp.ProjectsProcessed = s.ProjectsProcessed
		resp.ProjectsFailed = s.ProjectsFailed
	}

	if h.queue != nil {
		if n, err := h.queue.PublishQueueLength(r.Context()); err == nil {
			resp.PublishQueueDepth = &n
		} else {
			h.logger.Warn().Err(err).Msg("failed to read publish queue depth")
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// Helper methods
func (h *Handler) buildProjectResponse(ctx context.Context, p models.Project) models.ProjectResponse {
	resp := models.ProjectResponse{Project: p}

	if h.signer != nil && p.FinalVideoPath != nil && p.Status.HasFinalVideo() {
		if url, err := h.signer.URL(ctx, *p.FinalVideoPath); err == nil {
			resp.FinalVideoURL = &url
		} else {
			h.logger.Warn().Err(err).Str("project_id", p.ID.String()).Msg("failed to sign final video URL")
		}
	}

	return resp
}

func (h *Handler) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, "Project not found")
	case errors.Is(err, models.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error().Err(err).Msg("project store error")
		respondError(w, http.StatusInternalServerError, "Internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
