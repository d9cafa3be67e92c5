package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	engine "github.com/ZerkerEOD/autopwn/internal/jobs"
	"github.com/ZerkerEOD/autopwn/internal/middleware"
	"github.com/ZerkerEOD/autopwn/internal/models"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

// Controller is the lifecycle surface the handler drives
type Controller interface {
	Get(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error)
	Pause(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error)
	Resume(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error)
	Stop(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error)
	Restart(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error)
	SetPriority(ctx context.Context, id, ownerID uuid.UUID, priority int) (*models.Job, error)
	Delete(ctx context.Context, id, ownerID uuid.UUID) error
}

// ItemLister lists the networks of a job
type ItemLister interface {
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.JobItem, error)
}

// ResultLister lists the recovered passwords of a job
type ResultLister interface {
	ListByJob(ctx context.Context, jobID, ownerID uuid.UUID) ([]models.Result, error)
}

// OwnerCache is told about deleted jobs so it can drop them
type OwnerCache interface {
	Forget(jobID uuid.UUID)
}

// ControlHandler serves the job lifecycle endpoints
type ControlHandler struct {
	controller Controller
	items      ItemLister
	results    ResultLister
	owners     OwnerCache
}

// NewControlHandler creates the handler. owners may be nil.
func NewControlHandler(controller Controller, items ItemLister, results ResultLister, owners OwnerCache) *ControlHandler {
	return &ControlHandler{controller: controller, items: items, results: results, owners: owners}
}

// JobDetail is the GET /api/jobs/{id} response
type JobDetail struct {
	Job     *models.Job      `json:"job"`
	Items   []models.JobItem `json:"items"`
	Results []models.Result  `json:"results"`
}

// GetJob handles GET /api/jobs/{id}
func (h *ControlHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID, userID, ok := h.parseRequest(w, r)
	if !ok {
		return
	}

	job, err := h.controller.Get(ctx, jobID, userID)
	if err != nil {
		h.sendLifecycleError(w, "get", jobID, err)
		return
	}

	items, err := h.items.ListByJob(ctx, jobID)
	if err != nil {
		debug.Error("Failed to list items of job %s: %v", jobID, err)
		sendError(w, "Internal server error", "INTERNAL", http.StatusInternalServerError)
		return
	}
	results, err := h.results.ListByJob(ctx, jobID, userID)
	if err != nil {
		debug.Error("Failed to list results of job %s: %v", jobID, err)
		sendError(w, "Internal server error", "INTERNAL", http.StatusInternalServerError)
		return
	}

	if items == nil {
		items = []models.JobItem{}
	}
	if results == nil {
		results = []models.Result{}
	}
	writeJSON(w, http.StatusOK, JobDetail{Job: job, Items: items, Results: results})
}

// PauseJob handles POST /api/jobs/{id}/pause
func (h *ControlHandler) PauseJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "pause", h.controller.Pause)
}

// ResumeJob handles POST /api/jobs/{id}/resume
func (h *ControlHandler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "resume", h.controller.Resume)
}

// StopJob handles POST /api/jobs/{id}/stop
func (h *ControlHandler) StopJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "stop", h.controller.Stop)
}

// RestartJob handles POST /api/jobs/{id}/restart
func (h *ControlHandler) RestartJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "restart", h.controller.Restart)
}

type priorityRequest struct {
	Priority *int `json:"priority"`
}

// SetPriority handles PATCH /api/jobs/{id}/priority
func (h *ControlHandler) SetPriority(w http.ResponseWriter, r *http.Request) {
	jobID, userID, ok := h.parseRequest(w, r)
	if !ok {
		return
	}

	var req priorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Priority == nil {
		sendError(w, "Body must be {\"priority\": <integer>}", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	job, err := h.controller.SetPriority(r.Context(), jobID, userID, *req.Priority)
	if err != nil {
		h.sendLifecycleError(w, "set priority of", jobID, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DeleteJob handles DELETE /api/jobs/{id}
func (h *ControlHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, userID, ok := h.parseRequest(w, r)
	if !ok {
		return
	}

	if err := h.controller.Delete(r.Context(), jobID, userID); err != nil {
		h.sendLifecycleError(w, "delete", jobID, err)
		return
	}
	if h.owners != nil {
		h.owners.Forget(jobID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Job deleted successfully"})
}

func (h *ControlHandler) transition(w http.ResponseWriter, r *http.Request, action string,
	op func(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error)) {
	jobID, userID, ok := h.parseRequest(w, r)
	if !ok {
		return
	}

	job, err := op(r.Context(), jobID, userID)
	if err != nil {
		h.sendLifecycleError(w, action, jobID, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *ControlHandler) parseRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		sendError(w, "User ID required", "AUTH_MISSING_CREDENTIALS", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}

	jobID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		sendError(w, "Invalid job ID", "INVALID_JOB_ID", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return jobID, userID, true
}

func (h *ControlHandler) sendLifecycleError(w http.ResponseWriter, action string, jobID uuid.UUID, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		sendError(w, "Job not found", "JOB_NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, engine.ErrJobProcessing):
		sendError(w, "Job is processing; pause or stop it first", "JOB_PROCESSING", http.StatusConflict)
	case errors.Is(err, engine.ErrInvalidTransition):
		sendError(w, "Cannot "+action+" job in its current status", "INVALID_TRANSITION", http.StatusConflict)
	default:
		debug.Error("Failed to %s job %s: %v", action, jobID, err)
		sendError(w, "Internal server error", "INTERNAL", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		debug.Error("Failed to encode response: %v", err)
	}
}

func sendError(w http.ResponseWriter, message, code string, status int) {
	writeJSON(w, status, middleware.APIError{Error: message, Code: code})
}
