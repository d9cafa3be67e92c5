package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	jobhandlers "github.com/ZerkerEOD/autopwn/internal/handlers/jobs"
	wshandler "github.com/ZerkerEOD/autopwn/internal/handlers/websocket"
	"github.com/ZerkerEOD/autopwn/internal/middleware"
	"github.com/ZerkerEOD/autopwn/internal/services"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

// EngineStatus is the worker snapshot reported by /health
type EngineStatus struct {
	State string    `json:"state"`
	JobID string    `json:"job_id,omitempty"`
	PID   int       `json:"pid,omitempty"`
	Since time.Time `json:"since"`
}

// Dependencies are the services the routes are built from
type Dependencies struct {
	Controller jobhandlers.Controller
	Items      jobhandlers.ItemLister
	Results    jobhandlers.ResultLister
	Hub        *services.JobNotificationHub
	// EngineStatus reports what the worker is doing
	EngineStatus func() EngineStatus
}

// NewRouter builds the HTTP surface: the job control API, the job event
// stream and an unauthenticated health check.
func NewRouter(deps Dependencies) *mux.Router {
	debug.Info("Setting up routes")
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := EngineStatus{State: "unknown"}
		if deps.EngineStatus != nil {
			status = deps.EngineStatus()
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "engine": status})
	}).Methods(http.MethodGet)

	control := jobhandlers.NewControlHandler(deps.Controller, deps.Items, deps.Results, deps.Hub)
	api := router.PathPrefix("/api/jobs").Subrouter()
	api.Use(middleware.UserIDMiddleware)
	api.HandleFunc("/{id}", control.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/{id}", control.DeleteJob).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/pause", control.PauseJob).Methods(http.MethodPost)
	api.HandleFunc("/{id}/resume", control.ResumeJob).Methods(http.MethodPost)
	api.HandleFunc("/{id}/stop", control.StopJob).Methods(http.MethodPost)
	api.HandleFunc("/{id}/restart", control.RestartJob).Methods(http.MethodPost)
	api.HandleFunc("/{id}/priority", control.SetPriority).Methods(http.MethodPatch)

	ws := wshandler.NewJobNotificationHandler(deps.Hub)
	wsRouter := router.PathPrefix("/ws").Subrouter()
	wsRouter.Use(middleware.UserIDMiddleware)
	wsRouter.HandleFunc("/jobs", ws.ServeWS).Methods(http.MethodGet)

	debug.Info("Routes configured")
	return router
}
