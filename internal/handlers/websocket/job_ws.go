package websocket

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ZerkerEOD/autopwn/internal/middleware"
	"github.com/ZerkerEOD/autopwn/internal/services"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

var jobNotificationUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the gateway in front of the service enforces origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// JobNotificationHandler upgrades job event subscriptions
type JobNotificationHandler struct {
	hub *services.JobNotificationHub
}

// NewJobNotificationHandler creates the handler
func NewJobNotificationHandler(hub *services.JobNotificationHub) *JobNotificationHandler {
	return &JobNotificationHandler{hub: hub}
}

// ServeWS handles GET /ws/jobs. The optional job_id query parameter limits
// the stream to one job; otherwise every job of the user is streamed.
func (h *JobNotificationHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		debug.Warning("WebSocket connection attempt without user ID in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	jobID := uuid.Nil
	if raw := r.URL.Query().Get("job_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid job ID", http.StatusBadRequest)
			return
		}
		jobID = parsed
	}

	conn, err := jobNotificationUpgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Error("Failed to upgrade WebSocket connection: %v", err)
		return
	}

	client := services.NewJobNotificationClient(h.hub, userID, jobID, conn)
	h.hub.Register(client)
	go client.WritePump()
	go client.ReadPump()

	debug.Log("Job notification WebSocket connection established", map[string]interface{}{
		"user_id":     userID,
		"job_id":      jobID,
		"remote_addr": r.RemoteAddr,
	})
}
