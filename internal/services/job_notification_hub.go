package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ZerkerEOD/autopwn/internal/models"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// JobOwnerResolver finds the owner of a job so events reach only that user
type JobOwnerResolver interface {
	GetOwner(ctx context.Context, jobID uuid.UUID) (uuid.UUID, error)
}

// JobNotificationHub fans job events out to the owner's WebSocket clients
type JobNotificationHub struct {
	// owner ID -> connected clients
	clients map[uuid.UUID]map[*JobNotificationClient]bool
	// job ID -> owner ID
	owners   map[uuid.UUID]uuid.UUID
	resolver JobOwnerResolver

	register   chan *JobNotificationClient
	unregister chan *JobNotificationClient
	// published events waiting for their owner to be resolved
	pending   chan *jobBroadcast
	broadcast chan *jobBroadcast

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// JobNotificationClient is one connected subscriber. A nil jobID receives
// events of every job the user owns.
type JobNotificationClient struct {
	hub     *JobNotificationHub
	userID  uuid.UUID
	jobID   uuid.UUID
	conn    *websocket.Conn
	send    chan []byte
	closeCh chan struct{}
}

type jobBroadcast struct {
	ownerID uuid.UUID
	jobID   uuid.UUID
	message []byte
}

// WSMessage is a control message exchanged with clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewJobNotificationHub creates a hub
func NewJobNotificationHub(resolver JobOwnerResolver) *JobNotificationHub {
	return &JobNotificationHub{
		clients:    make(map[uuid.UUID]map[*JobNotificationClient]bool),
		owners:     make(map[uuid.UUID]uuid.UUID),
		resolver:   resolver,
		register:   make(chan *JobNotificationClient, 256),
		unregister: make(chan *JobNotificationClient, 256),
		pending:    make(chan *jobBroadcast, 256),
		broadcast:  make(chan *jobBroadcast, 256),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the hub's main loop
func (h *JobNotificationHub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	debug.Info("Starting job notification hub")
	go h.run()
	go h.dispatch()
}

// Stop closes every client and ends the main loop
func (h *JobNotificationHub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	close(h.stopCh)
	h.running = false
	debug.Info("Job notification hub stopped")
}

func (h *JobNotificationHub) run() {
	for {
		select {
		case <-h.stopCh:
			h.mu.Lock()
			for _, clients := range h.clients {
				for client := range clients {
					close(client.closeCh)
				}
			}
			h.clients = make(map[uuid.UUID]map[*JobNotificationClient]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*JobNotificationClient]bool)
			}
			h.clients[client.userID][client] = true
			h.mu.Unlock()

			debug.Log("Job notification client registered", map[string]interface{}{
				"user_id":       client.userID,
				"job_id":        client.jobID,
				"total_clients": h.GetConnectionCount(client.userID),
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.userID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.clients, client.userID)
					}
				}
			}
			h.mu.Unlock()

			debug.Log("Job notification client unregistered", map[string]interface{}{
				"user_id": client.userID,
			})

		case b := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients[b.ownerID] {
				if client.jobID != uuid.Nil && client.jobID != b.jobID {
					continue
				}
				select {
				case client.send <- b.message:
				default:
					debug.Warning("Client send buffer full, dropping job event for user %s", b.ownerID)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish queues a job event for the job owner's clients. It never blocks:
// the owner is looked up by the dispatcher, and when the hub is backed up
// the event is dropped.
func (h *JobNotificationHub) Publish(jobID uuid.UUID, event models.JobEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		debug.Error("Failed to marshal %s event for job %s: %v", event.Type, jobID, err)
		return
	}

	select {
	case h.pending <- &jobBroadcast{jobID: jobID, message: data}:
	default:
		debug.Warning("Notification queue full, dropping %s event for job %s", event.Type, jobID)
	}
}

// dispatch resolves the owner of each published event in publish order and
// hands it to the main loop.
func (h *JobNotificationHub) dispatch() {
	for {
		select {
		case <-h.stopCh:
			return
		case b := <-h.pending:
			ownerID, ok := h.ownerOf(b.jobID)
			if !ok {
				continue
			}
			b.ownerID = ownerID
			select {
			case h.broadcast <- b:
			case <-h.stopCh:
				return
			}
		}
	}
}

func (h *JobNotificationHub) ownerOf(jobID uuid.UUID) (uuid.UUID, bool) {
	h.mu.RLock()
	ownerID, ok := h.owners[jobID]
	h.mu.RUnlock()
	if ok {
		return ownerID, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ownerID, err := h.resolver.GetOwner(ctx, jobID)
	if err != nil {
		debug.Warning("Cannot route event of job %s: %v", jobID, err)
		return uuid.Nil, false
	}

	h.mu.Lock()
	h.owners[jobID] = ownerID
	h.mu.Unlock()
	return ownerID, true
}

// Forget drops the cached owner of a deleted job
func (h *JobNotificationHub) Forget(jobID uuid.UUID) {
	h.mu.Lock()
	delete(h.owners, jobID)
	h.mu.Unlock()
}

// GetConnectionCount returns the number of active connections for a user
func (h *JobNotificationHub) GetConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// GetTotalConnections returns the number of active connections
func (h *JobNotificationHub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

// Register adds a client to the hub
func (h *JobNotificationHub) Register(client *JobNotificationClient) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *JobNotificationHub) Unregister(client *JobNotificationClient) {
	h.unregister <- client
}

// NewJobNotificationClient creates a client for userID, optionally limited to one job
func NewJobNotificationClient(hub *JobNotificationHub, userID, jobID uuid.UUID, conn *websocket.Conn) *JobNotificationClient {
	return &JobNotificationClient{
		hub:     hub,
		userID:  userID,
		jobID:   jobID,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		closeCh: make(chan struct{}),
	}
}

// WritePump pumps messages from the hub to the websocket connection. Each
// event is its own text frame.
func (c *JobNotificationClient) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closeCh:
			return
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump reads client messages until the connection closes
func (c *JobNotificationClient) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				debug.Warning("WebSocket read error: %v", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

func (c *JobNotificationClient) handleMessage(message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		debug.Warning("Failed to unmarshal client message: %v", err)
		return
	}

	switch msg.Type {
	case "ping":
		data, _ := json.Marshal(WSMessage{Type: "pong"})
		select {
		case c.send <- data:
		default:
		}
	default:
		debug.Log("Unknown message type from client", map[string]interface{}{
			"type":    msg.Type,
			"user_id": c.userID,
		})
	}
}
