package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/deskd/pkg/conversation"
)

// EventMessage is one frame pushed to connected reviewer consoles.
type EventMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Seq       int64       `json:"seq"`
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *hubClient) writeJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReviewerHub fans approval lifecycle events out to connected reviewer
// consoles. It implements the approval gate's notifier.
type ReviewerHub struct {
	mu      sync.RWMutex
	clients map[string]*hubClient
	seq     uint64
	logger  zerolog.Logger
}

// NewReviewerHub creates an empty hub.
func NewReviewerHub(logger zerolog.Logger) *ReviewerHub {
	return &ReviewerHub{
		clients: make(map[string]*hubClient),
		logger:  logger,
	}
}

// Add registers a reviewer connection under the given id.
func (h *ReviewerHub) Add(id string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[id] = &hubClient{id: id, conn: conn}
}

// Remove drops a reviewer connection.
func (h *ReviewerHub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// Count returns the number of connected reviewers.
func (h *ReviewerHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ApprovalRequested notifies reviewers that a run suspended on a gated
// tool call.
func (h *ReviewerHub) ApprovalRequested(threadID string, pending conversation.PendingToolCall) {
	h.Broadcast("approval.requested", map[string]interface{}{
		"thread_id": threadID,
		"call_id":   pending.ID,
		"tool":      pending.Tool,
		"args":      pending.Args,
		"reason":    pending.Reason,
	})
}

// ApprovalResolved notifies reviewers that a pending call was decided.
func (h *ReviewerHub) ApprovalResolved(threadID string, callID string, approved bool) {
	verdict := "denied"
	if approved {
		verdict = "approved"
	}
	h.Broadcast("approval.resolved", map[string]interface{}{
		"thread_id": threadID,
		"call_id":   callID,
		"verdict":   verdict,
	})
}

// Broadcast sends an event to every connected reviewer.
func (h *ReviewerHub) Broadcast(event string, data interface{}) {
	msg := EventMessage{
		Type:      "event",
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Seq:       int64(atomic.AddUint64(&h.seq, 1)),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}

	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		h.logger.Debug().Str("event", event).Msg("No reviewers connected")
		return
	}

	failed := 0
	for _, client := range clients {
		if err := client.writeJSON(payload); err != nil {
			h.logger.Warn().
				Err(err).
				Str("clientId", client.id).
				Str("event", event).
				Msg("Failed to broadcast to reviewer")
			failed++
		}
	}

	h.logger.Debug().
		Str("event", event).
		Int64("seq", msg.Seq).
		Int("sent", len(clients)-failed).
		Int("failed", failed).
		Msg("Event broadcast complete")
}

// CloseAll closes every reviewer connection, used during shutdown.
func (h *ReviewerHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		client.conn.Close()
		delete(h.clients, id)
	}
}
