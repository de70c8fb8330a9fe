// internal/ws/hub.go
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StatusEvent is pushed to clients watching a checkout reference once the
// reconciler has durably committed its outcome.
type StatusEvent struct {
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}

// Hub fans checkout outcomes out to clients waiting on a reference while
// the provider's hosted page and webhook complete the payment.
type Hub struct {
	mu       sync.RWMutex
	watchers map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	events     chan StatusEvent

	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		watchers:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan StatusEvent, 256),
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.addWatcher(client)

		case client := <-h.unregister:
			h.removeWatcher(client)

		case ev := <-h.events:
			h.dispatch(ev)
		}
	}
}

// Notify pushes a status for a reference. Safe to call from any
// goroutine; drops the event if the hub buffer is full rather than
// blocking the reconciler.
func (h *Hub) Notify(reference, status string) {
	ev := StatusEvent{Reference: reference, Status: status, At: time.Now().UTC()}
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("checkout status event dropped, hub buffer full",
			zap.String("reference", reference),
		)
	}
}

func (h *Hub) addWatcher(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchers[c.reference] == nil {
		h.watchers[c.reference] = make(map[*Client]bool)
	}
	h.watchers[c.reference][c] = true
}

func (h *Hub) removeWatcher(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.watchers[c.reference]; ok {
		if clients[c] {
			delete(clients, c)
			close(c.send)
			if len(clients) == 0 {
				delete(h.watchers, c.reference)
			}
		}
	}
}

func (h *Hub) dispatch(ev StatusEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode status event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.watchers[ev.Reference] {
		select {
		case client.send <- payload:
		default:
			// Slow consumer; it will be reaped on its next pump error.
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ref, clients := range h.watchers {
		for client := range clients {
			close(client.send)
		}
		delete(h.watchers, ref)
	}
}
