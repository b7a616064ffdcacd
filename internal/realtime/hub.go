package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/richjun-project/vibescan/internal/scan"
)

// Hub fans scan lifecycle events out to websocket clients subscribed
// to the scan's ID. Delivery is at-least-once within a connection's
// lifetime; there is no replay across reconnects - clients get a
// snapshot on subscribe and re-fetch authoritative state over the
// query API after losing the connection.
type Hub struct {
	registry *scan.Registry
	logger   *slog.Logger

	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[*Client]struct{}
}

var _ scan.Publisher = (*Hub)(nil)

func NewHub(registry *scan.Registry, logger *slog.Logger) *Hub {
	return &Hub{
		registry:    registry,
		logger:      logger,
		subscribers: map[uuid.UUID]map[*Client]struct{}{},
	}
}

// Publish implements scan.Publisher so a single-process deployment can
// wire the lifecycle straight into the hub without redis.
func (h *Hub) Publish(_ context.Context, event scan.Event) error {
	h.Broadcast(event)
	return nil
}

// Broadcast delivers an event to every client subscribed to its scan.
// Events arrive here in state-machine order and each client's send
// channel is FIFO, so per-scan ordering holds end to end.
func (h *Hub) Broadcast(event scan.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.subscribers[event.ScanID]))
	for c := range h.subscribers[event.ScanID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(data)
	}
}

func (h *Hub) subscribe(c *Client, scanID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[scanID] == nil {
		h.subscribers[scanID] = map[*Client]struct{}{}
	}
	h.subscribers[scanID][c] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, scanID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers[scanID], c)
	if len(h.subscribers[scanID]) == 0 {
		delete(h.subscribers, scanID)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for scanID, set := range h.subscribers {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subscribers, scanID)
		}
	}
}

// SubscriberCount reports how many connections watch a scan.
func (h *Hub) SubscriberCount(scanID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[scanID])
}
