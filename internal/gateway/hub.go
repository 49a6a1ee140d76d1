// Package gateway serves decisions to operators and dashboards: a
// WebSocket feed of every decision, a small REST surface for the latest
// and recent decisions, and TOTP-guarded pause/resume control.
package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"emafutures/internal/model"
)

// Hub manages WebSocket clients and fans decisions out to them.
// It implements model.DecisionPublisher and model.LatestDecisionReader.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]model.Decision // by symbol
	seq     int64

	history *ReplayBuffer

	// Latency from decision creation to fan-out
	Latency *LatencyTracker

	// OnClientCount is called with the client count after every connect
	// and disconnect (for metrics).
	OnClientCount func(n int)

	now func() time.Time
}

// NewHub creates a hub that keeps the last historySize envelopes for
// reconnect backfill.
func NewHub(historySize int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string]model.Decision),
		history: NewReplayBuffer(historySize),
		Latency: NewLatencyTracker(1000),
		now:     time.Now,
	}
}

// PublishDecision broadcasts a decision to all interested clients.
func (h *Hub) PublishDecision(_ context.Context, d model.Decision) error {
	h.broadcast(d)
	return nil
}

// Seed restores latest decisions after a restart without broadcasting them.
// ds is oldest first; a symbol that already has a live decision keeps it.
func (h *Hub) Seed(ds []model.Decision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range ds {
		if cur, ok := h.latest[d.Symbol]; ok && cur.CreatedAt.After(d.CreatedAt) {
			continue
		}
		h.latest[d.Symbol] = d
	}
}

// LatestDecision returns the last decision broadcast for symbol.
func (h *Hub) LatestDecision(_ context.Context, symbol string) (*model.Decision, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.latest[symbol]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// HandleWSRequest registers an upgraded connection. A positive sinceSeq
// replays buffered envelopes newer than it; otherwise the client gets the
// latest decision per symbol.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, sinceSeq int64) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	client.sendInitialState(sinceSeq)
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the sequence number of the last broadcast envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}
