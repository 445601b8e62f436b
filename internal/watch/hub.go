// Package watch streams validation verdicts and conservation snapshots
// to connected monitors over WebSocket.
package watch

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"parallax/internal/consensus"
	"parallax/internal/logger"
	"parallax/internal/physics"
)

const (
	// TypeValidation labels envelopes carrying a consensus round verdict.
	TypeValidation = "validation"
	// TypeConservation labels envelopes carrying a conservation snapshot.
	TypeConservation = "conservation"

	// sendDepth bounds the per-client outbound queue. A client that
	// falls this far behind is disconnected rather than blocking the
	// validation path.
	sendDepth = 16
)

// Envelope wraps every message pushed to a monitor.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Gauge tracks the number of connected monitors.
type Gauge interface {
	Inc()
	Dec()
}

// client is one connected monitor. closed is guarded by Hub.mu so the
// send channel is never written after it is closed.
type client struct {
	conn   *websocket.Conn
	send   chan Envelope
	closed bool
}

// Hub fans validation and conservation events out to every connected
// monitor. Sends never block: a client whose queue is full is dropped.
type Hub struct {
	gauge Gauge

	mu      sync.Mutex
	clients map[*client]struct{}

	wg sync.WaitGroup
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub returns an empty hub. gauge may be nil.
func NewHub(gauge Gauge) *Hub {
	return &Hub{
		gauge:   gauge,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and keeps
// it registered until the peer disconnects.
func (h *Hub) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan Envelope, sendDepth),
	}
	h.add(c)

	h.wg.Add(1)
	go h.writePump(c)

	// Monitors never send anything meaningful. The read loop exists to
	// notice disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

// RecordValidation pushes a consensus verdict to every monitor.
func (h *Hub) RecordValidation(result consensus.Result) {
	h.broadcast(Envelope{Type: TypeValidation, Payload: result})
}

// RecordConservation pushes a conservation snapshot to every monitor.
func (h *Hub) RecordConservation(snapshot physics.Snapshot) {
	h.broadcast(Envelope{Type: TypeConservation, Payload: snapshot})
}

// Clients returns the number of connected monitors.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every monitor and waits for their writers to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		h.closeLocked(c)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	if h.gauge != nil {
		h.gauge.Inc()
	}
	logger.Debug("monitor connected", "clients", count)
}

// remove drops a client from the hub. Safe to call more than once.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	dropped := h.closeLocked(c)
	count := len(h.clients)
	h.mu.Unlock()

	if dropped {
		logger.Debug("monitor disconnected", "clients", count)
	}
}

// closeLocked unregisters a client and closes its queue. Returns false
// when the client was already gone. Callers must hold h.mu.
func (h *Hub) closeLocked(c *client) bool {
	if c.closed {
		return false
	}
	c.closed = true
	delete(h.clients, c)
	close(c.send)
	if h.gauge != nil {
		h.gauge.Dec()
	}
	return true
}

// broadcast queues an envelope on every client without blocking.
// Clients with a full queue are disconnected.
func (h *Hub) broadcast(envelope Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- envelope:
		default:
			logger.Warn("dropping slow monitor", "queued", len(c.send))
			h.closeLocked(c)
		}
	}
}

// writePump drains a client queue onto its connection. It exits when
// the queue is closed or a write fails, then tears the connection down
// so the read loop unblocks.
func (h *Hub) writePump(c *client) {
	defer h.wg.Done()
	for envelope := range c.send {
		if err := c.conn.WriteJSON(envelope); err != nil {
			h.remove(c)
			break
		}
	}
	_ = c.conn.Close()
}
