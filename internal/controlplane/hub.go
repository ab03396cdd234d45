package controlplane

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fentz26/cadence/internal/models"
)

const (
	clientBuffer = 32
	writeWait    = 10 * time.Second
)

// Hub fans notifications out to websocket subscribers. A subscriber whose
// buffer is full misses notifications rather than slowing the heartbeat.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan models.Notification]struct{}
	dropped int64
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			// local daemon; the listener is loopback by default
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[chan models.Notification]struct{}),
	}
}

// Notify delivers n to every subscriber without blocking.
func (h *Hub) Notify(n models.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- n:
		default:
			h.dropped++
		}
	}
}

// Subscribe registers a buffered channel; cancel unregisters and closes it.
func (h *Hub) Subscribe() (<-chan models.Notification, func()) {
	ch := make(chan models.Notification, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Clients returns the number of subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// ServeWS upgrades the request and streams notifications as JSON messages
// until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	// the server's read timeout would otherwise end the stream
	_ = conn.SetReadDeadline(time.Time{})

	notes, cancel := h.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer conn.Close()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case n := <-notes:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		}
	}
}
