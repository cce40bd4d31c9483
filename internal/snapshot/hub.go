package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/couchcryptid/incident-feed-sync/internal/domain"
)

const writeTimeout = 5 * time.Second

// Hub broadcasts every rendered snapshot to connected WebSocket clients.
// New clients receive the store's current snapshot first.
type Hub struct {
	store    *Store
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// client owns one connection. Its writePump is the only goroutine writing
// data frames; send holds at most the newest undelivered snapshot.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan []byte, 1), done: make(chan struct{})}
}

// offer queues data, replacing a snapshot the client has not received yet.
// Callers hold Hub.mu, so offers never race each other.
func (c *client) offer(data []byte) {
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// NewHub creates a hub that greets clients with the store's snapshot.
func NewHub(store *Store, logger *slog.Logger) *Hub {
	return &Hub{
		store: store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) Name() string { return "websocket" }

// Render queues snap for every client and returns without waiting for
// delivery. Clients that fail a write are dropped by their own pump.
func (h *Hub) Render(_ context.Context, snap *domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.offer(data)
	}
	return nil
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn)
	if snap, ok := h.store.Current(); ok {
		data, err := json.Marshal(snap)
		if err != nil {
			h.logger.Warn("websocket initial snapshot failed", "error", err)
			_ = conn.Close()
			return
		}
		c.offer(data)
	}

	// A Render that lands after registration replaces the initial snapshot.
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) writePump(c *client) {
	for {
		select {
		case data := <-c.send:
			if err := write(c.conn, data); err != nil {
				h.logger.Debug("dropping websocket client", "remote", c.conn.RemoteAddr().String(), "error", err)
				h.remove(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump discards client messages and unregisters the client on disconnect.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func write(c *websocket.Conn, data []byte) error {
	_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.WriteMessage(websocket.TextMessage, data)
}
