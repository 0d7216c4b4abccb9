package browser

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// ErrUserOffline is returned when a user has no open connection.
var ErrUserOffline = errors.New("user has no open connection")

// connection wraps a websocket with the owning user. gorilla connections
// support one concurrent writer, so writes are serialized by mu.
type connection struct {
	conn   *websocket.Conn
	userID string

	mu       sync.Mutex
	lastSeen time.Time
}

func (c *connection) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *connection) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *connection) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *connection) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Hub tracks open browser connections per user.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*connection]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{connections: make(map[string]map[*connection]struct{})}
}

// add registers conn for userID.
func (h *Hub) add(userID string, conn *websocket.Conn) *connection {
	c := &connection{conn: conn, userID: userID, lastSeen: time.Now()}

	h.mu.Lock()
	if _, ok := h.connections[userID]; !ok {
		h.connections[userID] = make(map[*connection]struct{})
	}
	h.connections[userID][c] = struct{}{}
	total := len(h.connections[userID])
	h.mu.Unlock()

	recordConnections(h.Count())
	slog.Debug("browser connected", "user_id", userID, "connections", total)
	return c
}

// remove closes c and forgets it.
func (h *Hub) remove(c *connection) {
	h.mu.Lock()
	if conns, ok := h.connections[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.connections, c.userID)
		}
	}
	h.mu.Unlock()

	_ = c.conn.Close()
	recordConnections(h.Count())
	slog.Debug("browser disconnected", "user_id", c.userID)
}

// Online reports whether userID has at least one open connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID]) > 0
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.connections {
		n += len(conns)
	}
	return n
}

func (h *Hub) snapshot(userID string) []*connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*connection, 0, len(h.connections[userID]))
	for c := range h.connections[userID] {
		out = append(out, c)
	}
	return out
}

// Send writes msg to every connection of userID and returns how many
// accepted it. Connections that fail the write are dropped.
func (h *Hub) Send(userID string, msg any) (int, error) {
	conns := h.snapshot(userID)
	if len(conns) == 0 {
		return 0, ErrUserOffline
	}

	var (
		delivered int
		lastErr   error
	)
	for _, c := range conns {
		if err := c.writeJSON(msg); err != nil {
			slog.Warn("browser write failed", "user_id", userID, "error", err)
			lastErr = err
			h.remove(c)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return 0, lastErr
	}
	return delivered, nil
}

// Heartbeat pings all connections every interval and drops the ones that
// did not answer within two intervals. It returns when ctx is done.
func (h *Hub) Heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		h.mu.RLock()
		var all []*connection
		for _, conns := range h.connections {
			for c := range conns {
				all = append(all, c)
			}
		}
		h.mu.RUnlock()

		for _, c := range all {
			if time.Since(c.idleSince()) > 2*interval {
				h.remove(c)
				continue
			}
			if err := c.ping(); err != nil {
				h.remove(c)
			}
		}
	}
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*connection
	for _, conns := range h.connections {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.remove(c)
	}
}
