// Package realtime fans room frames out to websocket clients.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks websocket connections by room namespace.
type Hub struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]*Connection
	logger     *slog.Logger
}

// NewHub constructs an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		namespaces: make(map[string]map[string]*Connection),
		logger:     logger.With("component", "realtime"),
	}
}

// Serve subscribes ws to namespace and blocks until the client disconnects
// or the connection is closed by the hub.
func (h *Hub) Serve(ctx context.Context, namespace string, ws *websocket.Conn) {
	conn := newConnection(namespace, ws)
	h.attach(conn)
	defer h.detach(conn)

	go conn.writeLoop()
	go func() {
		conn.readLoop()
		conn.Close(websocket.CloseNormalClosure, "")
	}()

	h.logger.DebugContext(ctx, "client subscribed", "namespace", namespace, "connection_id", conn.ID)
	select {
	case <-conn.Done():
	case <-ctx.Done():
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
	h.logger.DebugContext(ctx, "client unsubscribed", "namespace", namespace, "connection_id", conn.ID)
}

// Broadcast delivers frame to every connection subscribed to namespace.
func (h *Hub) Broadcast(ctx context.Context, namespace string, frame []byte) error {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.namespaces[namespace]))
	for _, conn := range h.namespaces[namespace] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(frame); err != nil {
			h.logger.WarnContext(ctx, "dropping slow client", "namespace", namespace, "connection_id", conn.ID, "error", err)
			continue
		}
		delivered++
	}
	h.logger.DebugContext(ctx, "frame delivered", "namespace", namespace, "recipients", delivered)
	return nil
}

// Subscribers reports how many connections listen on namespace.
func (h *Hub) Subscribers(namespace string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.namespaces[namespace])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Connection
	for _, conns := range h.namespaces {
		for _, conn := range conns {
			all = append(all, conn)
		}
	}
	h.namespaces = make(map[string]map[string]*Connection)
	h.mu.Unlock()

	for _, conn := range all {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

func (h *Hub) attach(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.namespaces[conn.Namespace]
	if conns == nil {
		conns = make(map[string]*Connection)
		h.namespaces[conn.Namespace] = conns
	}
	conns[conn.ID] = conn
}

func (h *Hub) detach(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.namespaces[conn.Namespace]
	if conns == nil {
		return
	}
	delete(conns, conn.ID)
	if len(conns) == 0 {
		delete(h.namespaces, conn.Namespace)
	}
}
