package http

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/robin/internal/notify"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// HealthHandler serves GET /healthz.
type HealthHandler struct {
	checks    map[string]HealthCheck
	timeout   time.Duration
	responder responder
}

// NewHealthHandler constructs a health handler running checks with a short deadline.
func NewHealthHandler(checks map[string]HealthCheck, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second, responder: newResponder(logger)}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Check runs every check and reports the aggregate state.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			handlerLogger(ctx, h.responder.logger, "HealthHandler", "Check").WarnContext(ctx, "health check failed", "check", name, "error", err)
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	h.responder.writeJSON(ctx, w, status, resp)
}

// RoomSubscriber attaches an upgraded websocket to a room namespace. It must
// block until the connection ends.
type RoomSubscriber interface {
	Serve(ctx context.Context, namespace string, ws *websocket.Conn)
}

// RoomStreamHandler upgrades GET <prefix>/{roomID} to a websocket.
type RoomStreamHandler struct {
	subscriber RoomSubscriber
	prefix     string
	upgrader   websocket.Upgrader
	responder  responder
}

// NewRoomStreamHandler constructs the room stream handler. Origins are not
// restricted; deployments terminate untrusted traffic at the proxy.
func NewRoomStreamHandler(subscriber RoomSubscriber, prefix string, logger *slog.Logger) *RoomStreamHandler {
	return &RoomStreamHandler{
		subscriber: subscriber,
		prefix:     notify.NormalizePrefix(prefix),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		responder: newResponder(logger),
	}
}

// Prefix is the namespace prefix the handler is mounted on.
func (h *RoomStreamHandler) Prefix() string {
	return h.prefix
}

// Stream upgrades the request and blocks until the client disconnects.
func (h *RoomStreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID, ok := RoomIDFromContext(ctx)
	if !ok || !validRoomID(roomID) {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidRoomID)
		return
	}

	logger := handlerLogger(ctx, h.responder.logger, "RoomStreamHandler", "Stream", "room_id", roomID)
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.WarnContext(ctx, "websocket upgrade failed", "error", err)
		return
	}

	namespace := notify.Namespace(h.prefix, roomID)
	logger.InfoContext(ctx, "room stream opened", "namespace", namespace)
	h.subscriber.Serve(ctx, namespace, ws)
	logger.InfoContext(ctx, "room stream closed", "namespace", namespace)
}

func validRoomID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/ ")
}
