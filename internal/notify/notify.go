// Package notify turns application room events into namespaced frames and
// hands them to a Broadcaster for delivery.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/robin/internal/application"
)

// DefaultPrefix is the namespace prefix used when none is configured.
const DefaultPrefix = "/robin"

// Frame is the message clients receive on a room namespace.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Broadcaster delivers an encoded frame to every subscriber of namespace.
type Broadcaster interface {
	Broadcast(ctx context.Context, namespace string, frame []byte) error
}

// NormalizePrefix returns prefix with a single leading slash and no trailing slash.
func NormalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = strings.Trim(DefaultPrefix, "/")
	}
	return "/" + prefix
}

// Namespace returns the broadcast namespace of a room.
func Namespace(prefix, roomID string) string {
	return NormalizePrefix(prefix) + "/" + roomID
}

// RoomNotifier implements application.Notifier on top of a Broadcaster.
type RoomNotifier struct {
	prefix      string
	broadcaster Broadcaster
}

var _ application.Notifier = (*RoomNotifier)(nil)

// NewRoomNotifier constructs a notifier that addresses rooms under prefix.
func NewRoomNotifier(prefix string, broadcaster Broadcaster) *RoomNotifier {
	return &RoomNotifier{prefix: NormalizePrefix(prefix), broadcaster: broadcaster}
}

// Notify encodes event and broadcasts it to the room namespace.
func (n *RoomNotifier) Notify(ctx context.Context, event application.RoomEvent) error {
	if event.RoomID == "" {
		return fmt.Errorf("notify: event %s has no room", event.Type)
	}
	frame, err := EncodeFrame(string(event.Type), event.Payload)
	if err != nil {
		return err
	}
	namespace := Namespace(n.prefix, event.RoomID)
	if err := n.broadcaster.Broadcast(ctx, namespace, frame); err != nil {
		return fmt.Errorf("notify: broadcast %s to %s: %w", event.Type, namespace, err)
	}
	return nil
}

// EncodeFrame marshals a frame. A nil payload is sent as an empty object.
func EncodeFrame(eventType string, payload any) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("notify: encode %s payload: %w", eventType, err)
	}
	return json.Marshal(Frame{Type: eventType, Payload: raw})
}

// LogBroadcaster writes every frame to a logger. It stands in for a real
// transport when no message bus is configured.
type LogBroadcaster struct {
	logger *slog.Logger
}

// NewLogBroadcaster returns a broadcaster that logs at info level.
func NewLogBroadcaster(logger *slog.Logger) *LogBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogBroadcaster{logger: logger.With("component", "notify")}
}

// Broadcast logs the frame.
func (b *LogBroadcaster) Broadcast(ctx context.Context, namespace string, frame []byte) error {
	b.logger.InfoContext(ctx, "room event", "namespace", namespace, "frame", string(frame))
	return nil
}
