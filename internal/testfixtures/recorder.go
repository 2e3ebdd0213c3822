package testfixtures

import (
	"context"
	"sync"

	"github.com/example/robin/internal/application"
)

// Recorder is an application.Notifier that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []application.RoomEvent
	err    error
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes subsequent Notify calls return err after recording the event.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Notify records event.
func (r *Recorder) Notify(ctx context.Context, event application.RoomEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []application.RoomEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]application.RoomEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ForRoom returns the events addressed to roomID in delivery order.
func (r *Recorder) ForRoom(roomID string) []application.RoomEvent {
	var out []application.RoomEvent
	for _, event := range r.Events() {
		if event.RoomID == roomID {
			out = append(out, event)
		}
	}
	return out
}

// Types returns the event types addressed to roomID in delivery order.
func (r *Recorder) Types(roomID string) []application.EventType {
	var out []application.EventType
	for _, event := range r.ForRoom(roomID) {
		out = append(out, event.Type)
	}
	return out
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
