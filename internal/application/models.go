package application

import (
	"context"
	"iter"
	"time"
)

// RoomState mirrors the lifecycle marker stored with each room.
type RoomState string

const (
	RoomStateActive   RoomState = "active"
	RoomStatePrompted RoomState = "prompted"
	RoomStateReaped   RoomState = "reaped"
)

// Room is the view of a chat room the prompt and reap passes work with.
type Room struct {
	ID        string
	Level     int
	State     RoomState
	Prompted  bool
	CreatedAt time.Time
}

// RoomRepository captures the persistence operations needed by the passes.
//
// The ripe-room sequences are evaluated lazily against the cutoff supplied
// by the caller. GetVotes returns the raw stored vote for every participant;
// participants that never voted map to the empty string.
type RoomRepository interface {
	RoomsRipeForPrompting(ctx context.Context, cutoff time.Time) iter.Seq2[Room, error]
	RoomsRipeForReaping(ctx context.Context, cutoff time.Time) iter.Seq2[Room, error]
	MarkPrompted(ctx context.Context, roomID string) error
	GetVotes(ctx context.Context, roomID string) (map[string]string, error)
	RemoveParticipants(ctx context.Context, roomID string, userIDs []string) error
	MarkContinued(ctx context.Context, roomID string) error
	MarkAbandoned(ctx context.Context, roomID string) error
	Merge(ctx context.Context, first, second Room) (Room, error)
	SweepDeadRooms(ctx context.Context) (int, error)
}

// EventType names a broadcast sent to a room's namespace.
type EventType string

const (
	EventPleaseVote     EventType = "please_vote"
	EventUsersAbandoned EventType = "users_abandoned"
	EventContinue       EventType = "continue"
	EventAbandon        EventType = "abandon"
	EventMerge          EventType = "merge"
	EventNoMatch        EventType = "no_match"
)

// RoomEvent is a single broadcast addressed to one room.
type RoomEvent struct {
	RoomID  string
	Type    EventType
	Payload any
}

// EmptyPayload is sent with events that carry no data.
type EmptyPayload struct{}

// UsersAbandonedPayload lists the participants removed from a room.
type UsersAbandonedPayload struct {
	Users []string `json:"users"`
}

// MergePayload points clients of a merged room at its replacement.
type MergePayload struct {
	Destination string `json:"destination"`
}

// Notifier delivers room events. Delivery is fire-and-forget; a returned
// error is logged by the caller and never undoes repository changes.
type Notifier interface {
	Notify(ctx context.Context, event RoomEvent) error
}

// Outcome labels what a pass did to a room.
type Outcome string

const (
	OutcomePrompted  Outcome = "prompted"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeContinued Outcome = "continued"
	OutcomeMerged    Outcome = "merged"
	OutcomeNoMatch   Outcome = "no_match"
)

// PassReport summarises one prompt or reap pass.
type PassReport struct {
	Operation string
	Cutoff    time.Time
	Processed int
	Failed    int
	Outcomes  map[Outcome]int
	Swept     int
	Duration  time.Duration
}

func newPassReport(operation string, cutoff time.Time) PassReport {
	return PassReport{
		Operation: operation,
		Cutoff:    cutoff,
		Outcomes:  make(map[Outcome]int),
	}
}

func (r *PassReport) record(outcome Outcome, rooms int) {
	r.Outcomes[outcome] += rooms
}

// logAttrs flattens the report into slog key/value pairs.
func (r PassReport) logAttrs() []any {
	attrs := []any{
		"cutoff", r.Cutoff,
		"processed", r.Processed,
		"failed", r.Failed,
		"duration", r.Duration,
	}
	for _, outcome := range []Outcome{OutcomePrompted, OutcomeAbandoned, OutcomeContinued, OutcomeMerged, OutcomeNoMatch} {
		if count, ok := r.Outcomes[outcome]; ok {
			attrs = append(attrs, string(outcome), count)
		}
	}
	if r.Operation == "ReapRipeRooms" {
		attrs = append(attrs, "swept", r.Swept)
	}
	return attrs
}
