package persistence

import "time"

// RoomState tracks where a room is in the voting lifecycle.
type RoomState string

const (
	// RoomStateActive rooms have not been prompted to vote yet.
	RoomStateActive RoomState = "active"
	// RoomStatePrompted rooms were asked to vote and await reaping.
	RoomStatePrompted RoomState = "prompted"
	// RoomStateReaped rooms received their final disposition.
	RoomStateReaped RoomState = "reaped"
)

// Disposition records the outcome applied to a reaped room.
type Disposition string

const (
	DispositionNone      Disposition = ""
	DispositionAbandoned Disposition = "abandoned"
	DispositionContinued Disposition = "continued"
	DispositionMerged    Disposition = "merged"
)

// Room represents a chat room row.
type Room struct {
	ID          string
	Level       int
	State       RoomState
	Prompted    bool
	Disposition Disposition
	MergedInto  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ReapedAt    *time.Time
}

// Participant is a member of a room.
type Participant struct {
	RoomID   string
	UserID   string
	JoinedAt time.Time
}

// Vote is a stored ballot. Participants without a row have not voted.
type Vote struct {
	RoomID string
	UserID string
	Choice string
	CastAt time.Time
}

// DeadRoom is the archived record of an abandoned or merged room.
type DeadRoom struct {
	ID          string
	Level       int
	Disposition Disposition
	MergedInto  *string
	CreatedAt   time.Time
	ReapedAt    time.Time
	SweptAt     time.Time
}
