package persistence

import (
	"context"
	"iter"
	"time"
)

// RoomRepository stores rooms, their participants and votes.
//
// The ripe-room queries are evaluated lazily one page at a time against a
// cutoff fixed by the caller, so rooms that age past the cutoff while a pass
// is running are left for the next pass.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	AddParticipants(ctx context.Context, roomID string, userIDs []string) error
	ListParticipants(ctx context.Context, roomID string) ([]string, error)
	CastVote(ctx context.Context, vote Vote) error

	RoomsRipeForPrompting(ctx context.Context, cutoff time.Time) iter.Seq2[Room, error]
	RoomsRipeForReaping(ctx context.Context, cutoff time.Time) iter.Seq2[Room, error]
	MarkPrompted(ctx context.Context, roomID string) error
	GetVotes(ctx context.Context, roomID string) (map[string]string, error)
	RemoveParticipants(ctx context.Context, roomID string, userIDs []string) error
	MarkContinued(ctx context.Context, roomID string) error
	MarkAbandoned(ctx context.Context, roomID string) error
	MergeRooms(ctx context.Context, firstID, secondID string, merged Room) (Room, error)
	SweepDeadRooms(ctx context.Context) (int, error)
	ListDeadRooms(ctx context.Context) ([]DeadRoom, error)
}
