package testfixtures

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/example/robin/internal/application"
	"github.com/example/robin/internal/persistence"
)

var roomCounter uint64

var referenceTime = time.Date(2024, time.January, 2, 15, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// RoomFixture represents a deterministic room together with its participants
// and their stored votes.
type RoomFixture struct {
	ID        string
	Level     int
	State     persistence.RoomState
	Prompted  bool
	CreatedAt time.Time
	// Votes maps every participant to the stored vote. An empty value means
	// the participant has not voted.
	Votes map[string]string
}

// RoomOption configures the generated room fixture.
type RoomOption func(*RoomFixture)

// NewRoomFixture returns a deterministic level 1 room created at
// ReferenceTime with no participants.
func NewRoomFixture(opts ...RoomOption) RoomFixture {
	idx := atomic.AddUint64(&roomCounter, 1)
	fixture := RoomFixture{
		ID:        fmt.Sprintf("fixture-room-%03d", idx),
		Level:     1,
		State:     persistence.RoomStateActive,
		CreatedAt: referenceTime,
		Votes:     map[string]string{},
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithRoomID overrides the generated room ID.
func WithRoomID(id string) RoomOption {
	return func(f *RoomFixture) {
		f.ID = id
	}
}

// WithLevel sets the room level.
func WithLevel(level int) RoomOption {
	return func(f *RoomFixture) {
		f.Level = level
	}
}

// WithCreatedAt sets the creation time.
func WithCreatedAt(createdAt time.Time) RoomOption {
	return func(f *RoomFixture) {
		f.CreatedAt = createdAt
	}
}

// WithAge sets the creation time relative to clock.
func WithAge(clock *Clock, minutes int) RoomOption {
	return func(f *RoomFixture) {
		f.CreatedAt = clock.MinutesAgo(minutes)
	}
}

// WithPrompted marks the room as already prompted.
func WithPrompted() RoomOption {
	return func(f *RoomFixture) {
		f.Prompted = true
		f.State = persistence.RoomStatePrompted
	}
}

// WithParticipants adds participants that have not voted.
func WithParticipants(userIDs ...string) RoomOption {
	return func(f *RoomFixture) {
		for _, userID := range userIDs {
			if _, ok := f.Votes[userID]; !ok {
				f.Votes[userID] = ""
			}
		}
	}
}

// WithVotes adds participants with the given stored votes.
func WithVotes(votes map[string]string) RoomOption {
	return func(f *RoomFixture) {
		for userID, vote := range votes {
			f.Votes[userID] = vote
		}
	}
}

// Participants returns the participant IDs in ascending order.
func (f RoomFixture) Participants() []string {
	users := make([]string, 0, len(f.Votes))
	for userID := range f.Votes {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// Persistence returns the fixture as a persistence.Room value.
func (f RoomFixture) Persistence() persistence.Room {
	return persistence.Room{
		ID:        f.ID,
		Level:     f.Level,
		State:     f.State,
		Prompted:  f.Prompted,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.CreatedAt,
	}
}

// Application returns the fixture as an application.Room value.
func (f RoomFixture) Application() application.Room {
	return application.Room{
		ID:        f.ID,
		Level:     f.Level,
		State:     application.RoomState(f.State),
		Prompted:  f.Prompted,
		CreatedAt: f.CreatedAt,
	}
}

// Seed stores the room, its participants and every cast vote.
func (f RoomFixture) Seed(ctx context.Context, rooms persistence.RoomRepository) error {
	if err := rooms.CreateRoom(ctx, f.Persistence()); err != nil {
		return fmt.Errorf("create room %s: %w", f.ID, err)
	}
	if err := rooms.AddParticipants(ctx, f.ID, f.Participants()); err != nil {
		return fmt.Errorf("add participants to %s: %w", f.ID, err)
	}
	for _, userID := range f.Participants() {
		vote := f.Votes[userID]
		if vote == "" {
			continue
		}
		if err := rooms.CastVote(ctx, persistence.Vote{RoomID: f.ID, UserID: userID, Choice: vote, CastAt: f.CreatedAt}); err != nil {
			return fmt.Errorf("cast vote for %s in %s: %w", userID, f.ID, err)
		}
	}
	return nil
}
