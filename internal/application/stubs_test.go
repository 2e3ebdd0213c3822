package application

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/example/robin/internal/persistence"
)

type stubRoom struct {
	room         Room
	participants []string
	votes        map[string]string
	disposition  string
	mergedInto   string
}

// roomRepoStub keeps rooms in insertion order so ripe sequences are deterministic.
type roomRepoStub struct {
	mu    sync.Mutex
	order []string
	rooms map[string]*stubRoom

	mergeID    string
	mergeCalls [][2]string
	swept      int
	sweepCalls int

	markPromptedErr map[string]error
	getVotesErr     map[string]error
	removeErr       map[string]error
	continueErr     map[string]error
	abandonErr      map[string]error
	mergeErr        error
	sweepErr        error
	iterErrAfter    int
	iterErr         error

	// beforeMark runs ahead of the guarded MarkPrompted update, standing in for a concurrent pass.
	beforeMark func(roomID string)

	cutoffs []time.Time
}

func newRoomRepoStub() *roomRepoStub {
	return &roomRepoStub{
		rooms:           make(map[string]*stubRoom),
		markPromptedErr: make(map[string]error),
		getVotesErr:     make(map[string]error),
		removeErr:       make(map[string]error),
		continueErr:     make(map[string]error),
		abandonErr:      make(map[string]error),
		iterErrAfter:    -1,
	}
}

func (r *roomRepoStub) add(room Room, votes map[string]string) {
	if room.State == "" {
		room.State = RoomStateActive
	}
	participants := make([]string, 0, len(votes))
	for userID := range votes {
		participants = append(participants, userID)
	}
	slices.Sort(participants)
	r.order = append(r.order, room.ID)
	r.rooms[room.ID] = &stubRoom{room: room, participants: participants, votes: votes}
}

func (r *roomRepoStub) get(id string) *stubRoom {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[id]
}

func (r *roomRepoStub) sequence(cutoff time.Time, ripe func(*stubRoom) bool) iter.Seq2[Room, error] {
	r.mu.Lock()
	r.cutoffs = append(r.cutoffs, cutoff)
	r.mu.Unlock()

	return func(yield func(Room, error) bool) {
		yielded := 0
		for _, id := range slices.Clone(r.order) {
			if r.iterErrAfter >= 0 && yielded == r.iterErrAfter {
				yield(Room{}, r.iterErr)
				return
			}
			stored := r.get(id)
			if stored == nil || stored.room.CreatedAt.After(cutoff) || !ripe(stored) {
				continue
			}
			yielded++
			if !yield(stored.room, nil) {
				return
			}
		}
	}
}

func (r *roomRepoStub) RoomsRipeForPrompting(ctx context.Context, cutoff time.Time) iter.Seq2[Room, error] {
	return r.sequence(cutoff, func(s *stubRoom) bool {
		return s.room.State == RoomStateActive && !s.room.Prompted
	})
}

func (r *roomRepoStub) RoomsRipeForReaping(ctx context.Context, cutoff time.Time) iter.Seq2[Room, error] {
	return r.sequence(cutoff, func(s *stubRoom) bool {
		return s.room.State != RoomStateReaped
	})
}

func (r *roomRepoStub) MarkPrompted(ctx context.Context, roomID string) error {
	if err := r.markPromptedErr[roomID]; err != nil {
		return err
	}
	if r.beforeMark != nil {
		r.beforeMark(roomID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.rooms[roomID]
	if !ok {
		return persistence.ErrNotFound
	}
	if stored.room.State != RoomStateActive || stored.room.Prompted {
		return persistence.ErrStateConflict
	}
	stored.room.Prompted = true
	stored.room.State = RoomStatePrompted
	return nil
}

func (r *roomRepoStub) GetVotes(ctx context.Context, roomID string) (map[string]string, error) {
	if err := r.getVotesErr[roomID]; err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.rooms[roomID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	votes := make(map[string]string, len(stored.participants))
	for _, userID := range stored.participants {
		votes[userID] = stored.votes[userID]
	}
	return votes, nil
}

func (r *roomRepoStub) RemoveParticipants(ctx context.Context, roomID string, userIDs []string) error {
	if err := r.removeErr[roomID]; err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.rooms[roomID]
	stored.participants = slices.DeleteFunc(stored.participants, func(userID string) bool {
		return slices.Contains(userIDs, userID)
	})
	for _, userID := range userIDs {
		delete(stored.votes, userID)
	}
	return nil
}

func (r *roomRepoStub) reap(roomID, disposition string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.rooms[roomID]
	stored.room.State = RoomStateReaped
	stored.disposition = disposition
}

func (r *roomRepoStub) MarkContinued(ctx context.Context, roomID string) error {
	if err := r.continueErr[roomID]; err != nil {
		return err
	}
	r.reap(roomID, "continued")
	return nil
}

func (r *roomRepoStub) MarkAbandoned(ctx context.Context, roomID string) error {
	if err := r.abandonErr[roomID]; err != nil {
		return err
	}
	r.reap(roomID, "abandoned")
	return nil
}

func (r *roomRepoStub) Merge(ctx context.Context, first, second Room) (Room, error) {
	r.mu.Lock()
	r.mergeCalls = append(r.mergeCalls, [2]string{first.ID, second.ID})
	r.mu.Unlock()
	if r.mergeErr != nil {
		return Room{}, r.mergeErr
	}
	if first.Level != second.Level {
		return Room{}, errors.New("level mismatch")
	}

	merged := Room{ID: r.mergeID, Level: first.Level + 1, State: RoomStateActive}
	r.mu.Lock()
	participants := append(slices.Clone(r.rooms[first.ID].participants), r.rooms[second.ID].participants...)
	r.mu.Unlock()
	votes := make(map[string]string, len(participants))
	for _, userID := range participants {
		votes[userID] = ""
	}

	for _, id := range []string{first.ID, second.ID} {
		r.reap(id, "merged")
		r.rooms[id].mergedInto = merged.ID
	}
	r.mu.Lock()
	r.rooms[merged.ID] = &stubRoom{room: merged, participants: participants, votes: votes}
	r.mu.Unlock()
	return merged, nil
}

func (r *roomRepoStub) SweepDeadRooms(ctx context.Context) (int, error) {
	r.sweepCalls++
	if r.sweepErr != nil {
		return 0, r.sweepErr
	}
	return r.swept, nil
}

// notifierStub records every event and optionally fails delivery.
type notifierStub struct {
	mu     sync.Mutex
	events []RoomEvent
	err    error
}

func (n *notifierStub) Notify(ctx context.Context, event RoomEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *notifierStub) forRoom(roomID string) []RoomEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []RoomEvent
	for _, event := range n.events {
		if event.RoomID == roomID {
			out = append(out, event)
		}
	}
	return out
}

func (n *notifierStub) types(roomID string) []EventType {
	var out []EventType
	for _, event := range n.forRoom(roomID) {
		out = append(out, event.Type)
	}
	return out
}
