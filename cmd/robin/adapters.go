package main

import (
	"context"
	"iter"
	"time"

	"github.com/example/robin/internal/application"
	"github.com/example/robin/internal/persistence"
)

type roomRepositoryAdapter struct {
	repo  persistence.RoomRepository
	newID func() string
}

func newRoomRepositoryAdapter(repo persistence.RoomRepository, newID func() string) *roomRepositoryAdapter {
	return &roomRepositoryAdapter{repo: repo, newID: newID}
}

var _ application.RoomRepository = (*roomRepositoryAdapter)(nil)

func (a *roomRepositoryAdapter) RoomsRipeForPrompting(ctx context.Context, cutoff time.Time) iter.Seq2[application.Room, error] {
	return toApplicationRooms(a.repo.RoomsRipeForPrompting(ctx, cutoff))
}

func (a *roomRepositoryAdapter) RoomsRipeForReaping(ctx context.Context, cutoff time.Time) iter.Seq2[application.Room, error] {
	return toApplicationRooms(a.repo.RoomsRipeForReaping(ctx, cutoff))
}

func (a *roomRepositoryAdapter) MarkPrompted(ctx context.Context, roomID string) error {
	return a.repo.MarkPrompted(ctx, roomID)
}

func (a *roomRepositoryAdapter) GetVotes(ctx context.Context, roomID string) (map[string]string, error) {
	return a.repo.GetVotes(ctx, roomID)
}

func (a *roomRepositoryAdapter) RemoveParticipants(ctx context.Context, roomID string, userIDs []string) error {
	return a.repo.RemoveParticipants(ctx, roomID, userIDs)
}

func (a *roomRepositoryAdapter) MarkContinued(ctx context.Context, roomID string) error {
	return a.repo.MarkContinued(ctx, roomID)
}

func (a *roomRepositoryAdapter) MarkAbandoned(ctx context.Context, roomID string) error {
	return a.repo.MarkAbandoned(ctx, roomID)
}

// Merge creates the replacement room one level above the sources.
func (a *roomRepositoryAdapter) Merge(ctx context.Context, first, second application.Room) (application.Room, error) {
	merged := persistence.Room{
		ID:    a.newID(),
		Level: first.Level + 1,
		State: persistence.RoomStateActive,
	}
	stored, err := a.repo.MergeRooms(ctx, first.ID, second.ID, merged)
	if err != nil {
		return application.Room{}, err
	}
	return toApplicationRoom(stored), nil
}

func (a *roomRepositoryAdapter) SweepDeadRooms(ctx context.Context) (int, error) {
	return a.repo.SweepDeadRooms(ctx)
}

func toApplicationRooms(seq iter.Seq2[persistence.Room, error]) iter.Seq2[application.Room, error] {
	return func(yield func(application.Room, error) bool) {
		for room, err := range seq {
			if err != nil {
				if !yield(application.Room{}, err) {
					return
				}
				continue
			}
			if !yield(toApplicationRoom(room), nil) {
				return
			}
		}
	}
}

func toApplicationRoom(model persistence.Room) application.Room {
	return application.Room{
		ID:        model.ID,
		Level:     model.Level,
		State:     application.RoomState(model.State),
		Prompted:  model.Prompted,
		CreatedAt: model.CreatedAt,
	}
}
