package application

import (
	"context"
	"log/slog"
)

// abandonRoom terminates the room and tells its clients.
func abandonRoom(ctx context.Context, rooms RoomRepository, notifier Notifier, logger *slog.Logger, room Room) error {
	if err := rooms.MarkAbandoned(ctx, room.ID); err != nil {
		return mapRoomRepoError(err)
	}
	dispatch(ctx, notifier, logger, RoomEvent{RoomID: room.ID, Type: EventAbandon, Payload: EmptyPayload{}})
	return nil
}

// continueRoom keeps the room as it is for another cycle.
func continueRoom(ctx context.Context, rooms RoomRepository, notifier Notifier, logger *slog.Logger, room Room) error {
	if err := rooms.MarkContinued(ctx, room.ID); err != nil {
		return mapRoomRepoError(err)
	}
	dispatch(ctx, notifier, logger, RoomEvent{RoomID: room.ID, Type: EventContinue, Payload: EmptyPayload{}})
	return nil
}

// removeAbandoners drops the listed participants from a room that survives
// the vote. Nothing is sent when there is nobody to remove.
func removeAbandoners(ctx context.Context, rooms RoomRepository, notifier Notifier, logger *slog.Logger, room Room, users []string) error {
	if len(users) == 0 {
		return nil
	}
	if err := rooms.RemoveParticipants(ctx, room.ID, users); err != nil {
		return mapRoomRepoError(err)
	}
	removed := make([]string, len(users))
	copy(removed, users)
	dispatch(ctx, notifier, logger, RoomEvent{RoomID: room.ID, Type: EventUsersAbandoned, Payload: UsersAbandonedPayload{Users: removed}})
	return nil
}

// mergeRooms combines two same-level rooms and redirects both to the result.
func mergeRooms(ctx context.Context, rooms RoomRepository, notifier Notifier, logger *slog.Logger, first, second Room) (Room, error) {
	merged, err := rooms.Merge(ctx, first, second)
	if err != nil {
		return Room{}, mapRoomRepoError(err)
	}
	for _, source := range []Room{first, second} {
		dispatch(ctx, notifier, logger.With("source_room_id", source.ID), RoomEvent{
			RoomID:  source.ID,
			Type:    EventMerge,
			Payload: MergePayload{Destination: merged.ID},
		})
	}
	return merged, nil
}

// alertNoMatch continues a merge candidate that found no partner this pass.
func alertNoMatch(ctx context.Context, rooms RoomRepository, notifier Notifier, logger *slog.Logger, room Room) error {
	if err := rooms.MarkContinued(ctx, room.ID); err != nil {
		return mapRoomRepoError(err)
	}
	dispatch(ctx, notifier, logger, RoomEvent{RoomID: room.ID, Type: EventNoMatch, Payload: EmptyPayload{}})
	return nil
}
