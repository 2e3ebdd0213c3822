package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PromptService asks rooms that reached the prompt age to vote on their fate.
type PromptService struct {
	rooms    RoomRepository
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger

	running sync.Mutex
}

// NewPromptService constructs a prompt service with the provided dependencies.
func NewPromptService(rooms RoomRepository, notifier Notifier, now func() time.Time) *PromptService {
	return NewPromptServiceWithLogger(rooms, notifier, now, nil)
}

// NewPromptServiceWithLogger constructs a prompt service with a specified logger.
func NewPromptServiceWithLogger(rooms RoomRepository, notifier Notifier, now func() time.Time, logger *slog.Logger) *PromptService {
	if now == nil {
		now = time.Now
	}
	return &PromptService{rooms: rooms, notifier: notifier, now: now, logger: defaultLogger(logger)}
}

func (s *PromptService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "PromptService", operation, attrs...)
}

// PromptForVoting sends please_vote to every active, unprompted room created
// at least roomAgeMinutes ago and marks it prompted. A room that fails is
// logged and skipped; the remaining rooms are still processed.
func (s *PromptService) PromptForVoting(ctx context.Context, roomAgeMinutes int) (report PassReport, err error) {
	if s == nil {
		err = fmt.Errorf("PromptService is nil")
		return
	}
	if roomAgeMinutes <= 0 {
		err = ErrInvalidThreshold
		return
	}
	if s.rooms == nil {
		err = fmt.Errorf("room repository not configured")
		return
	}
	if !s.running.TryLock() {
		err = ErrPassInProgress
		return
	}
	defer s.running.Unlock()

	start := s.now()
	report = newPassReport("PromptForVoting", start.Add(-time.Duration(roomAgeMinutes)*time.Minute))
	logger := s.loggerWith(ctx, "PromptForVoting", "room_age_minutes", roomAgeMinutes)
	defer func() {
		report.Duration = s.now().Sub(start)
		if err != nil {
			logger.ErrorContext(ctx, "prompt pass aborted", append(report.logAttrs(), "error", err, "error_kind", ErrorKind(err))...)
			return
		}
		logger.InfoContext(ctx, "prompt pass completed", report.logAttrs()...)
	}()

	for room, iterErr := range s.rooms.RoomsRipeForPrompting(ctx, report.Cutoff) {
		if iterErr != nil {
			err = fmt.Errorf("list rooms ripe for prompting: %w", iterErr)
			return
		}
		report.Processed++

		roomLogger := logger.With("room_id", room.ID, "level", room.Level)

		// The page may be stale; a reaper running alongside can finish the room first.
		if markErr := s.rooms.MarkPrompted(ctx, room.ID); markErr != nil {
			markErr = mapRoomRepoError(markErr)
			report.Failed++
			roomLogger.ErrorContext(ctx, "failed to mark room prompted", "error", markErr, "error_kind", ErrorKind(markErr))
			continue
		}
		dispatch(ctx, s.notifier, roomLogger, RoomEvent{RoomID: room.ID, Type: EventPleaseVote, Payload: EmptyPayload{}})
		report.record(OutcomePrompted, 1)
	}
	return
}

// dispatch sends event and logs delivery failures.
func dispatch(ctx context.Context, notifier Notifier, logger *slog.Logger, event RoomEvent) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, event); err != nil {
		logger.WarnContext(ctx, "failed to dispatch room event",
			"event", string(event.Type),
			"error", err,
			"error_kind", ErrorKind(err),
		)
	}
}
