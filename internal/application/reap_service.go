package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/robin/internal/voting"
)

// ReapService tallies the votes of ripe rooms and applies the winning outcome.
type ReapService struct {
	rooms    RoomRepository
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger

	running sync.Mutex
}

// NewReapService constructs a reap service with the provided dependencies.
func NewReapService(rooms RoomRepository, notifier Notifier, now func() time.Time) *ReapService {
	return NewReapServiceWithLogger(rooms, notifier, now, nil)
}

// NewReapServiceWithLogger constructs a reap service with a specified logger.
func NewReapServiceWithLogger(rooms RoomRepository, notifier Notifier, now func() time.Time, logger *slog.Logger) *ReapService {
	if now == nil {
		now = time.Now
	}
	return &ReapService{rooms: rooms, notifier: notifier, now: now, logger: defaultLogger(logger)}
}

func (s *ReapService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReapService", operation, attrs...)
}

// reapPass holds the state of one ReapRipeRooms invocation.
type reapPass struct {
	rooms    RoomRepository
	notifier Notifier
	logger   *slog.Logger
	matcher  *voting.Matcher[Room]
	report   *PassReport
}

// ReapRipeRooms decides the fate of every unreaped room created at least
// roomAgeMinutes ago. Rooms voting to increase are paired with another
// candidate of the same level from this pass; candidates left unpaired when
// the sequence ends receive no_match and continue. Dead rooms are swept once
// at the end of the pass.
//
// Per-room failures are logged and counted in the report without stopping
// the pass. A failure to read the ripe sequence ends iteration early, but the
// unpaired candidates are still resolved and the sweep still runs.
func (s *ReapService) ReapRipeRooms(ctx context.Context, roomAgeMinutes int) (report PassReport, err error) {
	if s == nil {
		err = fmt.Errorf("ReapService is nil")
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
	report = newPassReport("ReapRipeRooms", start.Add(-time.Duration(roomAgeMinutes)*time.Minute))
	logger := s.loggerWith(ctx, "ReapRipeRooms", "room_age_minutes", roomAgeMinutes)
	defer func() {
		report.Duration = s.now().Sub(start)
		if err != nil {
			logger.ErrorContext(ctx, "reap pass ended with errors", append(report.logAttrs(), "error", err, "error_kind", ErrorKind(err))...)
			return
		}
		logger.InfoContext(ctx, "reap pass completed", report.logAttrs()...)
	}()

	pass := &reapPass{
		rooms:    s.rooms,
		notifier: s.notifier,
		logger:   logger,
		matcher:  voting.NewMatcher[Room](),
		report:   &report,
	}

	var iterErr error
	for room, roomErr := range s.rooms.RoomsRipeForReaping(ctx, report.Cutoff) {
		if roomErr != nil {
			iterErr = fmt.Errorf("list rooms ripe for reaping: %w", roomErr)
			break
		}
		report.Processed++
		pass.reap(ctx, room)
	}

	if pending := pass.matcher.Pending(); pending > 0 {
		logger.DebugContext(ctx, "rooms left without a merge partner", "pending", pending)
	}
	for _, room := range pass.matcher.Drain() {
		pass.noMatch(ctx, room)
	}

	swept, sweepErr := s.rooms.SweepDeadRooms(ctx)
	if sweepErr != nil {
		sweepErr = fmt.Errorf("sweep dead rooms: %w", mapRoomRepoError(sweepErr))
	}
	report.Swept = swept

	err = errors.Join(iterErr, sweepErr)
	return
}

// reap tallies one room and applies the decision.
func (p *reapPass) reap(ctx context.Context, room Room) {
	logger := p.logger.With("room_id", room.ID, "level", room.Level)

	raw, err := p.rooms.GetVotes(ctx, room.ID)
	if err != nil {
		p.fail(ctx, logger, 1, "failed to fetch votes", mapRoomRepoError(err))
		return
	}

	tally := voting.Count(parseVotes(ctx, logger, raw))
	decision := tally.Decide()
	logger = logger.With(
		"decision", string(decision),
		"abandoning", tally.Abandon(),
		"continue", tally.Continue,
		"increase", tally.Increase,
	)

	if decision == voting.DecisionAbandon {
		if err := abandonRoom(ctx, p.rooms, p.notifier, logger, room); err != nil {
			p.fail(ctx, logger, 1, "failed to abandon room", err)
			return
		}
		p.report.record(OutcomeAbandoned, 1)
		return
	}

	if err := removeAbandoners(ctx, p.rooms, p.notifier, logger, room, tally.Abandoning); err != nil {
		p.fail(ctx, logger, 1, "failed to remove abandoning participants", err)
		return
	}

	if decision == voting.DecisionContinue {
		if err := continueRoom(ctx, p.rooms, p.notifier, logger, room); err != nil {
			p.fail(ctx, logger, 1, "failed to continue room", err)
			return
		}
		p.report.record(OutcomeContinued, 1)
		return
	}

	partner, ok := p.matcher.Register(room.Level, room)
	if !ok {
		logger.DebugContext(ctx, "room awaiting merge partner")
		return
	}

	merged, err := mergeRooms(ctx, p.rooms, p.notifier, logger, partner, room)
	if err != nil {
		p.fail(ctx, logger.With("partner_id", partner.ID), 2, "failed to merge rooms", err)
		return
	}
	logger.InfoContext(ctx, "rooms merged", "partner_id", partner.ID, "merged_room_id", merged.ID, "merged_level", merged.Level)
	p.report.record(OutcomeMerged, 2)
}

func (p *reapPass) noMatch(ctx context.Context, room Room) {
	logger := p.logger.With("room_id", room.ID, "level", room.Level, "decision", string(voting.DecisionIncrease))
	if err := alertNoMatch(ctx, p.rooms, p.notifier, logger, room); err != nil {
		p.fail(ctx, logger, 1, "failed to continue unmatched room", err)
		return
	}
	p.report.record(OutcomeNoMatch, 1)
}

func (p *reapPass) fail(ctx context.Context, logger *slog.Logger, rooms int, msg string, err error) {
	p.report.Failed += rooms
	logger.ErrorContext(ctx, msg, "error", err, "error_kind", ErrorKind(err))
}

// parseVotes interprets stored votes. Missing and unrecognised values count
// as NoVote.
func parseVotes(ctx context.Context, logger *slog.Logger, raw map[string]string) map[string]voting.Vote {
	votes := make(map[string]voting.Vote, len(raw))
	for userID, value := range raw {
		vote, err := voting.ParseVote(value)
		if err != nil {
			logger.WarnContext(ctx, "ignoring unrecognised vote", "user_id", userID, "vote", value)
			vote = voting.NoVote
		}
		votes[userID] = vote
	}
	return votes
}
