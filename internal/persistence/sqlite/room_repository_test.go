package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/example/robin/internal/persistence"
	"github.com/example/robin/internal/testfixtures"
)

func collect(t *testing.T, seq func(func(persistence.Room, error) bool)) []string {
	t.Helper()
	var ids []string
	for room, err := range seq {
		if err != nil {
			t.Fatalf("iteration failed: %v", err)
		}
		ids = append(ids, room.ID)
	}
	return ids
}

func TestRoomRepository_RipeSequences(t *testing.T) {
	ctx := context.Background()
	clock := testfixtures.NewClock(time.Time{})
	harness := testfixtures.NewSQLiteHarness(t, 2)

	harness.Seed(t,
		testfixtures.NewRoomFixture(testfixtures.WithRoomID("a"), testfixtures.WithAge(clock, 12)),
		testfixtures.NewRoomFixture(testfixtures.WithRoomID("b"), testfixtures.WithAge(clock, 11)),
		testfixtures.NewRoomFixture(testfixtures.WithRoomID("c"), testfixtures.WithAge(clock, 11)),
		testfixtures.NewRoomFixture(testfixtures.WithRoomID("d"), testfixtures.WithAge(clock, 7), testfixtures.WithPrompted()),
		testfixtures.NewRoomFixture(testfixtures.WithRoomID("e"), testfixtures.WithAge(clock, 6)),
		testfixtures.NewRoomFixture(testfixtures.WithRoomID("f"), testfixtures.WithAge(clock, 2)),
	)

	t.Run("prompting excludes prompted and young rooms across pages", func(t *testing.T) {
		got := collect(t, harness.Rooms.RoomsRipeForPrompting(ctx, clock.MinutesAgo(6)))
		if !slices.Equal(got, []string{"a", "b", "c", "e"}) {
			t.Fatalf("unexpected prompting sequence: %v", got)
		}
	})

	t.Run("reaping includes prompted rooms and excludes reaped ones", func(t *testing.T) {
		if err := harness.Rooms.MarkAbandoned(ctx, "b"); err != nil {
			t.Fatalf("MarkAbandoned failed: %v", err)
		}
		got := collect(t, harness.Rooms.RoomsRipeForReaping(ctx, clock.MinutesAgo(6)))
		if !slices.Equal(got, []string{"a", "c", "d", "e"}) {
			t.Fatalf("unexpected reaping sequence: %v", got)
		}
	})

	t.Run("allows writes while iterating", func(t *testing.T) {
		var visited []string
		for room, err := range harness.Rooms.RoomsRipeForReaping(ctx, clock.MinutesAgo(6)) {
			if err != nil {
				t.Fatalf("iteration failed: %v", err)
			}
			visited = append(visited, room.ID)
			if err := harness.Rooms.MarkContinued(ctx, room.ID); err != nil {
				t.Fatalf("MarkContinued(%s) failed: %v", room.ID, err)
			}
		}
		if !slices.Equal(visited, []string{"a", "c", "d", "e"}) {
			t.Fatalf("each ripe room must be visited exactly once, got %v", visited)
		}
		if got := collect(t, harness.Rooms.RoomsRipeForReaping(ctx, clock.MinutesAgo(6))); len(got) != 0 {
			t.Fatalf("expected no ripe rooms after reaping, got %v", got)
		}
	})

	t.Run("stops when the consumer stops", func(t *testing.T) {
		count := 0
		for range harness.Rooms.RoomsRipeForReaping(ctx, clock.Now()) {
			count++
			break
		}
		if count != 1 {
			t.Fatalf("expected a single room, got %d", count)
		}
	})

	t.Run("reports context cancellation", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		for _, err := range harness.Rooms.RoomsRipeForReaping(cancelled, clock.Now()) {
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
			return
		}
		t.Fatalf("expected the sequence to yield an error")
	})
}

func TestRoomRepository_MarkPrompted(t *testing.T) {
	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t, 0)
	harness.Seed(t, testfixtures.NewRoomFixture(testfixtures.WithRoomID("r1")))

	if err := harness.Rooms.MarkPrompted(ctx, "r1"); err != nil {
		t.Fatalf("MarkPrompted failed: %v", err)
	}
	room, err := harness.Rooms.GetRoom(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRoom failed: %v", err)
	}
	if !room.Prompted || room.State != persistence.RoomStatePrompted {
		t.Fatalf("expected prompted room, got %+v", room)
	}

	if err := harness.Rooms.MarkPrompted(ctx, "r1"); !errors.Is(err, persistence.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict on second prompt, got %v", err)
	}
	if err := harness.Rooms.MarkPrompted(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRoomRepository_VotesAndParticipants(t *testing.T) {
	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t, 0)
	harness.Seed(t, testfixtures.NewRoomFixture(
		testfixtures.WithRoomID("r1"),
		testfixtures.WithParticipants("u1", "u2", "u3"),
		testfixtures.WithVotes(map[string]string{"u1": "abandon", "u2": "continue"}),
	))

	t.Run("rejects votes from non participants", func(t *testing.T) {
		err := harness.Rooms.CastVote(ctx, persistence.Vote{RoomID: "r1", UserID: "stranger", Choice: "increase"})
		if !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation, got %v", err)
		}
	})

	t.Run("rejects unknown vote values", func(t *testing.T) {
		err := harness.Rooms.CastVote(ctx, persistence.Vote{RoomID: "r1", UserID: "u3", Choice: "grow"})
		if !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation, got %v", err)
		}
	})

	t.Run("replaces an earlier vote", func(t *testing.T) {
		if err := harness.Rooms.CastVote(ctx, persistence.Vote{RoomID: "r1", UserID: "u2", Choice: "increase"}); err != nil {
			t.Fatalf("CastVote failed: %v", err)
		}
		votes, err := harness.Rooms.GetVotes(ctx, "r1")
		if err != nil {
			t.Fatalf("GetVotes failed: %v", err)
		}
		want := map[string]string{"u1": "abandon", "u2": "increase", "u3": ""}
		if fmt.Sprint(votes) != fmt.Sprint(want) {
			t.Fatalf("expected %v, got %v", want, votes)
		}
	})

	t.Run("removes participants with their votes", func(t *testing.T) {
		if err := harness.Rooms.RemoveParticipants(ctx, "r1", []string{"u1", "u3"}); err != nil {
			t.Fatalf("RemoveParticipants failed: %v", err)
		}
		votes, err := harness.Rooms.GetVotes(ctx, "r1")
		if err != nil {
			t.Fatalf("GetVotes failed: %v", err)
		}
		if len(votes) != 1 || votes["u2"] != "increase" {
			t.Fatalf("unexpected votes after removal: %v", votes)
		}
	})

	t.Run("continue resets votes and reaps the room", func(t *testing.T) {
		if err := harness.Rooms.MarkContinued(ctx, "r1"); err != nil {
			t.Fatalf("MarkContinued failed: %v", err)
		}
		votes, err := harness.Rooms.GetVotes(ctx, "r1")
		if err != nil {
			t.Fatalf("GetVotes failed: %v", err)
		}
		if votes["u2"] != "" {
			t.Fatalf("expected votes to be reset, got %v", votes)
		}
		room, err := harness.Rooms.GetRoom(ctx, "r1")
		if err != nil {
			t.Fatalf("GetRoom failed: %v", err)
		}
		if room.State != persistence.RoomStateReaped || room.Disposition != persistence.DispositionContinued || room.ReapedAt == nil {
			t.Fatalf("unexpected room after continue: %+v", room)
		}
		if err := harness.Rooms.MarkAbandoned(ctx, "r1"); !errors.Is(err, persistence.ErrStateConflict) {
			t.Fatalf("expected ErrStateConflict reaping twice, got %v", err)
		}
	})
}

func TestRoomRepository_MergeRooms(t *testing.T) {
	ctx := context.Background()
	clock := testfixtures.NewClock(time.Time{})

	t.Run("creates the merged room and redirects both sources", func(t *testing.T) {
		harness := testfixtures.NewSQLiteHarness(t, 0)
		harness.Seed(t,
			testfixtures.NewRoomFixture(testfixtures.WithRoomID("R"), testfixtures.WithLevel(2), testfixtures.WithParticipants("u1", "u2")),
			testfixtures.NewRoomFixture(testfixtures.WithRoomID("S"), testfixtures.WithLevel(2), testfixtures.WithParticipants("u2", "v1")),
		)

		merged, err := harness.Rooms.MergeRooms(ctx, "R", "S", persistence.Room{ID: "M", Level: 3, CreatedAt: clock.Now()})
		if err != nil {
			t.Fatalf("MergeRooms failed: %v", err)
		}
		if merged.ID != "M" || merged.Level != 3 || merged.State != persistence.RoomStateActive || merged.Prompted {
			t.Fatalf("unexpected merged room: %+v", merged)
		}

		participants, err := harness.Rooms.ListParticipants(ctx, "M")
		if err != nil {
			t.Fatalf("ListParticipants failed: %v", err)
		}
		if !slices.Equal(participants, []string{"u1", "u2", "v1"}) {
			t.Fatalf("unexpected merged participants: %v", participants)
		}

		for _, id := range []string{"R", "S"} {
			room, err := harness.Rooms.GetRoom(ctx, id)
			if err != nil {
				t.Fatalf("GetRoom(%s) failed: %v", id, err)
			}
			if room.State != persistence.RoomStateReaped || room.Disposition != persistence.DispositionMerged {
				t.Fatalf("expected %s to be merged, got %+v", id, room)
			}
			if room.MergedInto == nil || *room.MergedInto != "M" {
				t.Fatalf("expected %s to point at M, got %v", id, room.MergedInto)
			}
		}
	})

	t.Run("rejects rooms of different levels and leaves them untouched", func(t *testing.T) {
		harness := testfixtures.NewSQLiteHarness(t, 0)
		harness.Seed(t,
			testfixtures.NewRoomFixture(testfixtures.WithRoomID("A"), testfixtures.WithLevel(1)),
			testfixtures.NewRoomFixture(testfixtures.WithRoomID("B"), testfixtures.WithLevel(2)),
		)

		_, err := harness.Rooms.MergeRooms(ctx, "A", "B", persistence.Room{ID: "M", Level: 2})
		if !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation, got %v", err)
		}
		if _, err := harness.Rooms.GetRoom(ctx, "M"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("merged room must not exist, got %v", err)
		}
		room, err := harness.Rooms.GetRoom(ctx, "A")
		if err != nil {
			t.Fatalf("GetRoom failed: %v", err)
		}
		if room.State == persistence.RoomStateReaped {
			t.Fatalf("expected A to remain unreaped")
		}
	})

	t.Run("rejects merging a room with itself or a reaped room", func(t *testing.T) {
		harness := testfixtures.NewSQLiteHarness(t, 0)
		harness.Seed(t,
			testfixtures.NewRoomFixture(testfixtures.WithRoomID("A")),
			testfixtures.NewRoomFixture(testfixtures.WithRoomID("B")),
		)
		if _, err := harness.Rooms.MergeRooms(ctx, "A", "A", persistence.Room{ID: "M", Level: 2}); !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation, got %v", err)
		}
		if err := harness.Rooms.MarkAbandoned(ctx, "B"); err != nil {
			t.Fatalf("MarkAbandoned failed: %v", err)
		}
		if _, err := harness.Rooms.MergeRooms(ctx, "A", "B", persistence.Room{ID: "M", Level: 2}); !errors.Is(err, persistence.ErrStateConflict) {
			t.Fatalf("expected ErrStateConflict, got %v", err)
		}
	})
}

func TestRoomRepository_SweepDeadRooms(t *testing.T) {
	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t, 0)
	harness.Seed(t,
		testfixtures.NewRoomFixture(testfixtures.WithRoomID("gone"), testfixtures.WithParticipants("u1")),
		testfixtures.NewRoomFixture(testfixtures.WithRoomID("kept"), testfixtures.WithParticipants("u2")),
		testfixtures.NewRoomFixture(testfixtures.WithRoomID("R"), testfixtures.WithParticipants("u3")),
		testfixtures.NewRoomFixture(testfixtures.WithRoomID("S"), testfixtures.WithParticipants("u4")),
		testfixtures.NewRoomFixture(testfixtures.WithRoomID("live")),
	)

	if err := harness.Rooms.MarkAbandoned(ctx, "gone"); err != nil {
		t.Fatalf("MarkAbandoned failed: %v", err)
	}
	if err := harness.Rooms.MarkContinued(ctx, "kept"); err != nil {
		t.Fatalf("MarkContinued failed: %v", err)
	}
	if _, err := harness.Rooms.MergeRooms(ctx, "R", "S", persistence.Room{ID: "M", Level: 2}); err != nil {
		t.Fatalf("MergeRooms failed: %v", err)
	}

	swept, err := harness.Rooms.SweepDeadRooms(ctx)
	if err != nil {
		t.Fatalf("SweepDeadRooms failed: %v", err)
	}
	if swept != 3 {
		t.Fatalf("expected three swept rooms, got %d", swept)
	}

	for _, id := range []string{"gone", "R", "S"} {
		if _, err := harness.Rooms.GetRoom(ctx, id); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected %s to be removed, got %v", id, err)
		}
		if participants, _ := harness.Rooms.ListParticipants(ctx, id); len(participants) != 0 {
			t.Fatalf("expected participants of %s to be removed, got %v", id, participants)
		}
	}
	for _, id := range []string{"kept", "live", "M"} {
		if _, err := harness.Rooms.GetRoom(ctx, id); err != nil {
			t.Fatalf("expected %s to survive, got %v", id, err)
		}
	}

	dead, err := harness.Rooms.ListDeadRooms(ctx)
	if err != nil {
		t.Fatalf("ListDeadRooms failed: %v", err)
	}
	if len(dead) != 3 {
		t.Fatalf("expected three archived rooms, got %+v", dead)
	}
	byID := make(map[string]persistence.DeadRoom, len(dead))
	for _, room := range dead {
		byID[room.ID] = room
	}
	if byID["gone"].Disposition != persistence.DispositionAbandoned {
		t.Fatalf("unexpected archive for gone: %+v", byID["gone"])
	}
	if byID["R"].Disposition != persistence.DispositionMerged || byID["R"].MergedInto == nil || *byID["R"].MergedInto != "M" {
		t.Fatalf("unexpected archive for R: %+v", byID["R"])
	}

	if swept, err := harness.Rooms.SweepDeadRooms(ctx); err != nil || swept != 0 {
		t.Fatalf("expected a second sweep to be a no-op, got %d, %v", swept, err)
	}
}

func TestRoomRepository_CreateRoomValidation(t *testing.T) {
	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t, 0)
	harness.Seed(t, testfixtures.NewRoomFixture(testfixtures.WithRoomID("dup")))

	if err := harness.Rooms.CreateRoom(ctx, testfixtures.NewRoomFixture(testfixtures.WithRoomID("dup")).Persistence()); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := harness.Rooms.CreateRoom(ctx, persistence.Room{ID: " "}); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}
	if err := harness.Rooms.AddParticipants(ctx, "missing", []string{"u1"}); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
