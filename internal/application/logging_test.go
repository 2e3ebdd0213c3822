package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/example/robin/internal/persistence"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}

	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: ErrPassInProgress, want: "pass_in_progress"},
		{err: ErrInvalidThreshold, want: "invalid_threshold"},
		{err: fmt.Errorf("room r1: %w", persistence.ErrNotFound), want: "not_found"},
		{err: mapRoomRepoError(persistence.ErrStateConflict), want: "state_conflict"},
		{err: persistence.ErrDuplicate, want: "duplicate"},
		{err: persistence.ErrConstraintViolation, want: "constraint_violation"},
		{err: context.Canceled, want: "canceled"},
		{err: context.DeadlineExceeded, want: "timeout"},
		{err: fmt.Errorf("boom"), want: "unexpected"},
	}

	for _, tc := range tests {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
