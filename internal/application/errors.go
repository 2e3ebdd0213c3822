package application

import (
	"errors"

	"github.com/example/robin/internal/persistence"
)

var (
	// ErrNotFound is returned when a room no longer exists.
	ErrNotFound = errors.New("application: not found")
	// ErrStateConflict is returned when a room already left the state an operation requires.
	ErrStateConflict = errors.New("application: state conflict")
	// ErrPassInProgress is returned when a pass of the same kind is already running in this process.
	ErrPassInProgress = errors.New("application: pass already in progress")
	// ErrInvalidThreshold is returned for a non-positive room age.
	ErrInvalidThreshold = errors.New("application: room age threshold must be positive")
)

func mapRoomRepoError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStateConflict):
		return err
	case errors.Is(err, persistence.ErrNotFound):
		return errors.Join(ErrNotFound, err)
	case errors.Is(err, persistence.ErrStateConflict):
		return errors.Join(ErrStateConflict, err)
	}
	return err
}
