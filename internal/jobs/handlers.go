package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/example/robin/internal/application"
	"github.com/example/robin/internal/logging"
)

// Prompter runs a prompt pass.
type Prompter interface {
	PromptForVoting(ctx context.Context, roomAgeMinutes int) (application.PassReport, error)
}

// Reaper runs a reap pass.
type Reaper interface {
	ReapRipeRooms(ctx context.Context, roomAgeMinutes int) (application.PassReport, error)
}

// Handlers adapts the pass services to asynq task handlers.
type Handlers struct {
	prompter Prompter
	reaper   Reaper
	logger   *slog.Logger
}

// NewHandlers wires the pass services.
func NewHandlers(prompter Prompter, reaper Reaper, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{prompter: prompter, reaper: reaper, logger: logger.With("component", "jobs")}
}

// Register binds both task types on mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypePrompt, h.HandlePrompt)
	mux.HandleFunc(TypeReap, h.HandleReap)
}

// HandlePrompt runs a prompt pass for the task's room age.
func (h *Handlers) HandlePrompt(ctx context.Context, task *asynq.Task) error {
	if h.prompter == nil {
		return fmt.Errorf("jobs: prompter not configured: %w", asynq.SkipRetry)
	}
	return h.run(ctx, task, h.prompter.PromptForVoting)
}

// HandleReap runs a reap pass for the task's room age.
func (h *Handlers) HandleReap(ctx context.Context, task *asynq.Task) error {
	if h.reaper == nil {
		return fmt.Errorf("jobs: reaper not configured: %w", asynq.SkipRetry)
	}
	return h.run(ctx, task, h.reaper.ReapRipeRooms)
}

func (h *Handlers) run(ctx context.Context, task *asynq.Task, pass func(context.Context, int) (application.PassReport, error)) error {
	payload, err := decodePassPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	logger := h.logger.With("task_type", task.Type(), "room_age_minutes", payload.RoomAgeMinutes)
	if id, ok := asynq.GetTaskID(ctx); ok {
		logger = logger.With("task_id", id)
	}
	ctx = logging.ContextWithLogger(ctx, logger)

	if _, err := pass(ctx, payload.RoomAgeMinutes); err != nil {
		switch {
		case errors.Is(err, application.ErrPassInProgress):
			logger.InfoContext(ctx, "pass skipped, previous pass still running")
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		case errors.Is(err, application.ErrInvalidThreshold):
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		default:
			return err
		}
	}
	return nil
}
