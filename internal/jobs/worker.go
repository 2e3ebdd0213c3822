package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Schedule describes the periodic passes registered with the scheduler.
type Schedule struct {
	PromptCron       string
	ReapCron         string
	PromptAgeMinutes int
	ReapAgeMinutes   int
	Queue            string
	// Timeout bounds a single pass and the uniqueness window of its task.
	Timeout time.Duration
}

// Registrar is the subset of *asynq.Scheduler used to register entries.
type Registrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

// RegisterSchedule registers the prompt and reap entries and returns their ids.
func RegisterSchedule(registrar Registrar, schedule Schedule) ([]string, error) {
	if schedule.PromptCron == "" {
		schedule.PromptCron = DefaultPromptCron
	}
	if schedule.ReapCron == "" {
		schedule.ReapCron = DefaultReapCron
	}

	prompt, err := NewPromptTask(schedule.PromptAgeMinutes)
	if err != nil {
		return nil, err
	}
	reap, err := NewReapTask(schedule.ReapAgeMinutes)
	if err != nil {
		return nil, err
	}

	opts := passOptions(schedule.Queue, schedule.Timeout)
	entries := make([]string, 0, 2)
	for _, entry := range []struct {
		spec string
		task *asynq.Task
	}{
		{schedule.PromptCron, prompt},
		{schedule.ReapCron, reap},
	} {
		id, err := registrar.Register(entry.spec, entry.task, opts...)
		if err != nil {
			return entries, fmt.Errorf("jobs: register %s at %q: %w", entry.task.Type(), entry.spec, err)
		}
		entries = append(entries, id)
	}
	return entries, nil
}

// WorkerConfig configures the asynq server and scheduler.
type WorkerConfig struct {
	Concurrency int
	Schedule    Schedule
}

// Worker runs the scheduler together with the server consuming its tasks.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    *slog.Logger
}

// NewWorker builds a worker on redisOpt with the schedule already registered.
func NewWorker(redisOpt asynq.RedisConnOpt, cfg WorkerConfig, handlers *Handlers, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker")
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	queue := cfg.Schedule.Queue
	if queue == "" {
		queue = DefaultQueue
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      NewAsynqLogger(logger),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.ErrorContext(ctx, "task failed", "task_type", task.Type(), "error", err)
		}),
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   NewAsynqLogger(logger),
		EnqueueErrorHandler: func(task *asynq.Task, _ []asynq.Option, err error) {
			logger.Error("failed to enqueue scheduled task", "task_type", task.Type(), "error", err)
		},
	})
	if _, err := RegisterSchedule(scheduler, cfg.Schedule); err != nil {
		return nil, err
	}

	mux := asynq.NewServeMux()
	handlers.Register(mux)

	return &Worker{server: server, scheduler: scheduler, mux: mux, logger: logger}, nil
}

// Run starts both halves and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.scheduler.Start(); err != nil {
		return fmt.Errorf("jobs: start scheduler: %w", err)
	}
	if err := w.server.Start(w.mux); err != nil {
		w.scheduler.Shutdown()
		return fmt.Errorf("jobs: start server: %w", err)
	}
	w.logger.InfoContext(ctx, "worker started")

	<-ctx.Done()

	w.scheduler.Shutdown()
	w.server.Shutdown()
	w.logger.Info("worker stopped")
	return nil
}
