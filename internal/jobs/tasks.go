// Package jobs runs the prompt and reap passes on a cron cadence through asynq.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task types handled by the worker.
const (
	TypePrompt = "robin:prompt"
	TypeReap   = "robin:reap"
)

// DefaultQueue is the asynq queue carrying pass tasks.
const DefaultQueue = "robin"

// Default cadence: every reap is preceded by a prompt five minutes earlier.
const (
	DefaultPromptCron = "10-59/15 * * * *"
	DefaultReapCron   = "*/15 * * * *"
)

// PassPayload is the JSON body of prompt and reap tasks.
type PassPayload struct {
	RoomAgeMinutes int `json:"room_age_minutes"`
}

// NewPromptTask builds a prompt task for rooms at least roomAgeMinutes old.
func NewPromptTask(roomAgeMinutes int, opts ...asynq.Option) (*asynq.Task, error) {
	return newPassTask(TypePrompt, roomAgeMinutes, opts...)
}

// NewReapTask builds a reap task for rooms at least roomAgeMinutes old.
func NewReapTask(roomAgeMinutes int, opts ...asynq.Option) (*asynq.Task, error) {
	return newPassTask(TypeReap, roomAgeMinutes, opts...)
}

func newPassTask(taskType string, roomAgeMinutes int, opts ...asynq.Option) (*asynq.Task, error) {
	if roomAgeMinutes <= 0 {
		return nil, fmt.Errorf("jobs: %s requires a positive room age, got %d", taskType, roomAgeMinutes)
	}
	payload, err := json.Marshal(PassPayload{RoomAgeMinutes: roomAgeMinutes})
	if err != nil {
		return nil, fmt.Errorf("jobs: encode %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, payload, opts...), nil
}

func decodePassPayload(task *asynq.Task) (PassPayload, error) {
	var payload PassPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PassPayload{}, fmt.Errorf("jobs: decode %s payload: %w", task.Type(), err)
	}
	return payload, nil
}

// passOptions are applied to every scheduled pass. A pass never retries: the
// next tick picks up whatever the failed one left behind.
func passOptions(queue string, timeout time.Duration) []asynq.Option {
	if queue == "" {
		queue = DefaultQueue
	}
	opts := []asynq.Option{asynq.Queue(queue), asynq.MaxRetry(0)}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout), asynq.Unique(timeout))
	}
	return opts
}
