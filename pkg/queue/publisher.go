package queue

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// TaskUpdate is the payload of a task_update event.
type TaskUpdate struct {
	Status       string          `json:"status"`
	TaskName     string          `json:"task_name,omitempty"`
	WorkerID     string          `json:"worker_id,omitempty"`
	RetryCount   int             `json:"retry_count"`
	WillRetry    bool            `json:"will_retry,omitempty"`
	DeadLettered bool            `json:"dead_lettered,omitempty"`
	Error        string          `json:"error,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// EventPublisher receives task state changes. Implementations must not block
// and must swallow their own errors.
type EventPublisher interface {
	TaskUpdate(ctx context.Context, queue string, taskID uuid.UUID, update TaskUpdate)
	QueueStatsUpdate(ctx context.Context, queue string)
}

type nopPublisher struct{}

func (nopPublisher) TaskUpdate(context.Context, string, uuid.UUID, TaskUpdate) {}

func (nopPublisher) QueueStatsUpdate(context.Context, string) {}

// NopPublisher discards all events.
func NopPublisher() EventPublisher {
	return nopPublisher{}
}
