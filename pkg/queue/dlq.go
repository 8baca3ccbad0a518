package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dsa110/taskq/pkg/logger"
)

// DeadLetterMarkerPayload is the params of the marker task spawned into the dead-letter queue.
type DeadLetterMarkerPayload struct {
	DeadLetterID     uuid.UUID       `json:"dead_letter_id"`
	OriginalTaskID   uuid.UUID       `json:"original_task_id"`
	OriginalTaskName string          `json:"original_task_name"`
	OriginalQueue    string          `json:"original_queue"`
	Params           json.RawMessage `json:"params"`
	Error            string          `json:"error"`
	RetryCount       int             `json:"retry_count"`
	WorkerID         string          `json:"worker_id"`
}

// DeadLetterQueue holds tasks whose retries are exhausted until an operator acts on them.
type DeadLetterQueue struct {
	repo      DeadLetterRepository
	queueName string
	now       func() time.Time
	logger    *slog.Logger
}

// NewDeadLetterQueue creates a DLQ service over repo
func NewDeadLetterQueue(repo DeadLetterRepository, opts ...DeadLetterOption) (*DeadLetterQueue, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &deadLetterOptions{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &DeadLetterQueue{
		repo:      repo,
		queueName: options.queueName,
		now:       options.now,
		logger:    options.logger,
	}, nil
}

// QueueFor returns the dead-letter queue for tasks from queue.
func (d *DeadLetterQueue) QueueFor(queue string) string {
	if d.queueName != "" {
		return d.queueName
	}
	return queue + DeadLetterSuffix
}

// Escalate records an exhausted task and spawns a marker task into its dead-letter queue.
// Calling it again for the same task returns the existing entry with created=false.
func (d *DeadLetterQueue) Escalate(ctx context.Context, task *Task, workerID string) (*DeadLetterEntry, bool, error) {
	if task == nil {
		return nil, false, ErrTaskNotFound
	}

	now := d.now()
	entry := &DeadLetterEntry{
		ID:               uuid.New(),
		OriginalTaskID:   task.ID,
		OriginalTaskName: task.Name,
		OriginalQueue:    task.Queue,
		Params:           task.Params,
		Priority:         task.Priority,
		MaxRetries:       task.MaxRetries,
		Error:            task.Error,
		RetryCount:       task.RetryCount,
		WorkerID:         workerID,
		Status:           DeadLetterPending,
		DeadLetteredAt:   now,
		UpdatedAt:        now,
	}

	payload, err := json.Marshal(DeadLetterMarkerPayload{
		DeadLetterID:     entry.ID,
		OriginalTaskID:   task.ID,
		OriginalTaskName: task.Name,
		OriginalQueue:    task.Queue,
		Params:           task.Params,
		Error:            task.Error,
		RetryCount:       task.RetryCount,
		WorkerID:         workerID,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode dead letter marker: %w", err)
	}

	marker, err := buildTask(d.QueueFor(task.Queue), DeadLetterTaskName, payload,
		&spawnOptions{priority: task.Priority, maxRetries: 0}, now)
	if err != nil {
		return nil, false, err
	}
	entry.MarkerTaskID = marker.ID

	stored, created, err := d.repo.CreateDeadLetter(ctx, entry, marker)
	if err != nil {
		return nil, false, fmt.Errorf("failed to dead-letter task %s: %w", task.ID, err)
	}

	if created {
		d.logger.WarnContext(ctx, "task dead-lettered",
			logger.TaskID(task.ID),
			logger.TaskName(task.Name),
			logger.Queue(task.Queue),
			slog.String("dead_letter_queue", marker.Queue),
			logger.RetryCount(task.RetryCount))
	}

	return stored, created, nil
}

// GetPending returns entries awaiting operator action, oldest first.
func (d *DeadLetterQueue) GetPending(ctx context.Context, limit int) ([]DeadLetterEntry, error) {
	return d.List(ctx, DeadLetterFilter{Statuses: []DeadLetterStatus{DeadLetterPending}, Limit: limit})
}

func (d *DeadLetterQueue) List(ctx context.Context, filter DeadLetterFilter) ([]DeadLetterEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return d.repo.ListDeadLetters(ctx, filter)
}

func (d *DeadLetterQueue) GetByID(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error) {
	return d.repo.GetDeadLetter(ctx, id)
}

// MarkRetrying re-spawns the original task with a fresh retry budget and
// records the new task id on the entry.
func (d *DeadLetterQueue) MarkRetrying(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error) {
	entry, err := d.repo.GetDeadLetter(ctx, id)
	if err != nil {
		return nil, err
	}

	task, err := buildTask(entry.OriginalQueue, entry.OriginalTaskName, entry.Params,
		&spawnOptions{priority: entry.Priority, maxRetries: entry.MaxRetries}, d.now())
	if err != nil {
		return nil, err
	}

	updated, err := d.repo.RetryDeadLetter(ctx, id, task,
		[]DeadLetterStatus{DeadLetterPending, DeadLetterFailed}, d.now())
	if err != nil {
		return nil, err
	}

	d.logger.InfoContext(ctx, "dead letter retried",
		logger.DeadLetterID(id),
		slog.String("original_task_id", entry.OriginalTaskID.String()),
		logger.TaskID(task.ID),
		logger.Queue(task.Queue))

	return updated, nil
}

// MarkFailed records that an operator gave up on the entry or its retry failed.
func (d *DeadLetterQueue) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*DeadLetterEntry, error) {
	return d.repo.UpdateDeadLetterStatus(ctx, id,
		[]DeadLetterStatus{DeadLetterPending, DeadLetterRetrying},
		DeadLetterFailed, reason, d.now())
}

// Resolve closes the entry without retrying. Resolved is terminal.
func (d *DeadLetterQueue) Resolve(ctx context.Context, id uuid.UUID, note string) (*DeadLetterEntry, error) {
	return d.repo.UpdateDeadLetterStatus(ctx, id,
		[]DeadLetterStatus{DeadLetterPending, DeadLetterRetrying, DeadLetterFailed},
		DeadLetterResolved, note, d.now())
}

func (d *DeadLetterQueue) Delete(ctx context.Context, id uuid.UUID) error {
	return d.repo.DeleteDeadLetter(ctx, id, d.now())
}

// GetStats returns entry counts for every status.
func (d *DeadLetterQueue) GetStats(ctx context.Context) (map[DeadLetterStatus]int, error) {
	counts, err := d.repo.CountDeadLetters(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[DeadLetterStatus]int, len(DeadLetterStatuses))
	for _, s := range DeadLetterStatuses {
		out[s] = counts[s]
	}
	return out, nil
}

// DeadLetterOption is a functional option for configuring a DeadLetterQueue
type DeadLetterOption func(*deadLetterOptions)

type deadLetterOptions struct {
	queueName string
	now       func() time.Time
	logger    *slog.Logger
}

// WithDeadLetterQueueName routes every marker task to name instead of "<queue>-dlq"
func WithDeadLetterQueueName(name string) DeadLetterOption {
	return func(o *deadLetterOptions) {
		o.queueName = name
	}
}

// WithDeadLetterClock replaces time.Now
func WithDeadLetterClock(now func() time.Time) DeadLetterOption {
	return func(o *deadLetterOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithDeadLetterLogger sets the logger for the DLQ
func WithDeadLetterLogger(logger *slog.Logger) DeadLetterOption {
	return func(o *deadLetterOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
