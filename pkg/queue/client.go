package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dsa110/taskq/pkg/logger"
)

// CancelledByUser is the error recorded on cancelled tasks.
const CancelledByUser = "Cancelled by user"

// Client exposes the transactional task primitives: spawn, claim, heartbeat, complete, fail.
// It holds no task state of its own; the repository is the only source of truth.
type Client struct {
	repo              TaskRepository
	taskTimeout       time.Duration
	defaultMaxRetries int
	backoff           Backoff
	now               func() time.Time
	logger            *slog.Logger
}

// NewClient creates a new Client
func NewClient(repo TaskRepository, opts ...ClientOption) (*Client, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &clientOptions{
		taskTimeout:       5 * time.Minute,
		defaultMaxRetries: 3,
		backoff:           DefaultBackoff(),
		now:               time.Now,
		logger:            slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Client{
		repo:              repo,
		taskTimeout:       options.taskTimeout,
		defaultMaxRetries: options.defaultMaxRetries,
		backoff:           options.backoff,
		now:               options.now,
		logger:            options.logger,
	}, nil
}

// TaskTimeout returns the heartbeat timeout after which a claim becomes stale.
func (c *Client) TaskTimeout() time.Duration {
	return c.taskTimeout
}

// Now returns the client's clock reading.
func (c *Client) Now() time.Time {
	return c.now()
}

// Spawn inserts a pending task and returns its id.
// Dependencies given with WithDependsOn must already exist.
// Store failures are wrapped with ErrStoreUnavailable.
func (c *Client) Spawn(ctx context.Context, queue, name string, params json.RawMessage, opts ...SpawnOption) (uuid.UUID, error) {
	task, err := c.NewTask(queue, name, params, opts...)
	if err != nil {
		return uuid.Nil, err
	}

	for _, dep := range task.DependsOn {
		if _, err := c.repo.GetTask(ctx, dep); err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				return uuid.Nil, fmt.Errorf("%w: %s", ErrDependencyNotFound, dep)
			}
			return uuid.Nil, errors.Join(ErrStoreUnavailable, err)
		}
	}

	if err := c.repo.CreateTask(ctx, task); err != nil {
		return uuid.Nil, errors.Join(ErrStoreUnavailable,
			fmt.Errorf("failed to create task %q in queue %q: %w", task.Name, task.Queue, err))
	}

	c.logger.DebugContext(ctx, "task spawned",
		logger.TaskID(task.ID),
		logger.TaskName(task.Name),
		logger.Queue(task.Queue),
		slog.Int("priority", task.Priority))

	return task.ID, nil
}

// NewTask validates input and builds a pending task without persisting it.
// Used by Spawn and by components that insert tasks inside their own transactions.
func (c *Client) NewTask(queue, name string, params json.RawMessage, opts ...SpawnOption) (*Task, error) {
	options := &spawnOptions{
		maxRetries: c.defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(options)
	}
	if name == DeadLetterTaskName {
		return nil, ErrReservedTaskName
	}
	return buildTask(queue, name, params, options, c.now())
}

func buildTask(queue, name string, params json.RawMessage, options *spawnOptions, now time.Time) (*Task, error) {
	if queue == "" {
		return nil, ErrEmptyQueueName
	}
	if name == "" {
		return nil, ErrEmptyTaskName
	}
	if options.maxRetries < 0 {
		return nil, ErrInvalidMaxRetries
	}

	params, err := normalizeParams(params)
	if err != nil {
		return nil, err
	}

	availableAt := now
	if options.delay > 0 {
		availableAt = now.Add(options.delay)
	}

	var dependsOn []uuid.UUID
	for _, dep := range options.dependsOn {
		if !slices.Contains(dependsOn, dep) {
			dependsOn = append(dependsOn, dep)
		}
	}

	return &Task{
		ID:          uuid.New(),
		Queue:       queue,
		Name:        name,
		Params:      params,
		Status:      TaskStatusPending,
		Priority:    options.priority,
		MaxRetries:  options.maxRetries,
		CreatedAt:   now,
		AvailableAt: availableAt,
		DependsOn:   dependsOn,
	}, nil
}

// normalizeParams defaults empty params to {} and rejects invalid JSON.
func normalizeParams(params json.RawMessage) (json.RawMessage, error) {
	if len(params) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(params) {
		return nil, ErrInvalidParams
	}
	return params, nil
}

// Claim atomically takes the next eligible task in queue for workerID.
// It returns nil, nil when there is nothing to do.
func (c *Client) Claim(ctx context.Context, queue, workerID string) (*Task, error) {
	if queue == "" {
		return nil, ErrEmptyQueueName
	}
	if workerID == "" {
		return nil, ErrEmptyWorkerID
	}

	now := c.now()
	task, err := c.repo.ClaimTask(ctx, queue, workerID, now, now.Add(-c.taskTimeout))
	if err != nil {
		if errors.Is(err, ErrNoTaskToClaim) {
			return nil, nil
		}
		return nil, errors.Join(ErrStoreUnavailable, fmt.Errorf("failed to claim task from queue %q: %w", queue, err))
	}
	return task, nil
}

// Heartbeat extends the claim on taskID. A false result means the claim was lost
// and the caller must stop attributing side effects to it.
func (c *Client) Heartbeat(ctx context.Context, taskID uuid.UUID, workerID string) (bool, error) {
	if workerID == "" {
		return false, ErrEmptyWorkerID
	}

	now := c.now()
	ok, err := c.repo.HeartbeatTask(ctx, taskID, workerID, now, now.Add(-c.taskTimeout))
	if err != nil {
		return false, errors.Join(ErrStoreUnavailable, err)
	}
	return ok, nil
}

// Complete marks a claimed task completed with result.
// Returns ErrClaimLost when the caller no longer holds the claim.
func (c *Client) Complete(ctx context.Context, taskID uuid.UUID, workerID string, result json.RawMessage) error {
	if len(result) > 0 && !json.Valid(result) {
		return ErrInvalidParams
	}

	if err := c.repo.CompleteTask(ctx, taskID, workerID, result, c.now()); err != nil {
		if errors.Is(err, ErrClaimLost) {
			c.logger.WarnContext(ctx, "complete ignored: claim lost",
				logger.TaskID(taskID),
				logger.WorkerID(workerID))
			return err
		}
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// Fail records errMsg against a claimed task. The task returns to pending after a
// backoff while retries remain; otherwise it becomes failed and the outcome is Exhausted.
// Dead-lettering is left to the caller.
func (c *Client) Fail(ctx context.Context, taskID uuid.UUID, workerID, errMsg string) (*FailOutcome, error) {
	task, err := c.repo.FailTask(ctx, FailParams{
		TaskID:   taskID,
		WorkerID: workerID,
		Error:    errMsg,
		Now:      c.now(),
		Backoff:  c.backoff,
	})
	if err != nil {
		if errors.Is(err, ErrClaimLost) {
			c.logger.WarnContext(ctx, "fail ignored: claim lost",
				logger.TaskID(taskID),
				logger.WorkerID(workerID))
			return nil, err
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	return &FailOutcome{
		Task:      task,
		Exhausted: task.Status == TaskStatusFailed,
	}, nil
}

// Cancel moves a pending or claimed task to cancelled.
// It returns false when the task had already finished.
func (c *Client) Cancel(ctx context.Context, taskID uuid.UUID) (bool, error) {
	return c.repo.CancelTask(ctx, taskID, c.now())
}

func (c *Client) Get(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	return c.repo.GetTask(ctx, taskID)
}

func (c *Client) List(ctx context.Context, filter TaskFilter) ([]Task, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return c.repo.ListTasks(ctx, filter)
}

// QueueStats returns task counts per status with every status present.
func (c *Client) QueueStats(ctx context.Context, queue string) (map[TaskStatus]int, error) {
	counts, err := c.repo.CountTasks(ctx, queue)
	if err != nil {
		return nil, err
	}
	return FillStatusCounts(counts), nil
}

// Prune deletes terminal tasks that finished before params.OlderThan.
// Statuses defaults to completed, failed and cancelled; non-terminal statuses are ignored.
func (c *Client) Prune(ctx context.Context, params PruneParams) (int64, error) {
	statuses := make([]TaskStatus, 0, len(params.Statuses))
	for _, s := range params.Statuses {
		if s.Terminal() {
			statuses = append(statuses, s)
		}
	}
	if len(statuses) == 0 {
		statuses = []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled}
	}
	params.Statuses = statuses

	n, err := c.repo.PruneTasks(ctx, params)
	if err != nil {
		return 0, err
	}

	c.logger.InfoContext(ctx, "pruned tasks",
		slog.Int64("deleted", n),
		logger.Queue(params.Queue),
		slog.Time("older_than", params.OlderThan))

	return n, nil
}

// FillStatusCounts returns counts with a zero entry for every missing status.
func FillStatusCounts(counts map[TaskStatus]int) map[TaskStatus]int {
	out := make(map[TaskStatus]int, len(TaskStatuses))
	for _, s := range TaskStatuses {
		out[s] = counts[s]
	}
	return out
}
