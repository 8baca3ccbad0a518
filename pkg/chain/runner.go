package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dsa110/taskq/pkg/queue"
)

// Runner executes one chain step and returns its output.
type Runner interface {
	Run(ctx context.Context, taskName string, params json.RawMessage) (json.RawMessage, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, taskName string, params json.RawMessage) (json.RawMessage, error)

func (f RunnerFunc) Run(ctx context.Context, taskName string, params json.RawMessage) (json.RawMessage, error) {
	return f(ctx, taskName, params)
}

// ExecutorRunner runs each step inline through an executor.
type ExecutorRunner struct {
	executor queue.Executor
}

func NewExecutorRunner(executor queue.Executor) *ExecutorRunner {
	return &ExecutorRunner{executor: executor}
}

func (r *ExecutorRunner) Run(ctx context.Context, taskName string, params json.RawMessage) (json.RawMessage, error) {
	res, err := r.executor.Execute(ctx, taskName, params)
	if err != nil {
		return nil, err
	}
	if !res.Succeeded() {
		return nil, errors.New(res.Message())
	}
	return res.Output, nil
}

const DefaultPollInterval = time.Second

// QueueRunner spawns each step as a task and waits for it to reach a terminal
// status. Retries happen inside the queue; the step fails only once the task
// is failed or cancelled.
type QueueRunner struct {
	client       *queue.Client
	queue        string
	pollInterval time.Duration
	spawnOpts    []queue.SpawnOption
}

// QueueRunnerOption configures a QueueRunner.
type QueueRunnerOption func(*QueueRunner)

func WithPollInterval(d time.Duration) QueueRunnerOption {
	return func(r *QueueRunner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithSpawnOptions applies opts to every spawned step.
func WithSpawnOptions(opts ...queue.SpawnOption) QueueRunnerOption {
	return func(r *QueueRunner) {
		r.spawnOpts = append(r.spawnOpts, opts...)
	}
}

func NewQueueRunner(client *queue.Client, queueName string, opts ...QueueRunnerOption) (*QueueRunner, error) {
	if client == nil {
		return nil, ErrNilRunner
	}
	if queueName == "" {
		return nil, queue.ErrEmptyQueueName
	}
	r := &QueueRunner{
		client:       client,
		queue:        queueName,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *QueueRunner) Run(ctx context.Context, taskName string, params json.RawMessage) (json.RawMessage, error) {
	id, err := r.client.Spawn(ctx, r.queue, taskName, params, r.spawnOpts...)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", taskName, err)
	}
	return r.await(ctx, id)
}

func (r *QueueRunner) await(ctx context.Context, id uuid.UUID) (json.RawMessage, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		task, err := r.client.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("poll task %s: %w", id, err)
		}
		switch task.Status {
		case queue.TaskStatusCompleted:
			return task.Result, nil
		case queue.TaskStatusFailed, queue.TaskStatusCancelled:
			msg := task.Error
			if msg == "" {
				msg = "task " + string(task.Status)
			}
			return nil, errors.New(msg)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
