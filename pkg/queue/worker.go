package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dsa110/taskq/pkg/logger"
)

// WorkerState is the worker's position in its lifecycle.
type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerPolling
	WorkerExecuting
	WorkerCompleting
	WorkerFailing
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerPolling:
		return "polling"
	case WorkerExecuting:
		return "executing"
	case WorkerCompleting:
		return "completing"
	case WorkerFailing:
		return "failing"
	case WorkerStopped:
		return "stopped"
	}
	return "unknown"
}

// WorkerInfo is a point-in-time snapshot of a worker.
type WorkerInfo struct {
	ID             string    `json:"worker_id"`
	Queue          string    `json:"queue_name"`
	State          string    `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	TasksProcessed int64     `json:"tasks_processed"`
}

// Worker claims tasks from one queue and runs them one at a time.
// Run more Worker values for parallelism.
type Worker struct {
	client    *Client
	executor  Executor
	dlq       *DeadLetterQueue
	publisher EventPublisher

	workerID           string
	queue              string
	pollInterval       time.Duration
	heartbeatInterval  time.Duration
	errorBackoff       time.Duration
	escalationAttempts int
	logger             *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	state     atomic.Int32
	processed atomic.Int64
}

// NewWorker creates a new task worker
func NewWorker(client *Client, executor Executor, opts ...WorkerOption) (*Worker, error) {
	if client == nil {
		return nil, ErrClientNil
	}
	if executor == nil {
		return nil, ErrExecutorNil
	}

	options := &workerOptions{
		queue:              DefaultQueueName,
		pollInterval:       time.Second,
		errorBackoff:       5 * time.Second,
		escalationAttempts: 5,
		publisher:          NopPublisher(),
		logger:             slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	if options.workerID == "" {
		options.workerID = NewWorkerID()
	}
	if options.heartbeatInterval <= 0 {
		options.heartbeatInterval = max(client.TaskTimeout()/3, 10*time.Millisecond)
	}

	return &Worker{
		client:             client,
		executor:           executor,
		dlq:                options.dlq,
		publisher:          options.publisher,
		workerID:           options.workerID,
		queue:              options.queue,
		pollInterval:       options.pollInterval,
		heartbeatInterval:  options.heartbeatInterval,
		errorBackoff:       options.errorBackoff,
		escalationAttempts: options.escalationAttempts,
		logger:             options.logger,
	}, nil
}

// ID returns the worker id used as claimed_by.
func (w *Worker) ID() string {
	return w.workerID
}

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Info returns a snapshot for heartbeat reporting.
func (w *Worker) Info() WorkerInfo {
	w.mu.Lock()
	startedAt := w.startedAt
	w.mu.Unlock()

	return WorkerInfo{
		ID:             w.workerID,
		Queue:          w.queue,
		State:          w.State().String(),
		StartedAt:      startedAt,
		TasksProcessed: w.processed.Load(),
	}
}

// Start begins processing tasks in the background
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return ErrWorkerAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.startedAt = w.client.Now()
	w.state.Store(int32(WorkerIdle))

	go w.run(runCtx, w.done)

	w.logger.Info("worker started",
		logger.WorkerID(w.workerID),
		logger.Queue(w.queue),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("heartbeat_interval", w.heartbeatInterval))

	return nil
}

// Stop stops polling and waits for the in-flight task to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return ErrWorkerNotStarted
	}
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	w.logger.Info("worker stopping, waiting for in-flight task",
		logger.WorkerID(w.workerID))

	cancel()
	<-done

	w.logger.Info("worker stopped",
		logger.WorkerID(w.workerID),
		slog.Int64("tasks_processed", w.processed.Load()))

	return nil
}

// Run starts the worker and returns a function suitable for errgroup
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return w.Stop()
	}
}

// run is the main processing loop. Every iteration is isolated: errors are
// logged and followed by a fixed backoff, never returned.
func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer w.state.Store(int32(WorkerStopped))

	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := w.ProcessOne(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("poll iteration failed",
				logger.WorkerID(w.workerID),
				logger.Queue(w.queue),
				slog.Duration("backoff", w.errorBackoff),
				logger.Error(err))
			if !sleepCtx(ctx, w.errorBackoff) {
				return
			}
		case !processed:
			if !sleepCtx(ctx, w.pollInterval) {
				return
			}
		}
	}
}

// ProcessOne claims and runs at most one task. It reports whether a task was processed.
// Task failures are handled internally; only infrastructure errors are returned.
func (w *Worker) ProcessOne(ctx context.Context) (processed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in worker iteration: %v", r)
		}
	}()

	w.state.Store(int32(WorkerPolling))
	task, err := w.client.Claim(ctx, w.queue, w.workerID)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	// the task outlives Stop: shutdown drains instead of aborting
	w.process(context.WithoutCancel(ctx), task)
	w.processed.Add(1)
	return true, nil
}

func (w *Worker) process(ctx context.Context, task *Task) {
	start := time.Now()
	log := w.logger.With(
		logger.WorkerID(w.workerID),
		logger.TaskID(task.ID),
		logger.TaskName(task.Name),
		logger.Queue(task.Queue))

	log.Debug("claimed task", logger.RetryCount(task.RetryCount))

	w.state.Store(int32(WorkerExecuting))
	w.publisher.TaskUpdate(ctx, task.Queue, task.ID, TaskUpdate{
		Status:     string(TaskStatusClaimed),
		TaskName:   task.Name,
		WorkerID:   w.workerID,
		RetryCount: task.RetryCount,
	})

	result, claimLost, execErr := w.execute(ctx, task, log)
	duration := time.Since(start)

	if claimLost {
		log.Warn("dropping task outcome: claim lost during execution",
			slog.Duration("duration", duration))
		return
	}

	if execErr == nil && result.Succeeded() {
		w.handleSuccess(ctx, task, result, duration, log)
		return
	}

	msg := result.Message()
	if execErr != nil {
		msg = execErr.Error()
	}
	w.handleFailure(ctx, task, msg, duration, log)
}

// execute runs the executor with a heartbeat ticker alongside it.
// The ticker is torn down on every exit path, including panics.
func (w *Worker) execute(ctx context.Context, task *Task, log *slog.Logger) (result Result, claimLost bool, err error) {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lost atomic.Bool
	stopHeartbeat := w.startHeartbeat(execCtx, task, func() {
		lost.Store(true)
		cancel()
	}, log)

	defer func() {
		stopHeartbeat()
		claimLost = lost.Load()
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrExecutorPanic, r)
			log.Error("executor panicked", slog.Any("panic", r))
		}
	}()

	result, err = w.executor.Execute(logger.WithTask(execCtx, task.ID, task.Name, task.Queue), task.Name, task.Params)
	return result, false, err
}

// startHeartbeat ticks Client.Heartbeat until the returned stop function is called.
// onLost runs once when the store rejects a heartbeat.
func (w *Worker) startHeartbeat(ctx context.Context, task *Task, onLost func(), log *slog.Logger) func() {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(w.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := w.client.Heartbeat(ctx, task.ID, w.workerID)
				if err != nil {
					log.Warn("heartbeat failed", logger.Error(err))
					continue
				}
				if !ok {
					log.Warn("heartbeat rejected, claim lost")
					onLost()
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
		})
	}
}

func (w *Worker) handleSuccess(ctx context.Context, task *Task, result Result, duration time.Duration, log *slog.Logger) {
	w.state.Store(int32(WorkerCompleting))

	if err := w.client.Complete(ctx, task.ID, w.workerID, result.Output); err != nil {
		if !errors.Is(err, ErrClaimLost) {
			log.Error("failed to mark task completed", logger.Error(err))
		}
		return
	}

	log.Info("task completed", slog.Duration("duration", duration))

	w.publisher.TaskUpdate(ctx, task.Queue, task.ID, TaskUpdate{
		Status:     string(TaskStatusCompleted),
		TaskName:   task.Name,
		WorkerID:   w.workerID,
		RetryCount: task.RetryCount,
		Result:     result.Output,
	})
	w.publisher.QueueStatsUpdate(ctx, task.Queue)
}

func (w *Worker) handleFailure(ctx context.Context, task *Task, msg string, duration time.Duration, log *slog.Logger) {
	w.state.Store(int32(WorkerFailing))

	outcome, err := w.client.Fail(ctx, task.ID, w.workerID, msg)
	if err != nil {
		if !errors.Is(err, ErrClaimLost) {
			log.Error("failed to record task failure", logger.Error(err))
		}
		return
	}

	log.Error("task failed",
		logger.RetryCount(outcome.Task.RetryCount),
		slog.Int("max_retries", outcome.Task.MaxRetries),
		slog.Bool("exhausted", outcome.Exhausted),
		slog.Duration("duration", duration),
		slog.String("error", msg))

	update := TaskUpdate{
		Status:     string(outcome.Task.Status),
		TaskName:   task.Name,
		WorkerID:   w.workerID,
		RetryCount: outcome.Task.RetryCount,
		WillRetry:  !outcome.Exhausted,
		Error:      msg,
	}
	w.publisher.TaskUpdate(ctx, task.Queue, task.ID, update)

	if outcome.Exhausted && w.dlq != nil && w.escalate(ctx, outcome.Task, log) {
		update.DeadLettered = true
		w.publisher.TaskUpdate(ctx, task.Queue, task.ID, update)
	}

	w.publisher.QueueStatsUpdate(ctx, task.Queue)
}

// escalate dead-letters an exhausted task. Store errors are retried after the
// error backoff, up to escalationAttempts tries in total.
func (w *Worker) escalate(ctx context.Context, task *Task, log *slog.Logger) bool {
	for attempt := 1; ; attempt++ {
		entry, created, err := w.dlq.Escalate(ctx, task, w.workerID)
		if err == nil {
			if created {
				log.Warn("task moved to dead letter queue",
					logger.DeadLetterID(entry.ID),
					slog.String("dead_letter_queue", w.dlq.QueueFor(task.Queue)))
			}
			return true
		}

		if attempt >= w.escalationAttempts {
			log.Error("giving up on dead-lettering task",
				slog.Int("attempts", attempt),
				logger.Error(err))
			return false
		}
		log.Warn("failed to dead-letter task, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", w.errorBackoff),
			logger.Error(err))
		if !sleepCtx(ctx, w.errorBackoff) {
			return false
		}
	}
}

// sleepCtx waits for d or ctx cancellation; it reports false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
