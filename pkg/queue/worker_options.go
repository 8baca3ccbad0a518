package queue

import (
	"log/slog"
	"time"
)

// WorkerOption is a functional option for configuring a worker
type WorkerOption func(*workerOptions)

type workerOptions struct {
	queue              string
	workerID           string
	pollInterval       time.Duration
	heartbeatInterval  time.Duration
	errorBackoff       time.Duration
	escalationAttempts int
	dlq                *DeadLetterQueue
	publisher          EventPublisher
	logger             *slog.Logger
}

// WithQueue sets which queue the worker claims from
func WithQueue(queue string) WorkerOption {
	return func(o *workerOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithWorkerID overrides the generated "<hostname>-<hex>" id
func WithWorkerID(id string) WorkerOption {
	return func(o *workerOptions) {
		if id != "" {
			o.workerID = id
		}
	}
}

// WithPollInterval sets how long the worker sleeps when the queue is empty
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithHeartbeatInterval sets the heartbeat period; defaults to a third of the task timeout
func WithHeartbeatInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.heartbeatInterval = d
		}
	}
}

// WithErrorBackoff sets the pause after an infrastructure error
func WithErrorBackoff(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.errorBackoff = d
		}
	}
}

// WithEscalationAttempts sets how many times an exhausted task's escalation is tried
// before the worker gives up on it
func WithEscalationAttempts(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.escalationAttempts = n
		}
	}
}

// WithDeadLetterQueue enables escalation of exhausted tasks
func WithDeadLetterQueue(dlq *DeadLetterQueue) WorkerOption {
	return func(o *workerOptions) {
		o.dlq = dlq
	}
}

// WithEventPublisher sets where task and queue events are sent
func WithEventPublisher(p EventPublisher) WorkerOption {
	return func(o *workerOptions) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithWorkerLogger sets the logger for the worker
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
