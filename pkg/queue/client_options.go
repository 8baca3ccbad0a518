package queue

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ClientOption is a functional option for configuring a Client
type ClientOption func(*clientOptions)

type clientOptions struct {
	taskTimeout       time.Duration
	defaultMaxRetries int
	backoff           Backoff
	now               func() time.Time
	logger            *slog.Logger
}

// WithTaskTimeout sets how long a claim survives without a heartbeat
func WithTaskTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		if d > 0 {
			o.taskTimeout = d
		}
	}
}

// WithDefaultMaxRetries sets max retries for tasks spawned without WithMaxRetries
func WithDefaultMaxRetries(n int) ClientOption {
	return func(o *clientOptions) {
		if n >= 0 {
			o.defaultMaxRetries = n
		}
	}
}

// WithBackoff sets the retry backoff policy
func WithBackoff(b Backoff) ClientOption {
	return func(o *clientOptions) {
		o.backoff = b
	}
}

// WithClock replaces time.Now; used by tests to move time without sleeping
func WithClock(now func() time.Time) ClientOption {
	return func(o *clientOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithClientLogger sets the logger for the client
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// SpawnOption is a functional option for the Spawn method
type SpawnOption func(*spawnOptions)

type spawnOptions struct {
	priority   int
	maxRetries int
	delay      time.Duration
	dependsOn  []uuid.UUID
}

// WithPriority sets task priority; higher values are claimed first
func WithPriority(priority int) SpawnOption {
	return func(o *spawnOptions) {
		o.priority = priority
	}
}

// WithMaxRetries sets how many times a failing task is retried before it is exhausted
func WithMaxRetries(n int) SpawnOption {
	return func(o *spawnOptions) {
		o.maxRetries = n
	}
}

// WithDelay makes the task claimable only after d
func WithDelay(d time.Duration) SpawnOption {
	return func(o *spawnOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithDependsOn keeps the task pending until every listed task has completed
func WithDependsOn(ids ...uuid.UUID) SpawnOption {
	return func(o *spawnOptions) {
		o.dependsOn = append(o.dependsOn, ids...)
	}
}
