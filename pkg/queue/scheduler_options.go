package queue

import (
	"log/slog"
	"time"
)

// SchedulerOption is a functional option for configuring a scheduler
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	checkInterval time.Duration
	batchSize     int
	now           func() time.Time
	logger        *slog.Logger
}

// WithCheckInterval sets how often the scheduler looks for due schedules
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

// WithScheduleBatchSize limits how many due schedules one tick fires
func WithScheduleBatchSize(n int) SchedulerOption {
	return func(o *schedulerOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithSchedulerClock replaces time.Now
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(o *schedulerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSchedulerLogger sets the logger for the scheduler
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
