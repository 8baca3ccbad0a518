package queue

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the configuration for the task queue
type Config struct {
	Enabled                 bool    `env:"TASKQ_ENABLED" envDefault:"true"`
	DatabaseURL             string  `env:"TASKQ_DATABASE_URL"`
	QueueName               string  `env:"TASKQ_QUEUE_NAME" envDefault:"default"`
	WorkerConcurrency       int     `env:"TASKQ_WORKER_CONCURRENCY" envDefault:"1"`
	WorkerPollIntervalSec   float64 `env:"TASKQ_WORKER_POLL_INTERVAL_SEC" envDefault:"1"`
	TaskTimeoutSec          float64 `env:"TASKQ_TASK_TIMEOUT_SEC" envDefault:"300"`
	MaxRetries              int     `env:"TASKQ_MAX_RETRIES" envDefault:"3"`
	DeadLetterEnabled       bool    `env:"TASKQ_DEAD_LETTER_ENABLED" envDefault:"true"`
	DeadLetterQueueName     string  `env:"TASKQ_DEAD_LETTER_QUEUE_NAME"`
	APIBaseURL              string  `env:"TASKQ_API_BASE_URL"`
	APIHeartbeatIntervalSec float64 `env:"TASKQ_API_HEARTBEAT_INTERVAL_SEC" envDefault:"10"`

	RetryBackoffBase time.Duration `env:"TASKQ_RETRY_BACKOFF_BASE" envDefault:"5s"`
	RetryBackoffMax  time.Duration `env:"TASKQ_RETRY_BACKOFF_MAX" envDefault:"5m"`
	ErrorBackoff     time.Duration `env:"TASKQ_ERROR_BACKOFF" envDefault:"5s"`
}

// Validate reports configuration errors that must stop the process at startup.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	var errs []error
	if c.QueueName == "" {
		errs = append(errs, ErrEmptyQueueName)
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("worker concurrency must be at least 1, got %d", c.WorkerConcurrency))
	}
	if c.WorkerPollIntervalSec <= 0 {
		errs = append(errs, fmt.Errorf("worker poll interval must be positive, got %v", c.WorkerPollIntervalSec))
	}
	if c.TaskTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("task timeout must be positive, got %v", c.TaskTimeoutSec))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, ErrInvalidMaxRetries)
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

func (c Config) PollInterval() time.Duration {
	return seconds(c.WorkerPollIntervalSec)
}

func (c Config) TaskTimeout() time.Duration {
	return seconds(c.TaskTimeoutSec)
}

func (c Config) APIHeartbeatInterval() time.Duration {
	return seconds(c.APIHeartbeatIntervalSec)
}

// Backoff returns the retry policy described by the config.
func (c Config) Backoff() Backoff {
	return Backoff{Base: c.RetryBackoffBase, Max: c.RetryBackoffMax}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
