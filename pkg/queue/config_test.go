package queue_test

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/queue"
)

func TestConfig_FromEnv(t *testing.T) {
	t.Setenv("TASKQ_DATABASE_URL", "postgres://localhost/taskq")
	t.Setenv("TASKQ_QUEUE_NAME", "imaging")
	t.Setenv("TASKQ_WORKER_POLL_INTERVAL_SEC", "0.5")
	t.Setenv("TASKQ_TASK_TIMEOUT_SEC", "60")

	cfg, err := env.ParseAs[queue.Config]()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 1, cfg.WorkerConcurrency)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.True(t, cfg.DeadLetterEnabled)
	assert.Empty(t, cfg.DeadLetterQueueName)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, time.Minute, cfg.TaskTimeout())
	assert.Equal(t, 10*time.Second, cfg.APIHeartbeatInterval())
	assert.Equal(t, queue.DefaultBackoff(), cfg.Backoff())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := queue.Config{
		Enabled:               true,
		DatabaseURL:           "sqlite:///tmp/q.db",
		QueueName:             "default",
		WorkerConcurrency:     2,
		WorkerPollIntervalSec: 1,
		TaskTimeoutSec:        300,
		MaxRetries:            3,
	}
	require.NoError(t, valid.Validate())

	disabled := queue.Config{}
	assert.NoError(t, disabled.Validate(), "disabled queue needs nothing")

	noURL := valid
	noURL.DatabaseURL = ""
	assert.ErrorIs(t, noURL.Validate(), queue.ErrMissingDatabaseURL)

	bad := valid
	bad.WorkerConcurrency = 0
	bad.TaskTimeoutSec = -1
	err := bad.Validate()
	assert.ErrorIs(t, err, queue.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "concurrency")
	assert.Contains(t, err.Error(), "timeout")
}
