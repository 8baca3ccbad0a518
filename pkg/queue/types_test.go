package queue_test

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dsa110/taskq/pkg/queue"
)

func TestTaskStatus(t *testing.T) {
	t.Parallel()

	for _, s := range queue.TaskStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, queue.TaskStatus("running").Valid())

	assert.False(t, queue.TaskStatusPending.Terminal())
	assert.False(t, queue.TaskStatusClaimed.Terminal())
	assert.True(t, queue.TaskStatusCompleted.Terminal())
	assert.True(t, queue.TaskStatusFailed.Terminal())
	assert.True(t, queue.TaskStatusCancelled.Terminal())
}

func TestTask_Stale(t *testing.T) {
	t.Parallel()

	now := time.Now()
	hb := now.Add(-time.Minute)

	claimed := &queue.Task{Status: queue.TaskStatusClaimed, LastHeartbeatAt: &hb}
	assert.True(t, claimed.Stale(now.Add(-30*time.Second)))
	assert.False(t, claimed.Stale(now.Add(-2*time.Minute)))
	assert.False(t, claimed.Stale(hb), "heartbeat at the cutoff is still fresh")

	noBeat := &queue.Task{Status: queue.TaskStatusClaimed}
	assert.True(t, noBeat.Stale(now))

	pending := &queue.Task{Status: queue.TaskStatusPending, LastHeartbeatAt: &hb}
	assert.False(t, pending.Stale(now))
}

func TestNewWorkerID(t *testing.T) {
	t.Parallel()

	id := queue.NewWorkerID()
	assert.Regexp(t, regexp.MustCompile(`^.+-[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, queue.NewWorkerID())
}
