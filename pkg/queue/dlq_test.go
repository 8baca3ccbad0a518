package queue_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/queue"
)

func TestDeadLetterQueue_New(t *testing.T) {
	t.Parallel()

	dlq, err := queue.NewDeadLetterQueue(nil)
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)
	assert.Nil(t, dlq)
}

func TestDeadLetterQueue_QueueFor(t *testing.T) {
	t.Parallel()

	store := queue.NewMemoryStorage()

	dlq, err := queue.NewDeadLetterQueue(store)
	require.NoError(t, err)
	assert.Equal(t, "imaging-dlq", dlq.QueueFor("imaging"))

	named, err := queue.NewDeadLetterQueue(store, queue.WithDeadLetterQueueName("graveyard"))
	require.NoError(t, err)
	assert.Equal(t, "graveyard", named.QueueFor("imaging"))
}

func TestDeadLetterQueue_EscalateNil(t *testing.T) {
	t.Parallel()

	dlq, err := queue.NewDeadLetterQueue(queue.NewMemoryStorage())
	require.NoError(t, err)

	_, created, err := dlq.Escalate(context.Background(), nil, "w1")
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)
	assert.False(t, created)
}

func TestDeadLetterQueue_GetStatsFillsStatuses(t *testing.T) {
	t.Parallel()

	dlq, err := queue.NewDeadLetterQueue(queue.NewMemoryStorage())
	require.NoError(t, err)

	stats, err := dlq.GetStats(context.Background())
	require.NoError(t, err)
	assert.Len(t, stats, len(queue.DeadLetterStatuses))
	for _, s := range queue.DeadLetterStatuses {
		assert.Zero(t, stats[s])
	}
}
