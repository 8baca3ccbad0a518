package queue_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/queue"
	"github.com/dsa110/taskq/pkg/queue/queuetest"
)

func TestMemoryStorage_Conformance(t *testing.T) {
	t.Parallel()

	queuetest.Run(t, func(t *testing.T) queue.Store {
		return queue.NewMemoryStorage()
	})
}

func TestMemoryStorage_Close(t *testing.T) {
	t.Parallel()

	store := queue.NewMemoryStorage()
	require.NoError(t, store.Ping(context.Background()))

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Ping(context.Background()), queue.ErrStoreUnavailable)
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := queue.NewMemoryStorage()
	client, err := queue.NewClient(store)
	require.NoError(t, err)

	id, err := client.Spawn(ctx, "default", "echo", []byte(`{"a":1}`))
	require.NoError(t, err)

	task, err := store.GetTask(ctx, id)
	require.NoError(t, err)
	task.Status = queue.TaskStatusCompleted
	task.Params[0] = 'x'

	again, err := store.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusPending, again.Status)
	assert.JSONEq(t, `{"a":1}`, string(again.Params))
}
