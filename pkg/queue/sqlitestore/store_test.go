package sqlitestore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/queue"
	"github.com/dsa110/taskq/pkg/queue/queuetest"
	"github.com/dsa110/taskq/pkg/queue/sqlitestore"
)

func openStore(t *testing.T) *sqlitestore.Store {
	t.Helper()

	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "taskq.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestStore_Conformance(t *testing.T) {
	t.Parallel()

	queuetest.Run(t, func(t *testing.T) queue.Store {
		return openStore(t)
	})
}

func TestOpen_EmptyPath(t *testing.T) {
	t.Parallel()

	_, err := sqlitestore.Open("")
	assert.ErrorIs(t, err, sqlitestore.ErrEmptyPath)
}

func TestStore_SchemaStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "nested", "dir", "taskq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	before, err := store.SchemaStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", before.Backend)
	for _, ts := range before.Tables {
		assert.False(t, ts.Exists, ts.Name)
	}
	assert.Zero(t, before.TaskCounts[queue.TaskStatusPending])

	require.NoError(t, store.Migrate(ctx))

	after, err := store.SchemaStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), after.Version)
	for _, ts := range after.Tables {
		assert.True(t, ts.Exists, ts.Name)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "taskq.db")

	store, err := sqlitestore.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))

	client, err := queue.NewClient(store)
	require.NoError(t, err)
	id, err := client.Spawn(ctx, "default", "imaging", []byte(`{"field":"B"}`), queue.WithPriority(2))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := sqlitestore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	require.NoError(t, reopened.Migrate(ctx))

	task, err := reopened.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "imaging", task.Name)
	assert.Equal(t, 2, task.Priority)
	assert.JSONEq(t, `{"field":"B"}`, string(task.Params))
	assert.Equal(t, time.UTC, task.CreatedAt.Location())
}
