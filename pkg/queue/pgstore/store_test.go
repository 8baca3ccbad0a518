package pgstore_test

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/pg"
	"github.com/dsa110/taskq/pkg/queue"
	"github.com/dsa110/taskq/pkg/queue/pgstore"
	"github.com/dsa110/taskq/pkg/queue/queuetest"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()

	url := os.Getenv("TASKQ_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TASKQ_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := pgstore.Open(ctx, pg.DefaultConfig(url))
	require.NoError(t, err)

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Reset(ctx, true))
	return store
}

func TestStore_Conformance(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) queue.Store {
		return openStore(t)
	})
}

func TestStore_SchemaStatus(t *testing.T) {
	store := openStore(t)
	t.Cleanup(func() { _ = store.Close() })

	status, err := store.SchemaStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "postgres", status.Backend)
	assert.Equal(t, int64(2), status.Version)
	assert.Contains(t, status.Functions, "taskq_claim_task")
}

func TestMigrations(t *testing.T) {
	t.Parallel()

	var all strings.Builder
	for _, name := range []string{"00001_init.sql", "00002_dependencies.sql"} {
		data, err := fs.ReadFile(pgstore.Migrations(), name)
		require.NoError(t, err)
		sql := string(data)
		assert.Contains(t, sql, "-- +goose Up", name)
		assert.Contains(t, sql, "-- +goose Down", name)
		all.WriteString(sql)
	}

	sql := all.String()
	assert.Contains(t, sql, "FOR UPDATE SKIP LOCKED")
	assert.Contains(t, sql, "FOR UPDATE OF c SKIP LOCKED")
	assert.Contains(t, sql, "ANY(c.depends_on)")
	for _, table := range queue.SchemaTables {
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}
