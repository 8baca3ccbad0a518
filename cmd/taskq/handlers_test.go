package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/chain"
	"github.com/dsa110/taskq/pkg/queue"
)

func newTestRegistry(t *testing.T) *queue.Registry {
	t.Helper()
	catalog := chain.NewCatalog(nil)
	require.NoError(t, catalog.Register(chain.Chain{Name: "echo-twice", Tasks: []string{TaskEcho, TaskEcho}}))
	reg, err := newRegistry(catalog, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return reg
}

func TestBuiltinHandlers(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	ctx := context.Background()

	t.Run("noop", func(t *testing.T) {
		t.Parallel()
		res, err := reg.Execute(ctx, TaskNoop, json.RawMessage(`{"x":1}`))
		require.NoError(t, err)
		assert.True(t, res.Succeeded())
		assert.Empty(t, res.Output)
	})

	t.Run("echo returns params", func(t *testing.T) {
		t.Parallel()
		res, err := reg.Execute(ctx, TaskEcho, json.RawMessage(`{"x":1}`))
		require.NoError(t, err)
		assert.True(t, res.Succeeded())
		assert.JSONEq(t, `{"x":1}`, string(res.Output))
	})

	t.Run("fail uses message", func(t *testing.T) {
		t.Parallel()
		res, err := reg.Execute(ctx, TaskFail, json.RawMessage(`{"message":"boom"}`))
		require.NoError(t, err)
		assert.False(t, res.Succeeded())
		assert.Equal(t, "boom", res.Message())
	})

	t.Run("fail default message", func(t *testing.T) {
		t.Parallel()
		res, err := reg.Execute(ctx, TaskFail, nil)
		require.NoError(t, err)
		assert.Equal(t, "task failed on request", res.Message())
	})

	t.Run("sleep", func(t *testing.T) {
		t.Parallel()
		res, err := reg.Execute(ctx, TaskSleep, json.RawMessage(`{"seconds":0.01}`))
		require.NoError(t, err)
		assert.True(t, res.Succeeded())
		assert.JSONEq(t, `{"slept":0.01}`, string(res.Output))
	})

	t.Run("sleep honours cancellation", func(t *testing.T) {
		t.Parallel()
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		start := time.Now()
		res, err := reg.Execute(cctx, TaskSleep, json.RawMessage(`{"seconds":60}`))
		require.NoError(t, err)
		assert.False(t, res.Succeeded())
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("sleep rejects negative", func(t *testing.T) {
		t.Parallel()
		res, err := reg.Execute(ctx, TaskSleep, json.RawMessage(`{"seconds":-1}`))
		require.NoError(t, err)
		assert.False(t, res.Succeeded())
	})

	t.Run("execute-chain runs steps in process", func(t *testing.T) {
		t.Parallel()
		params, err := chain.SpawnParams("echo-twice", json.RawMessage(`{"field":"A"}`))
		require.NoError(t, err)

		res, err := reg.Execute(ctx, chain.ExecuteChainTask, params)
		require.NoError(t, err)
		require.True(t, res.Succeeded(), res.Message())

		var exec chain.Execution
		require.NoError(t, json.Unmarshal(res.Output, &exec))
		assert.True(t, exec.Completed)
		assert.Len(t, exec.Steps, 2)
	})

	t.Run("unknown task", func(t *testing.T) {
		t.Parallel()
		_, err := reg.Execute(ctx, "missing", nil)
		assert.ErrorIs(t, err, queue.ErrHandlerNotFound)
	})
}

func TestReadParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		arg     string
		stdin   string
		want    string
		wantErr error
	}{
		{name: "empty", arg: "", want: ""},
		{name: "inline", arg: `{"a":1}`, want: `{"a":1}`},
		{name: "stdin", arg: "-", stdin: `{"b":2}`, want: `{"b":2}`},
		{name: "invalid", arg: `{"a":`, wantErr: queue.ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := readParams(tt.arg, strings.NewReader(tt.stdin))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := readParams("@"+t.TempDir()+"/missing.json", strings.NewReader(""))
		assert.Error(t, err)
	})
}

func TestParseStatuses(t *testing.T) {
	t.Parallel()

	statuses, err := parseTaskStatuses([]string{"pending", " failed"})
	require.NoError(t, err)
	assert.Equal(t, []queue.TaskStatus{queue.TaskStatusPending, queue.TaskStatusFailed}, statuses)

	_, err = parseTaskStatuses([]string{"done"})
	assert.Error(t, err)

	dl, err := parseDeadLetterStatuses([]string{"retrying"})
	require.NoError(t, err)
	assert.Equal(t, []queue.DeadLetterStatus{queue.DeadLetterRetrying}, dl)

	_, err = parseDeadLetterStatuses([]string{"open"})
	assert.Error(t, err)
}

func TestWorkerIDs(t *testing.T) {
	t.Parallel()

	assert.Empty(t, (&workerOptions{}).workerID(0, 3))
	assert.Equal(t, "node1", (&workerOptions{id: "node1"}).workerID(0, 1))
	assert.Equal(t, "node1-2", (&workerOptions{id: "node1"}).workerID(1, 3))
	assert.Equal(t, "q2", (&workerOptions{queue: "q2"}).queueName(queue.Config{QueueName: "default"}))
	assert.Equal(t, "default", (&workerOptions{}).queueName(queue.Config{QueueName: "default"}))
}
