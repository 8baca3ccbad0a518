package events_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/events"
	"github.com/dsa110/taskq/pkg/queue"
)

func TestEvent_WireFormat(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("5f0c3c4e-2a7b-4d8e-9a55-0f7c1c2b9d11")
	data, err := events.Event{
		Type:   events.TypeTaskUpdate,
		Queue:  "default",
		TaskID: &id,
		Update: &queue.TaskUpdate{Status: "completed", RetryCount: 1},
	}.Encode()
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "task_update",
		"queue_name": "default",
		"task_id": "5f0c3c4e-2a7b-4d8e-9a55-0f7c1c2b9d11",
		"update": {"status": "completed", "retry_count": 1},
		"timestamp": "0001-01-01T00:00:00Z"
	}`, string(data))
}

func TestDecode(t *testing.T) {
	t.Parallel()

	t.Run("stats update", func(t *testing.T) {
		t.Parallel()

		e, err := events.Decode([]byte(`{"type":"queue_stats_update","queue_name":"q","stats":{"pending":2}}`))
		require.NoError(t, err)
		assert.Equal(t, events.TypeQueueStatsUpdate, e.Type)
		assert.Equal(t, 2, e.Stats[queue.TaskStatusPending])
		assert.Nil(t, e.TaskID)
	})

	t.Run("unknown type", func(t *testing.T) {
		t.Parallel()

		_, err := events.Decode([]byte(`{"type":"hello"}`))
		assert.ErrorIs(t, err, events.ErrInvalidEvent)
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()

		_, err := events.Decode([]byte(`{`))
		assert.ErrorIs(t, err, events.ErrInvalidEvent)
	})
}
