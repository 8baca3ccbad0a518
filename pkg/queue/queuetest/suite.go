// Package queuetest holds a conformance suite every queue.Store implementation must pass.
package queuetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/queue"
)

// Factory returns an empty, migrated store. The suite closes it.
type Factory func(t *testing.T) queue.Store

const taskTimeout = 30 * time.Second

// Run executes the conformance suite. Subtests run sequentially so stores
// backed by a shared database can reset between them.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store queue.Store)
	}{
		{"create and get", testCreateAndGet},
		{"claim order", testClaimOrder},
		{"claim respects available_at", testClaimAvailableAt},
		{"stale claim is reclaimed", testStaleReclaim},
		{"heartbeat keeps claim", testHeartbeatKeepsClaim},
		{"complete", testComplete},
		{"fail retries then exhausts", testFailRetriesThenExhausts},
		{"fail backoff and concurrency", testFailBackoffAndConcurrency},
		{"cancel", testCancel},
		{"list and count", testListAndCount},
		{"prune", testPrune},
		{"dead letters", testDeadLetters},
		{"dead letter listing", testDeadLetterListing},
		{"dead letter markers", testDeadLetterMarkers},
		{"stats", testStats},
		{"worker activity", testWorkerActivity},
		{"chains", testChains},
		{"schedules", testSchedules},
		{"admin", testAdmin},
		{"dependencies", testDependencies},
		{"workflows", testWorkflows},
		{"concurrent claims", testConcurrentClaims},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			t.Cleanup(func() { _ = store.Close() })
			tt.fn(t, store)
		})
	}
}

func newClient(t *testing.T, store queue.Store, clock *Clock, opts ...queue.ClientOption) *queue.Client {
	t.Helper()
	opts = append([]queue.ClientOption{
		queue.WithClock(clock.Now),
		queue.WithTaskTimeout(taskTimeout),
		queue.WithBackoff(queue.Backoff{Base: time.Second, Max: time.Minute}),
	}, opts...)
	client, err := queue.NewClient(store, opts...)
	require.NoError(t, err)
	return client
}

func queueName(t *testing.T) string {
	return fmt.Sprintf("q-%s", uuid.NewString()[:8])
}

func spawn(t *testing.T, client *queue.Client, q, name string, opts ...queue.SpawnOption) uuid.UUID {
	t.Helper()
	id, err := client.Spawn(context.Background(), q, name, json.RawMessage(`{"n":1}`), opts...)
	require.NoError(t, err)
	return id
}

func claim(t *testing.T, client *queue.Client, q, worker string) *queue.Task {
	t.Helper()
	task, err := client.Claim(context.Background(), q, worker)
	require.NoError(t, err)
	return task
}

func testCreateAndGet(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)

	id, err := client.Spawn(ctx, q, "convert", json.RawMessage(`{"path":"/data/a.uvh5"}`),
		queue.WithPriority(5), queue.WithMaxRetries(2))
	require.NoError(t, err)

	task, err := store.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, q, task.Queue)
	assert.Equal(t, "convert", task.Name)
	assert.JSONEq(t, `{"path":"/data/a.uvh5"}`, string(task.Params))
	assert.Equal(t, queue.TaskStatusPending, task.Status)
	assert.Equal(t, 5, task.Priority)
	assert.Equal(t, 0, task.RetryCount)
	assert.Equal(t, 2, task.MaxRetries)
	assert.WithinDuration(t, clock.Now(), task.CreatedAt, time.Millisecond)
	assert.WithinDuration(t, clock.Now(), task.AvailableAt, time.Millisecond)
	assert.Nil(t, task.ClaimedAt)
	assert.Empty(t, task.ClaimedBy)

	_, err = store.GetTask(ctx, uuid.New())
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)

	err = store.CreateTask(ctx, task)
	assert.ErrorIs(t, err, queue.ErrTaskExists)
}

func testClaimOrder(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)

	low := spawn(t, client, q, "low")
	clock.Advance(time.Second)
	highOld := spawn(t, client, q, "high-old", queue.WithPriority(10))
	clock.Advance(time.Second)
	highNew := spawn(t, client, q, "high-new", queue.WithPriority(10))
	clock.Advance(time.Second)
	spawn(t, client, queueName(t), "other-queue", queue.WithPriority(100))

	var order []uuid.UUID
	for range 3 {
		task := claim(t, client, q, "w1")
		require.NotNil(t, task)
		assert.Equal(t, queue.TaskStatusClaimed, task.Status)
		assert.Equal(t, "w1", task.ClaimedBy)
		require.NotNil(t, task.ClaimedAt)
		require.NotNil(t, task.LastHeartbeatAt)
		assert.WithinDuration(t, clock.Now(), *task.ClaimedAt, time.Millisecond)
		order = append(order, task.ID)
	}
	assert.Equal(t, []uuid.UUID{highOld, highNew, low}, order)

	assert.Nil(t, claim(t, client, q, "w1"))

	_, err := store.ClaimTask(ctx, q, "w1", clock.Now(), clock.Now().Add(-taskTimeout))
	assert.ErrorIs(t, err, queue.ErrNoTaskToClaim)
}

func testClaimAvailableAt(t *testing.T, store queue.Store) {
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)

	id := spawn(t, client, q, "delayed", queue.WithDelay(time.Minute))

	assert.Nil(t, claim(t, client, q, "w1"))

	clock.Advance(time.Minute)
	task := claim(t, client, q, "w1")
	require.NotNil(t, task)
	assert.Equal(t, id, task.ID)
}

func testStaleReclaim(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)

	id := spawn(t, client, q, "slow", queue.WithMaxRetries(3))

	first := claim(t, client, q, "w1")
	require.NotNil(t, first)

	clock.Advance(taskTimeout - time.Second)
	assert.Nil(t, claim(t, client, q, "w2"), "fresh claim must not be taken")

	clock.Advance(2 * time.Second)
	second := claim(t, client, q, "w2")
	require.NotNil(t, second)
	assert.Equal(t, id, second.ID)
	assert.Equal(t, "w2", second.ClaimedBy)
	assert.Equal(t, 0, second.RetryCount, "reclaim must not consume a retry")

	ok, err := client.Heartbeat(ctx, id, "w1")
	require.NoError(t, err)
	assert.False(t, ok)

	err = client.Complete(ctx, id, "w1", json.RawMessage(`{"by":"w1"}`))
	assert.ErrorIs(t, err, queue.ErrClaimLost)

	_, err = client.Fail(ctx, id, "w1", "boom")
	assert.ErrorIs(t, err, queue.ErrClaimLost)

	require.NoError(t, client.Complete(ctx, id, "w2", json.RawMessage(`{"by":"w2"}`)))
	task, err := client.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusCompleted, task.Status)
	assert.JSONEq(t, `{"by":"w2"}`, string(task.Result))
}

func testHeartbeatKeepsClaim(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)

	id := spawn(t, client, q, "long")
	require.NotNil(t, claim(t, client, q, "w1"))

	for range 3 {
		clock.Advance(taskTimeout / 2)
		ok, err := client.Heartbeat(ctx, id, "w1")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	assert.Nil(t, claim(t, client, q, "w2"))

	ok, err := client.Heartbeat(ctx, id, "w2")
	require.NoError(t, err)
	assert.False(t, ok, "only the claimant may heartbeat")

	clock.Advance(taskTimeout + time.Second)
	ok, err = client.Heartbeat(ctx, id, "w1")
	require.NoError(t, err)
	assert.False(t, ok, "an expired claim cannot be renewed")
}

func testComplete(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)

	id := spawn(t, client, q, "imaging")

	err := client.Complete(ctx, id, "w1", nil)
	assert.ErrorIs(t, err, queue.ErrClaimLost, "pending task cannot be completed")

	require.NotNil(t, claim(t, client, q, "w1"))
	clock.Advance(3 * time.Second)
	require.NoError(t, client.Complete(ctx, id, "w1", json.RawMessage(`{"image":"a.fits"}`)))

	task, err := client.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusCompleted, task.Status)
	assert.JSONEq(t, `{"image":"a.fits"}`, string(task.Result))
	require.NotNil(t, task.CompletedAt)
	assert.WithinDuration(t, clock.Now(), *task.CompletedAt, time.Millisecond)
	assert.Equal(t, "w1", task.ClaimedBy)

	err = client.Complete(ctx, id, "w1", nil)
	assert.ErrorIs(t, err, queue.ErrClaimLost, "completed task cannot be completed twice")
}

func testFailRetriesThenExhausts(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)

	id := spawn(t, client, q, "flaky", queue.WithMaxRetries(2))

	// first failure: backoff 1s
	require.NotNil(t, claim(t, client, q, "w1"))
	outcome, err := client.Fail(ctx, id, "w1", "attempt 1")
	require.NoError(t, err)
	assert.False(t, outcome.Exhausted)
	assert.Equal(t, queue.TaskStatusPending, outcome.Task.Status)
	assert.Equal(t, 1, outcome.Task.RetryCount)
	assert.Equal(t, "attempt 1", outcome.Task.Error)
	assert.WithinDuration(t, clock.Now().Add(time.Second), outcome.Task.AvailableAt, time.Millisecond)
	assert.Empty(t, outcome.Task.ClaimedBy)
	assert.Nil(t, outcome.Task.ClaimedAt)
	require.NotNil(t, outcome.Task.LastFailedAt)

	assert.Nil(t, claim(t, client, q, "w1"), "backoff not elapsed")

	// second failure: backoff 2s
	clock.Advance(time.Second)
	require.NotNil(t, claim(t, client, q, "w2"))
	outcome, err = client.Fail(ctx, id, "w2", "attempt 2")
	require.NoError(t, err)
	assert.False(t, outcome.Exhausted)
	assert.Equal(t, 2, outcome.Task.RetryCount)
	assert.WithinDuration(t, clock.Now().Add(2*time.Second), outcome.Task.AvailableAt, time.Millisecond)

	// third failure exhausts
	clock.Advance(2 * time.Second)
	require.NotNil(t, claim(t, client, q, "w3"))
	outcome, err = client.Fail(ctx, id, "w3", "attempt 3")
	require.NoError(t, err)
	assert.True(t, outcome.Exhausted)
	assert.Equal(t, queue.TaskStatusFailed, outcome.Task.Status)
	assert.Equal(t, 2, outcome.Task.RetryCount, "exhaustion does not bump retry_count")
	assert.Equal(t, "attempt 3", outcome.Task.Error)
	assert.Equal(t, "w3", outcome.Task.ClaimedBy)
	require.NotNil(t, outcome.Task.CompletedAt)

	assert.Nil(t, claim(t, client, q, "w1"), "failed is terminal")
}

func testFailBackoffAndConcurrency(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	backoff := queue.Backoff{Base: 20 * time.Second, Max: 30 * time.Second}
	client := newClient(t, store, clock, queue.WithBackoff(backoff))
	q := queueName(t)

	id := spawn(t, client, q, "flaky", queue.WithMaxRetries(3))
	for retry := range 3 {
		require.NotNil(t, claim(t, client, q, "w1"))
		outcome, err := client.Fail(ctx, id, "w1", "boom")
		require.NoError(t, err)
		assert.WithinDuration(t, clock.Now().Add(backoff.Delay(retry)), outcome.Task.AvailableAt, time.Millisecond,
			"retry %d", retry)
		clock.Advance(backoff.Delay(retry))
	}

	require.NotNil(t, claim(t, client, q, "w1"))
	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Fail(ctx, id, "w1", "boom")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, queue.ErrClaimLost)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one failure is recorded per claim")
	task, err := client.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusFailed, task.Status)
	assert.Equal(t, 3, task.RetryCount)
}

func testCancel(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)

	pending := spawn(t, client, q, "a")
	ok, err := client.Cancel(ctx, pending)
	require.NoError(t, err)
	assert.True(t, ok)

	task, err := client.Get(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusCancelled, task.Status)
	assert.Equal(t, queue.CancelledByUser, task.Error)

	ok, err = client.Cancel(ctx, pending)
	require.NoError(t, err)
	assert.False(t, ok, "already terminal")

	claimed := spawn(t, client, q, "b")
	require.NotNil(t, claim(t, client, q, "w1"))
	ok, err = client.Cancel(ctx, claimed)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, client.Complete(ctx, claimed, "w1", nil), queue.ErrClaimLost)

	_, err = client.Cancel(ctx, uuid.New())
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)
}

func testListAndCount(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)

	var ids []uuid.UUID
	for i := range 4 {
		ids = append(ids, spawn(t, client, q, fmt.Sprintf("task-%d", i%2)))
		clock.Advance(time.Second)
	}
	spawn(t, client, queueName(t), "task-0")
	require.NotNil(t, claim(t, client, q, "w1"))

	all, err := client.List(ctx, queue.TaskFilter{Queue: q})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[3], all[0].ID, "newest first")
	assert.Equal(t, ids[0], all[3].ID)

	byName, err := client.List(ctx, queue.TaskFilter{Queue: q, Name: "task-1"})
	require.NoError(t, err)
	assert.Len(t, byName, 2)

	pending, err := client.List(ctx, queue.TaskFilter{Queue: q, Statuses: []queue.TaskStatus{queue.TaskStatusPending}})
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	page, err := client.List(ctx, queue.TaskFilter{Queue: q, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	counts, err := client.QueueStats(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[queue.TaskStatusPending])
	assert.Equal(t, 1, counts[queue.TaskStatusClaimed])
	assert.Equal(t, 0, counts[queue.TaskStatusCompleted])
	assert.Len(t, counts, len(queue.TaskStatuses))

	total, err := store.CountTasks(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 4, total[queue.TaskStatusPending])
}

func testPrune(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)

	old := spawn(t, client, q, "old")
	require.NotNil(t, claim(t, client, q, "w1"))
	require.NoError(t, client.Complete(ctx, old, "w1", nil))

	clock.Advance(48 * time.Hour)
	fresh := spawn(t, client, q, "fresh")
	require.NotNil(t, claim(t, client, q, "w1"))
	require.NoError(t, client.Complete(ctx, fresh, "w1", nil))
	pending := spawn(t, client, q, "pending")

	n, err := client.Prune(ctx, queue.PruneParams{OlderThan: clock.Now().Add(-24 * time.Hour), Queue: q})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = client.Get(ctx, old)
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)
	_, err = client.Get(ctx, fresh)
	assert.NoError(t, err)
	_, err = client.Get(ctx, pending)
	assert.NoError(t, err)
}

func exhaust(t *testing.T, client *queue.Client, q, name string) *queue.Task {
	t.Helper()
	id := spawn(t, client, q, name, queue.WithMaxRetries(0))
	require.NotNil(t, claim(t, client, q, "w1"))
	outcome, err := client.Fail(context.Background(), id, "w1", "permanent failure")
	require.NoError(t, err)
	require.True(t, outcome.Exhausted)
	return outcome.Task
}

func testDeadLetters(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)

	dlq, err := queue.NewDeadLetterQueue(store, queue.WithDeadLetterClock(clock.Now))
	require.NoError(t, err)

	failed := exhaust(t, client, q, "calibration-solve")

	entry, created, err := dlq.Escalate(ctx, failed, "w1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, failed.ID, entry.OriginalTaskID)
	assert.Equal(t, "calibration-solve", entry.OriginalTaskName)
	assert.Equal(t, q, entry.OriginalQueue)
	assert.Equal(t, "permanent failure", entry.Error)
	assert.Equal(t, "w1", entry.WorkerID)
	assert.Equal(t, queue.DeadLetterPending, entry.Status)

	again, created, err := dlq.Escalate(ctx, failed, "w1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, entry.ID, again.ID)

	markers, err := client.List(ctx, queue.TaskFilter{Queue: q + queue.DeadLetterSuffix})
	require.NoError(t, err)
	require.Len(t, markers, 1, "marker spawned once")
	assert.Equal(t, entry.MarkerTaskID, markers[0].ID)
	assert.Equal(t, queue.DeadLetterTaskName, markers[0].Name)
	assert.Equal(t, 0, markers[0].MaxRetries)

	var payload queue.DeadLetterMarkerPayload
	require.NoError(t, json.Unmarshal(markers[0].Params, &payload))
	assert.Equal(t, failed.ID, payload.OriginalTaskID)
	assert.Equal(t, entry.ID, payload.DeadLetterID)

	pending, err := dlq.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	clock.Advance(time.Minute)
	retried, err := dlq.MarkRetrying(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.DeadLetterRetrying, retried.Status)
	require.NotNil(t, retried.RetriedTaskID)

	respawned, err := client.Get(ctx, *retried.RetriedTaskID)
	require.NoError(t, err)
	assert.Equal(t, q, respawned.Queue)
	assert.Equal(t, "calibration-solve", respawned.Name)
	assert.Equal(t, queue.TaskStatusPending, respawned.Status)
	assert.Equal(t, 0, respawned.RetryCount)
	assert.JSONEq(t, string(failed.Params), string(respawned.Params))

	_, err = dlq.MarkRetrying(ctx, entry.ID)
	assert.ErrorIs(t, err, queue.ErrInvalidDeadLetterTransition)

	failedEntry, err := dlq.MarkFailed(ctx, entry.ID, "retry failed too")
	require.NoError(t, err)
	assert.Equal(t, queue.DeadLetterFailed, failedEntry.Status)
	assert.Equal(t, "retry failed too", failedEntry.Note)

	resolved, err := dlq.Resolve(ctx, entry.ID, "fixed upstream")
	require.NoError(t, err)
	assert.Equal(t, queue.DeadLetterResolved, resolved.Status)

	_, err = dlq.MarkFailed(ctx, entry.ID, "again")
	assert.ErrorIs(t, err, queue.ErrInvalidDeadLetterTransition)
	_, err = dlq.Resolve(ctx, entry.ID, "again")
	assert.ErrorIs(t, err, queue.ErrInvalidDeadLetterTransition)
	_, err = dlq.MarkRetrying(ctx, entry.ID)
	assert.ErrorIs(t, err, queue.ErrInvalidDeadLetterTransition)

	stats, err := dlq.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[queue.DeadLetterResolved])
	assert.Equal(t, 0, stats[queue.DeadLetterPending])

	require.NoError(t, dlq.Delete(ctx, entry.ID))
	_, err = dlq.GetByID(ctx, entry.ID)
	assert.ErrorIs(t, err, queue.ErrDeadLetterNotFound)
	assert.ErrorIs(t, dlq.Delete(ctx, entry.ID), queue.ErrDeadLetterNotFound)
	_, err = dlq.Resolve(ctx, uuid.New(), "")
	assert.ErrorIs(t, err, queue.ErrDeadLetterNotFound)
}

func testDeadLetterListing(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	qa, qb := queueName(t), queueName(t)

	dlq, err := queue.NewDeadLetterQueue(store,
		queue.WithDeadLetterClock(clock.Now),
		queue.WithDeadLetterQueueName("graveyard"))
	require.NoError(t, err)

	var ids []uuid.UUID
	for _, q := range []string{qa, qa, qb} {
		entry, _, err := dlq.Escalate(ctx, exhaust(t, client, q, "imaging"), "w1")
		require.NoError(t, err)
		ids = append(ids, entry.ID)
		clock.Advance(time.Second)
	}

	_, err = dlq.Resolve(ctx, ids[1], "")
	require.NoError(t, err)

	all, err := dlq.List(ctx, queue.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[0], all[0].ID, "oldest first")

	inA, err := dlq.List(ctx, queue.DeadLetterFilter{Queue: qa})
	require.NoError(t, err)
	assert.Len(t, inA, 2)

	pendingA, err := dlq.List(ctx, queue.DeadLetterFilter{Queue: qa, Statuses: []queue.DeadLetterStatus{queue.DeadLetterPending}})
	require.NoError(t, err)
	require.Len(t, pendingA, 1)
	assert.Equal(t, ids[0], pendingA[0].ID)

	markers, err := client.List(ctx, queue.TaskFilter{Queue: "graveyard"})
	require.NoError(t, err)
	assert.Len(t, markers, 3)
}

func testDeadLetterMarkers(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)
	dq := q + queue.DeadLetterSuffix

	dlq, err := queue.NewDeadLetterQueue(store, queue.WithDeadLetterClock(clock.Now))
	require.NoError(t, err)

	loadTask := func(id uuid.UUID) *queue.Task {
		t.Helper()
		task, err := client.Get(ctx, id)
		require.NoError(t, err)
		return task
	}

	retried, _, err := dlq.Escalate(ctx, exhaust(t, client, q, "mosaic"), "w1")
	require.NoError(t, err)
	resolved, _, err := dlq.Escalate(ctx, exhaust(t, client, q, "mosaic"), "w1")
	require.NoError(t, err)
	deleted, _, err := dlq.Escalate(ctx, exhaust(t, client, q, "mosaic"), "w1")
	require.NoError(t, err)

	assert.Nil(t, claim(t, client, dq, "w1"), "markers are never claimed")

	depth, err := store.QueueDepth(ctx, dq)
	require.NoError(t, err)
	assert.Zero(t, depth)
	oldest, err := store.OldestPending(ctx, dq)
	require.NoError(t, err)
	assert.Nil(t, oldest)
	counts, err := client.QueueStats(ctx, dq)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[queue.TaskStatusPending], "open markers stay visible in queue stats")

	clock.Advance(time.Minute)
	_, err = dlq.MarkRetrying(ctx, retried.ID)
	require.NoError(t, err)
	_, err = dlq.Resolve(ctx, resolved.ID, "known bad input")
	require.NoError(t, err)
	require.NoError(t, dlq.Delete(ctx, deleted.ID))

	for _, id := range []uuid.UUID{retried.MarkerTaskID, resolved.MarkerTaskID, deleted.MarkerTaskID} {
		marker := loadTask(id)
		assert.Equal(t, queue.TaskStatusCancelled, marker.Status)
		assert.Equal(t, queue.DeadLetterSettled, marker.Error)
		require.NotNil(t, marker.CompletedAt)
		assert.WithinDuration(t, clock.Now(), *marker.CompletedAt, time.Millisecond)
	}

	counts, err = client.QueueStats(ctx, dq)
	require.NoError(t, err)
	assert.Zero(t, counts[queue.TaskStatusPending])

	_, err = client.Spawn(ctx, dq, queue.DeadLetterTaskName, nil)
	assert.ErrorIs(t, err, queue.ErrReservedTaskName)
}

func testStats(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)
	start := clock.Now()

	require.NoError(t, store.Ping(ctx))

	oldest, err := store.OldestPending(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, oldest)
	last, err := store.LastCompletedAt(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, last)

	done := spawn(t, client, q, "done")
	clock.Advance(time.Second)
	spawn(t, client, q, "waiting")
	clock.Advance(time.Second)
	require.NotNil(t, claim(t, client, q, "w1"))
	clock.Advance(3 * time.Second)
	require.NoError(t, client.Complete(ctx, done, "w1", nil))
	completedAt := clock.Now()

	timedOut := spawn(t, client, q, "slow", queue.WithMaxRetries(0), queue.WithPriority(10))
	require.NotNil(t, claim(t, client, q, "w1"))
	_, err = client.Fail(ctx, timedOut, "w1", "executor Timeout after 300s")
	require.NoError(t, err)

	oldest, err = store.OldestPending(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.WithinDuration(t, start.Add(time.Second), *oldest, time.Millisecond)

	depth, err := store.QueueDepth(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	last, err = store.LastCompletedAt(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.WithinDuration(t, completedAt, *last, time.Millisecond)

	counts, err := store.WindowCounts(ctx, q, start)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Completed)
	assert.Equal(t, 1, counts.Failed)

	counts, err = store.WindowCounts(ctx, q, clock.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Zero(t, counts.Completed)
	assert.Zero(t, counts.Failed)

	samples, err := store.LatencySamples(ctx, q, start, 100)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.InDelta(t, (2 * time.Second).Seconds(), samples[0].Wait.Seconds(), 0.01)
	assert.InDelta(t, (3 * time.Second).Seconds(), samples[0].Exec.Seconds(), 0.01)

	n, err := store.CountTimedOut(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testWorkerActivity(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)
	start := clock.Now()

	finished := spawn(t, client, q, "a")
	require.NotNil(t, claim(t, client, q, "w-done"))
	clock.Advance(time.Second)
	require.NoError(t, client.Complete(ctx, finished, "w-done", nil))

	spawn(t, client, q, "b")
	require.NotNil(t, claim(t, client, q, "w-stale"))

	clock.Advance(taskTimeout * 2 / 3)
	busy := spawn(t, client, q, "c")
	require.NotNil(t, claim(t, client, q, "w-busy"))

	clock.Advance(taskTimeout / 2)
	ok, err := client.Heartbeat(ctx, busy, "w-busy")
	require.NoError(t, err)
	require.True(t, ok)

	now := clock.Now()
	acts, err := store.WorkerActivity(ctx, q, start, now.Add(-taskTimeout))
	require.NoError(t, err)
	require.Len(t, acts, 3)

	byID := make(map[string]queue.WorkerActivity, len(acts))
	for _, a := range acts {
		byID[a.WorkerID] = a
	}

	assert.Equal(t, 1, byID["w-done"].TasksProcessed)
	assert.Zero(t, byID["w-done"].ActiveClaims)
	assert.Equal(t, 1, byID["w-stale"].StaleClaims)
	assert.Equal(t, 1, byID["w-busy"].ActiveClaims)
	assert.Equal(t, q, byID["w-busy"].Queue)
	assert.WithinDuration(t, now, byID["w-busy"].LastSeen, time.Millisecond)

	acts, err = store.WorkerActivity(ctx, q, now, now.Add(-taskTimeout))
	require.NoError(t, err)
	require.Len(t, acts, 1, "only workers seen since the cutoff")
	assert.Equal(t, "w-busy", acts[0].WorkerID)
}

func testChains(t *testing.T, store queue.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := store.GetChain(ctx, "missing")
	assert.ErrorIs(t, err, queue.ErrChainNotFound)

	require.NoError(t, store.SaveChain(ctx, queue.ChainDefinition{
		Name:        "nightly",
		Description: "nightly imaging",
		Tasks:       []string{"convert-uvh5-to-ms", "imaging"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
	require.NoError(t, store.SaveChain(ctx, queue.ChainDefinition{
		Name:      "adhoc",
		Tasks:     []string{"imaging"},
		CreatedAt: now,
		UpdatedAt: now,
	}))

	got, err := store.GetChain(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, "nightly imaging", got.Description)
	assert.Equal(t, []string{"convert-uvh5-to-ms", "imaging"}, got.Tasks)

	require.NoError(t, store.SaveChain(ctx, queue.ChainDefinition{
		Name:      "nightly",
		Tasks:     []string{"imaging"},
		CreatedAt: now.Add(time.Hour),
		UpdatedAt: now.Add(time.Hour),
	}))
	got, err = store.GetChain(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, []string{"imaging"}, got.Tasks)

	list, err := store.ListChains(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "adhoc", list[0].Name)
	assert.Equal(t, "nightly", list[1].Name)

	require.NoError(t, store.DeleteChain(ctx, "adhoc"))
	assert.ErrorIs(t, store.DeleteChain(ctx, "adhoc"), queue.ErrChainNotFound)
}

func testSchedules(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)
	now := clock.Now()

	_, err := store.GetSchedule(ctx, "missing")
	assert.ErrorIs(t, err, queue.ErrScheduleNotFound)

	def := queue.ScheduleDefinition{
		Name:       "hourly-imaging",
		Spec:       "every 1h0m0s",
		TaskName:   "imaging",
		Queue:      q,
		Params:     json.RawMessage(`{"field":"A"}`),
		Priority:   3,
		MaxRetries: 1,
		Enabled:    true,
		NextRunAt:  now,
		CreatedAt:  now,
	}
	require.NoError(t, store.SaveSchedule(ctx, def))

	disabled := def
	disabled.Name = "disabled"
	disabled.Enabled = false
	require.NoError(t, store.SaveSchedule(ctx, disabled))

	later := def
	later.Name = "later"
	later.NextRunAt = now.Add(time.Hour)
	require.NoError(t, store.SaveSchedule(ctx, later))

	got, err := store.GetSchedule(ctx, "hourly-imaging")
	require.NoError(t, err)
	assert.Equal(t, "imaging", got.TaskName)
	assert.JSONEq(t, `{"field":"A"}`, string(got.Params))
	assert.True(t, got.Enabled)
	assert.Nil(t, got.LastRunAt)

	due, err := store.DueSchedules(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "hourly-imaging", due[0].Name)

	task, err := client.NewTask(q, "imaging", def.Params)
	require.NoError(t, err)

	ok, err := store.FireSchedule(ctx, def.Name, now.Add(-time.Minute), now.Add(time.Hour), now, task)
	require.NoError(t, err)
	assert.False(t, ok, "stale expectation must not fire")

	ok, err = store.FireSchedule(ctx, def.Name, now, now.Add(time.Hour), now, task)
	require.NoError(t, err)
	assert.True(t, ok)

	second, err := client.NewTask(q, "imaging", def.Params)
	require.NoError(t, err)
	ok, err = store.FireSchedule(ctx, def.Name, now, now.Add(time.Hour), now, second)
	require.NoError(t, err)
	assert.False(t, ok, "a slot fires once")

	tasks, err := client.List(ctx, queue.TaskFilter{Queue: q})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)

	got, err = store.GetSchedule(ctx, def.Name)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Hour), got.NextRunAt, time.Millisecond)
	require.NotNil(t, got.LastRunAt)

	manual, err := client.NewTask(q, "imaging", def.Params)
	require.NoError(t, err)
	triggeredAt := now.Add(10 * time.Minute)
	require.NoError(t, store.TriggerSchedule(ctx, disabled.Name, triggeredAt, manual))
	got, err = store.GetSchedule(ctx, disabled.Name)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.WithinDuration(t, now, got.NextRunAt, time.Millisecond, "trigger keeps the cadence")
	require.NotNil(t, got.LastRunAt)
	assert.WithinDuration(t, triggeredAt, *got.LastRunAt, time.Millisecond)
	_, err = store.GetTask(ctx, manual.ID)
	require.NoError(t, err)

	orphan, err := client.NewTask(q, "imaging", def.Params)
	require.NoError(t, err)
	assert.ErrorIs(t, store.TriggerSchedule(ctx, "missing", now, orphan), queue.ErrScheduleNotFound)
	_, err = store.GetTask(ctx, orphan.ID)
	assert.ErrorIs(t, err, queue.ErrTaskNotFound, "a failed trigger inserts nothing")

	list, err := store.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	require.NoError(t, store.DeleteSchedule(ctx, "later"))
	assert.ErrorIs(t, store.DeleteSchedule(ctx, "later"), queue.ErrScheduleNotFound)
}

func testAdmin(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrate is idempotent")

	spawn(t, client, queueName(t), "a")

	status, err := store.SchemaStatus(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, status.Backend)

	tables := make(map[string]queue.TableStatus)
	for _, ts := range status.Tables {
		tables[ts.Name] = ts
	}
	for _, name := range queue.SchemaTables {
		assert.True(t, tables[name].Exists, "table %s", name)
	}
	assert.Equal(t, int64(1), tables["tasks"].Rows)
	assert.Equal(t, 1, status.TaskCounts[queue.TaskStatusPending])

	assert.ErrorIs(t, store.Reset(ctx, false), queue.ErrResetNotConfirmed)

	require.NoError(t, store.Reset(ctx, true))
	counts, err := store.CountTasks(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, counts[queue.TaskStatusPending])
}

func testDependencies(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)

	convert := spawn(t, client, q, "convert")
	clock.Advance(time.Second)
	image := spawn(t, client, q, "image", queue.WithDependsOn(convert), queue.WithPriority(10))
	clock.Advance(time.Second)
	gone := spawn(t, client, q, "gone", queue.WithMaxRetries(0))
	clock.Advance(time.Second)
	report := spawn(t, client, q, "report", queue.WithDependsOn(gone), queue.WithPriority(5))

	task, err := store.GetTask(ctx, image)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{convert}, task.DependsOn)
	assert.Nil(t, task.WorkflowID)

	_, err = client.Spawn(ctx, q, "orphan", nil, queue.WithDependsOn(uuid.New()))
	assert.ErrorIs(t, err, queue.ErrDependencyNotFound)

	depth, err := store.QueueDepth(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 4, depth, "blocked tasks count toward depth")

	first := claim(t, client, q, "w1")
	require.NotNil(t, first)
	assert.Equal(t, convert, first.ID, "blocked tasks are skipped despite higher priority")

	oldest, err := store.OldestPending(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	gt, err := store.GetTask(ctx, gone)
	require.NoError(t, err)
	assert.WithinDuration(t, gt.CreatedAt, *oldest, time.Millisecond, "blocked tasks do not age the queue")

	second := claim(t, client, q, "w2")
	require.NotNil(t, second)
	assert.Equal(t, gone, second.ID)
	assert.Nil(t, claim(t, client, q, "w3"))

	require.NoError(t, client.Complete(ctx, convert, "w1", nil))
	next := claim(t, client, q, "w1")
	require.NotNil(t, next)
	assert.Equal(t, image, next.ID)

	outcome, err := client.Fail(ctx, gone, "w2", "boom")
	require.NoError(t, err)
	assert.True(t, outcome.Exhausted)
	assert.Nil(t, claim(t, client, q, "w2"), "a failed dependency keeps the task blocked")

	task, err = store.GetTask(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusPending, task.Status)

	clock.Advance(time.Hour)
	n, err := client.Prune(ctx, queue.PruneParams{OlderThan: clock.Now(), Queue: q, Statuses: []queue.TaskStatus{queue.TaskStatusFailed}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	released := claim(t, client, q, "w2")
	require.NotNil(t, released, "pruned dependencies count as met")
	assert.Equal(t, report, released.ID)
}

func testWorkflows(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)

	newTask := func(name string, wf uuid.UUID, deps ...uuid.UUID) *queue.Task {
		t.Helper()
		task, err := client.NewTask(q, name, nil, queue.WithDependsOn(deps...))
		require.NoError(t, err)
		task.WorkflowID = &wf
		return task
	}

	older := queue.Workflow{ID: uuid.New(), Name: "nightly", CreatedAt: clock.Now()}
	require.NoError(t, store.CreateWorkflow(ctx, older, []*queue.Task{newTask("convert", older.ID)}))

	clock.Advance(time.Minute)
	wf := queue.Workflow{ID: uuid.New(), Name: "calibrate", Description: "solve then image", CreatedAt: clock.Now()}
	solve := newTask("solve", wf.ID)
	image := newTask("image", wf.ID, solve.ID)
	require.NoError(t, store.CreateWorkflow(ctx, wf, []*queue.Task{solve, image}))

	got, err := store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "calibrate", got.Name)
	assert.Equal(t, "solve then image", got.Description)
	assert.WithinDuration(t, wf.CreatedAt, got.CreatedAt, time.Millisecond)

	_, err = store.GetWorkflow(ctx, uuid.New())
	assert.ErrorIs(t, err, queue.ErrWorkflowNotFound)

	list, err := store.ListWorkflows(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, wf.ID, list[0].ID, "newest first")
	assert.Equal(t, older.ID, list[1].ID)

	list, err = store.ListWorkflows(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	tasks, err := store.ListTasks(ctx, queue.TaskFilter{WorkflowID: &wf.ID})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		require.NotNil(t, task.WorkflowID)
		assert.Equal(t, wf.ID, *task.WorkflowID)
	}

	stored, err := store.GetTask(ctx, image.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{solve.ID}, stored.DependsOn)

	t.Run("duplicate workflow id", func(t *testing.T) {
		err := store.CreateWorkflow(ctx, wf, []*queue.Task{newTask("extra", wf.ID)})
		assert.ErrorIs(t, err, queue.ErrInvalidWorkflow)
	})

	t.Run("duplicate task rolls back the workflow", func(t *testing.T) {
		broken := queue.Workflow{ID: uuid.New(), Name: "broken", CreatedAt: clock.Now()}
		fresh := newTask("fresh", broken.ID)
		err := store.CreateWorkflow(ctx, broken, []*queue.Task{fresh, solve})
		assert.ErrorIs(t, err, queue.ErrTaskExists)

		_, err = store.GetWorkflow(ctx, broken.ID)
		assert.ErrorIs(t, err, queue.ErrWorkflowNotFound)
		_, err = store.GetTask(ctx, fresh.ID)
		assert.ErrorIs(t, err, queue.ErrTaskNotFound)
	})

	first := claim(t, client, q, "w1")
	require.NotNil(t, first)
	assert.Equal(t, "convert", first.Name)
	second := claim(t, client, q, "w1")
	require.NotNil(t, second)
	assert.Equal(t, solve.ID, second.ID)
	assert.Nil(t, claim(t, client, q, "w1"))
}

func testConcurrentClaims(t *testing.T, store queue.Store) {
	ctx := context.Background()
	clock := NewClock(time.Now())
	client := newClient(t, store, clock)
	q := queueName(t)

	const tasks, workers = 20, 5
	for range tasks {
		spawn(t, client, q, "parallel")
	}

	var (
		mu      sync.Mutex
		claimed = make(map[uuid.UUID]string)
		wg      sync.WaitGroup
		errs    = make(chan error, workers)
	)
	for i := range workers {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				task, err := client.Claim(ctx, q, worker)
				if err != nil {
					errs <- err
					return
				}
				if task == nil {
					return
				}
				mu.Lock()
				if prev, dup := claimed[task.ID]; dup {
					mu.Unlock()
					errs <- fmt.Errorf("task %s claimed by %s and %s", task.ID, prev, worker)
					return
				}
				claimed[task.ID] = worker
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", i))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, claimed, tasks)
}
