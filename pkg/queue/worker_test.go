package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/logger"
	"github.com/dsa110/taskq/pkg/queue"
)

type recordedUpdate struct {
	queue  string
	taskID uuid.UUID
	update queue.TaskUpdate
}

// recordingPublisher captures worker events.
type recordingPublisher struct {
	mu      sync.Mutex
	updates []recordedUpdate
	stats   []string
}

func (p *recordingPublisher) TaskUpdate(_ context.Context, q string, taskID uuid.UUID, update queue.TaskUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, recordedUpdate{queue: q, taskID: taskID, update: update})
}

func (p *recordingPublisher) QueueStatsUpdate(_ context.Context, q string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = append(p.stats, q)
}

func (p *recordingPublisher) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.updates))
	for _, u := range p.updates {
		out = append(out, u.update.Status)
	}
	return out
}

func (p *recordingPublisher) taskUpdates() []queue.TaskUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]queue.TaskUpdate, 0, len(p.updates))
	for _, u := range p.updates {
		out = append(out, u.update)
	}
	return out
}

func (p *recordingPublisher) last() queue.TaskUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updates[len(p.updates)-1].update
}

// flakyStore fails ClaimTask with a store error.
type flakyStore struct {
	*queue.MemoryStorage
}

func (flakyStore) ClaimTask(context.Context, string, string, time.Time, time.Time) (*queue.Task, error) {
	return nil, errors.New("connection refused")
}

// brokenDeadLetters makes the first n CreateDeadLetter calls fail, n being failures.
type brokenDeadLetters struct {
	*queue.MemoryStorage

	mu       sync.Mutex
	failures int
	calls    int
}

func (s *brokenDeadLetters) CreateDeadLetter(ctx context.Context, entry *queue.DeadLetterEntry, marker *queue.Task) (*queue.DeadLetterEntry, bool, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return nil, false, errors.New("connection reset by peer")
	}
	return s.MemoryStorage.CreateDeadLetter(ctx, entry, marker)
}

type workerFixture struct {
	store     *queue.MemoryStorage
	client    *queue.Client
	dlq       *queue.DeadLetterQueue
	publisher *recordingPublisher
}

func newWorkerFixture(t *testing.T, clientOpts ...queue.ClientOption) *workerFixture {
	t.Helper()

	store := queue.NewMemoryStorage()
	opts := append([]queue.ClientOption{
		queue.WithBackoff(queue.NoBackoff()),
		queue.WithClientLogger(discardLogger()),
	}, clientOpts...)
	client, err := queue.NewClient(store, opts...)
	require.NoError(t, err)

	dlq, err := queue.NewDeadLetterQueue(store, queue.WithDeadLetterLogger(discardLogger()))
	require.NoError(t, err)

	return &workerFixture{store: store, client: client, dlq: dlq, publisher: &recordingPublisher{}}
}

func (f *workerFixture) worker(t *testing.T, executor queue.Executor, opts ...queue.WorkerOption) *queue.Worker {
	t.Helper()
	opts = append([]queue.WorkerOption{
		queue.WithQueue("jobs"),
		queue.WithWorkerID("worker-1"),
		queue.WithPollInterval(5 * time.Millisecond),
		queue.WithHeartbeatInterval(10 * time.Millisecond),
		queue.WithErrorBackoff(5 * time.Millisecond),
		queue.WithDeadLetterQueue(f.dlq),
		queue.WithEventPublisher(f.publisher),
		queue.WithWorkerLogger(discardLogger()),
	}, opts...)
	w, err := queue.NewWorker(f.client, executor, opts...)
	require.NoError(t, err)
	return w
}

func (f *workerFixture) spawn(t *testing.T, name string, params string, opts ...queue.SpawnOption) uuid.UUID {
	t.Helper()
	id, err := f.client.Spawn(context.Background(), "jobs", name, json.RawMessage(params), opts...)
	require.NoError(t, err)
	return id
}

func echoRegistry() *queue.Registry {
	r := queue.NewRegistry()
	r.MustRegister("echo", func(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
		return params, nil
	})
	r.MustRegister("fail", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("bad input")
	})
	return r
}

func TestWorker_NewWorker(t *testing.T) {
	t.Parallel()

	f := newWorkerFixture(t)

	w, err := queue.NewWorker(nil, echoRegistry())
	assert.ErrorIs(t, err, queue.ErrClientNil)
	assert.Nil(t, w)

	w, err = queue.NewWorker(f.client, nil)
	assert.ErrorIs(t, err, queue.ErrExecutorNil)
	assert.Nil(t, w)

	w, err = queue.NewWorker(f.client, echoRegistry())
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID())
	assert.Equal(t, queue.WorkerIdle, w.State())
	assert.Equal(t, queue.DefaultQueueName, w.Info().Queue)
}

func TestWorker_ProcessOne(t *testing.T) {
	t.Parallel()

	t.Run("empty queue", func(t *testing.T) {
		t.Parallel()

		f := newWorkerFixture(t)
		w := f.worker(t, echoRegistry())

		processed, err := w.ProcessOne(context.Background())
		require.NoError(t, err)
		assert.False(t, processed)
		assert.Empty(t, f.publisher.statuses())
	})

	t.Run("success completes the task", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		f := newWorkerFixture(t)
		w := f.worker(t, echoRegistry())
		id := f.spawn(t, "echo", `{"hello":"world"}`)

		processed, err := w.ProcessOne(ctx)
		require.NoError(t, err)
		assert.True(t, processed)

		task, err := f.client.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.TaskStatusCompleted, task.Status)
		assert.Equal(t, "worker-1", task.ClaimedBy)
		assert.JSONEq(t, `{"hello":"world"}`, string(task.Result))

		assert.Equal(t, []string{"claimed", "completed"}, f.publisher.statuses())
		assert.JSONEq(t, `{"hello":"world"}`, string(f.publisher.last().Result))
		assert.Equal(t, []string{"jobs"}, f.publisher.stats)
		assert.Equal(t, int64(1), w.Info().TasksProcessed)
	})

	t.Run("failure with retries left returns task to pending", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		f := newWorkerFixture(t)
		w := f.worker(t, echoRegistry())
		id := f.spawn(t, "fail", `{}`, queue.WithMaxRetries(3))

		processed, err := w.ProcessOne(ctx)
		require.NoError(t, err)
		assert.True(t, processed)

		task, err := f.client.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.TaskStatusPending, task.Status)
		assert.Equal(t, 1, task.RetryCount)
		assert.Equal(t, "bad input", task.Error)

		last := f.publisher.last()
		assert.Equal(t, "pending", last.Status)
		assert.True(t, last.WillRetry)
		assert.False(t, last.DeadLettered)
		assert.Equal(t, "bad input", last.Error)

		stats, err := f.dlq.GetStats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats[queue.DeadLetterPending])
	})

	t.Run("unknown task name counts as failure", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		f := newWorkerFixture(t)
		w := f.worker(t, echoRegistry())
		id := f.spawn(t, "nope", `{}`, queue.WithMaxRetries(0))

		_, err := w.ProcessOne(ctx)
		require.NoError(t, err)

		task, err := f.client.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.TaskStatusFailed, task.Status)
		assert.Contains(t, task.Error, "no handler registered")
	})

	t.Run("executor panic counts as failure", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		f := newWorkerFixture(t)
		w := f.worker(t, queue.ExecutorFunc(func(context.Context, string, json.RawMessage) (queue.Result, error) {
			panic("out of memory")
		}))
		id := f.spawn(t, "anything", `{}`, queue.WithMaxRetries(1))

		processed, err := w.ProcessOne(ctx)
		require.NoError(t, err)
		assert.True(t, processed)

		task, err := f.client.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.TaskStatusPending, task.Status)
		assert.Contains(t, task.Error, "out of memory")
	})

	t.Run("store error is returned", func(t *testing.T) {
		t.Parallel()

		client, err := queue.NewClient(flakyStore{queue.NewMemoryStorage()})
		require.NoError(t, err)
		w, err := queue.NewWorker(client, echoRegistry(), queue.WithWorkerLogger(discardLogger()))
		require.NoError(t, err)

		processed, err := w.ProcessOne(context.Background())
		assert.False(t, processed)
		assert.ErrorIs(t, err, queue.ErrStoreUnavailable)
	})
}

func TestWorker_TagsExecutionContext(t *testing.T) {
	t.Parallel()

	var (
		gotID uuid.UUID
		found bool
	)
	reg := queue.NewRegistry()
	reg.MustRegister("inspect", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		gotID, found = logger.TaskFromContext(ctx)
		return nil, nil
	})

	f := newWorkerFixture(t)
	w := f.worker(t, reg)
	id := f.spawn(t, "inspect", `{}`)

	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	assert.True(t, found)
	assert.Equal(t, id, gotID)
}

func TestWorker_ExhaustedTaskIsDeadLettered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newWorkerFixture(t)
	w := f.worker(t, echoRegistry())
	id := f.spawn(t, "fail", `{"file":"a.uvh5"}`, queue.WithMaxRetries(2))

	for range 3 {
		processed, err := w.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}

	task, err := f.client.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusFailed, task.Status)
	assert.Equal(t, 2, task.RetryCount)

	entries, err := f.dlq.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].OriginalTaskID)
	assert.Equal(t, 2, entries[0].RetryCount)
	assert.Equal(t, "bad input", entries[0].Error)
	assert.Equal(t, "worker-1", entries[0].WorkerID)

	markers, err := f.client.List(ctx, queue.TaskFilter{Queue: "jobs-dlq"})
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, queue.DeadLetterTaskName, markers[0].Name)

	assert.Equal(t,
		[]string{"claimed", "pending", "claimed", "pending", "claimed", "failed", "failed"},
		f.publisher.statuses())
	updates := f.publisher.taskUpdates()
	failed, escalated := updates[len(updates)-2], updates[len(updates)-1]
	assert.False(t, failed.DeadLettered, "failure is reported before escalation")
	assert.False(t, failed.WillRetry)
	assert.True(t, escalated.DeadLettered)
	assert.Equal(t, "bad input", escalated.Error)

	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "nothing left in the source queue")
}

func TestWorker_RetriesEscalation(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T, failures int) (*workerFixture, *brokenDeadLetters, *queue.Worker) {
		t.Helper()
		f := newWorkerFixture(t)
		repo := &brokenDeadLetters{MemoryStorage: f.store, failures: failures}
		dlq, err := queue.NewDeadLetterQueue(repo, queue.WithDeadLetterLogger(discardLogger()))
		require.NoError(t, err)
		f.dlq = dlq
		return f, repo, f.worker(t, echoRegistry(), queue.WithEscalationAttempts(3))
	}

	t.Run("transient store error", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		f, repo, w := setup(t, 1)
		id := f.spawn(t, "fail", `{}`, queue.WithMaxRetries(0))

		processed, err := w.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, processed)

		task, err := f.client.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.TaskStatusFailed, task.Status)

		entries, err := f.dlq.GetPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, id, entries[0].OriginalTaskID)
		assert.Equal(t, 2, repo.calls)
		assert.True(t, f.publisher.last().DeadLettered)
	})

	t.Run("gives up after the configured attempts", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		f, repo, w := setup(t, 10)
		f.spawn(t, "fail", `{}`, queue.WithMaxRetries(0))

		_, err := w.ProcessOne(ctx)
		require.NoError(t, err)

		stats, err := f.dlq.GetStats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats[queue.DeadLetterPending])
		assert.Equal(t, 3, repo.calls)
		assert.Equal(t, []string{"claimed", "failed"}, f.publisher.statuses())
		assert.False(t, f.publisher.last().DeadLettered)
	})
}

func TestWorker_ExhaustedWithoutDeadLetterQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newWorkerFixture(t)
	w := f.worker(t, echoRegistry(), queue.WithDeadLetterQueue(nil))
	f.spawn(t, "fail", `{}`, queue.WithMaxRetries(0))

	_, err := w.ProcessOne(ctx)
	require.NoError(t, err)

	stats, err := f.dlq.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[queue.DeadLetterPending])
	assert.False(t, f.publisher.last().DeadLettered)
}

func TestWorker_ClaimLostDropsOutcome(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newWorkerFixture(t, queue.WithTaskTimeout(time.Minute))

	var stolen bool
	executor := queue.ExecutorFunc(func(execCtx context.Context, _ string, _ json.RawMessage) (queue.Result, error) {
		// another worker takes over after the claim goes stale
		future := time.Now().Add(2 * time.Minute)
		task, err := f.store.ClaimTask(ctx, "jobs", "thief", future, future.Add(-time.Minute))
		stolen = err == nil && task != nil

		select {
		case <-execCtx.Done():
		case <-time.After(2 * time.Second):
		}
		return queue.OK(json.RawMessage(`{"by":"worker-1"}`)), nil
	})

	w := f.worker(t, executor)
	id := f.spawn(t, "long", `{}`)

	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	require.True(t, stolen)

	task, err := f.client.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusClaimed, task.Status)
	assert.Equal(t, "thief", task.ClaimedBy)
	assert.Empty(t, task.Result)

	assert.Equal(t, []string{"claimed"}, f.publisher.statuses())
}

func TestWorker_HeartbeatsWhileExecuting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newWorkerFixture(t, queue.WithTaskTimeout(time.Minute))

	var beats []time.Time
	executor := queue.ExecutorFunc(func(context.Context, string, json.RawMessage) (queue.Result, error) {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			tasks, err := f.store.ListTasks(ctx, queue.TaskFilter{Queue: "jobs"})
			if err == nil && len(tasks) == 1 && tasks[0].LastHeartbeatAt != nil {
				hb := *tasks[0].LastHeartbeatAt
				if len(beats) == 0 || !hb.Equal(beats[len(beats)-1]) {
					beats = append(beats, hb)
				}
			}
			if len(beats) >= 3 {
				break
			}
			time.Sleep(2 * time.Millisecond)
		}
		return queue.OK(nil), nil
	})

	w := f.worker(t, executor)
	id := f.spawn(t, "long", `{}`)

	_, err := w.ProcessOne(ctx)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(beats), 3, "claim stamp plus at least two heartbeats")

	task, err := f.client.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusCompleted, task.Status)
}

func TestWorker_StartStop(t *testing.T) {
	t.Parallel()

	t.Run("lifecycle errors", func(t *testing.T) {
		t.Parallel()

		f := newWorkerFixture(t)
		w := f.worker(t, echoRegistry())

		assert.ErrorIs(t, w.Stop(), queue.ErrWorkerNotStarted)
		require.NoError(t, w.Start(context.Background()))
		assert.ErrorIs(t, w.Start(context.Background()), queue.ErrWorkerAlreadyStarted)
		require.NoError(t, w.Stop())
		assert.Equal(t, queue.WorkerStopped, w.State())
	})

	t.Run("processes tasks in the background", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		f := newWorkerFixture(t)
		w := f.worker(t, echoRegistry())

		var ids []uuid.UUID
		for range 5 {
			ids = append(ids, f.spawn(t, "echo", `{}`))
		}

		require.NoError(t, w.Start(ctx))
		assert.Eventually(t, func() bool {
			counts, err := f.client.QueueStats(ctx, "jobs")
			return err == nil && counts[queue.TaskStatusCompleted] == len(ids)
		}, 2*time.Second, 5*time.Millisecond)
		require.NoError(t, w.Stop())
	})

	t.Run("stop drains the in-flight task", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		f := newWorkerFixture(t)

		started := make(chan struct{})
		release := make(chan struct{})
		w := f.worker(t, queue.ExecutorFunc(func(execCtx context.Context, _ string, _ json.RawMessage) (queue.Result, error) {
			close(started)
			<-release
			return queue.OK(json.RawMessage(`{"ok":true}`)), execCtx.Err()
		}))
		id := f.spawn(t, "slow", `{}`)

		require.NoError(t, w.Start(ctx))
		<-started
		assert.Equal(t, queue.WorkerExecuting, w.State())

		stopped := make(chan error, 1)
		go func() { stopped <- w.Stop() }()

		select {
		case <-stopped:
			t.Fatal("stop returned before the task finished")
		case <-time.After(50 * time.Millisecond):
		}

		close(release)
		select {
		case err := <-stopped:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("stop did not return")
		}

		task, err := f.client.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.TaskStatusCompleted, task.Status)
	})

	t.Run("run returns when context is cancelled", func(t *testing.T) {
		t.Parallel()

		f := newWorkerFixture(t)
		w := f.worker(t, echoRegistry())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx)() }()

		assert.Eventually(t, func() bool { return w.State() == queue.WorkerPolling }, time.Second, time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("run did not return")
		}
	})
}

func TestWorker_ConcurrentWorkersShareQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newWorkerFixture(t)

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	executor := queue.ExecutorFunc(func(_ context.Context, _ string, params json.RawMessage) (queue.Result, error) {
		mu.Lock()
		seen[string(params)]++
		mu.Unlock()
		return queue.OK(nil), nil
	})

	const total = 30
	for i := range total {
		f.spawn(t, "count", fmt.Sprintf(`{"i":%d}`, i))
	}

	var workers []*queue.Worker
	for _, id := range []string{"w1", "w2", "w3"} {
		w := f.worker(t, executor, queue.WithWorkerID(id))
		require.NoError(t, w.Start(ctx))
		workers = append(workers, w)
	}

	assert.Eventually(t, func() bool {
		counts, err := f.client.QueueStats(ctx, "jobs")
		return err == nil && counts[queue.TaskStatusCompleted] == total
	}, 3*time.Second, 5*time.Millisecond)

	for _, w := range workers {
		require.NoError(t, w.Stop())
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, total)
	for params, n := range seen {
		assert.Equal(t, 1, n, "task %s executed more than once", params)
	}
}
