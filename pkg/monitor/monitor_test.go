package monitor_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/monitor"
	"github.com/dsa110/taskq/pkg/queue"
)

var t0 = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: t0} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	store  *queue.MemoryStorage
	client *queue.Client
	clock  *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := queue.NewMemoryStorage()
	c := newClock()
	client, err := queue.NewClient(store, queue.WithClock(c.Now), queue.WithBackoff(queue.NoBackoff()))
	require.NoError(t, err)
	return &fixture{store: store, client: client, clock: c}
}

func (f *fixture) monitor(t *testing.T, opts ...monitor.Option) *monitor.Monitor {
	t.Helper()

	opts = append([]monitor.Option{monitor.WithClock(f.clock.Now), monitor.WithCacheTTL(0)}, opts...)
	m, err := monitor.NewMonitor(f.store, opts...)
	require.NoError(t, err)
	return m
}

func (f *fixture) spawn(t *testing.T, n int) {
	t.Helper()
	for range n {
		_, err := f.client.Spawn(context.Background(), "default", "noop", nil)
		require.NoError(t, err)
	}
}

// runTask claims, then completes one task: claimed after wait, completed after exec.
func (f *fixture) runTask(t *testing.T, worker string, wait, exec time.Duration) {
	t.Helper()
	ctx := context.Background()
	start := f.clock.Now()

	_, err := f.client.Spawn(ctx, "default", "noop", nil)
	require.NoError(t, err)
	f.clock.Set(start.Add(wait))
	task, err := f.client.Claim(ctx, "default", worker)
	require.NoError(t, err)
	f.clock.Set(start.Add(wait + exec))
	require.NoError(t, f.client.Complete(ctx, task.ID, worker, nil))
}

func TestCheckHealth(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty queue without workers is degraded", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		h := f.monitor(t).CheckHealth(ctx)

		assert.Equal(t, monitor.StatusDegraded, h.Status)
		assert.True(t, h.DatabaseAvailable)
		assert.True(t, h.WorkerPoolHealthy)
		assert.Equal(t, []string{"No workers registered"}, h.Warnings)
		assert.Empty(t, h.Alerts)
		assert.Equal(t, float64(-1), h.LastTaskCompletedSecAgo)
	})

	t.Run("healthy with an active worker", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.runTask(t, "w-1", time.Second, 2*time.Second)

		h := f.monitor(t).CheckHealth(ctx)
		assert.Equal(t, monitor.StatusHealthy, h.Status, h.Message)
		assert.Equal(t, "All systems operational", h.Message)
		assert.Equal(t, "1 active workers", h.WorkerPoolMessage)
		assert.Equal(t, float64(0), h.LastTaskCompletedSecAgo)
	})

	t.Run("store down", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		require.NoError(t, f.store.Close())

		h := f.monitor(t).CheckHealth(ctx)
		assert.Equal(t, monitor.StatusDown, h.Status)
		assert.False(t, h.DatabaseAvailable)
		assert.Equal(t, float64(-1), h.DatabaseLatencyMS)
		require.Len(t, h.Alerts, 1)
		assert.True(t, strings.HasPrefix(h.Alerts[0], "Database unavailable"))
	})

	t.Run("queue depth thresholds", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		m := f.monitor(t, monitor.WithThresholds(monitor.Thresholds{DepthWarning: 2, DepthAlert: 4}))

		f.spawn(t, 3)
		h := m.CheckHealth(ctx)
		assert.Equal(t, monitor.StatusCritical, h.Status)
		assert.Contains(t, h.Warnings, "Queue depth high: 3 tasks")
		assert.Contains(t, h.Alerts, "No workers available")
		assert.False(t, h.WorkerPoolHealthy)

		f.spawn(t, 2)
		h = m.CheckHealth(ctx)
		assert.Contains(t, h.Alerts, "Queue depth critical: 5 tasks")
		assert.Equal(t, 5, h.QueueDepth)
	})

	t.Run("oldest pending age", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.spawn(t, 1)
		m := f.monitor(t)

		f.clock.Set(t0.Add(20 * time.Minute))
		h := m.CheckHealth(ctx)
		assert.Contains(t, h.Warnings, "Task pending for 20.0 minutes")
		assert.InDelta(t, 1200, h.AgeOldestPendingSec, 0.001)

		f.clock.Set(t0.Add(90 * time.Minute))
		h = m.CheckHealth(ctx)
		assert.Contains(t, h.Alerts, "Task pending for 1.5 hours")
	})

	t.Run("no recent completion with work queued", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.runTask(t, "w-1", 0, time.Second)
		f.spawn(t, 1)

		f.clock.Set(f.clock.Now().Add(6 * time.Minute))
		h := f.monitor(t).CheckHealth(ctx)
		assert.Contains(t, h.Alerts, "No tasks completed in 6.0 minutes")
		assert.Equal(t, monitor.StatusCritical, h.Status)
	})

	t.Run("dead-letter markers are not queue depth", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		dlq, err := queue.NewDeadLetterQueue(f.store, queue.WithDeadLetterClock(f.clock.Now))
		require.NoError(t, err)

		id, err := f.client.Spawn(ctx, "default", "noop", nil, queue.WithMaxRetries(0))
		require.NoError(t, err)
		task, err := f.client.Claim(ctx, "default", "w-1")
		require.NoError(t, err)
		require.Equal(t, id, task.ID)
		outcome, err := f.client.Fail(ctx, id, "w-1", "boom")
		require.NoError(t, err)
		require.True(t, outcome.Exhausted)

		entry, created, err := dlq.Escalate(ctx, outcome.Task, "w-1")
		require.NoError(t, err)
		require.True(t, created)

		m := f.monitor(t)
		f.clock.Set(t0.Add(2 * time.Hour))
		h := m.CheckHealth(ctx)
		assert.Zero(t, h.QueueDepth)
		assert.Zero(t, h.AgeOldestPendingSec)
		assert.Empty(t, h.Alerts)

		_, err = dlq.Resolve(ctx, entry.ID, "handled")
		require.NoError(t, err)

		marker, err := f.store.GetTask(ctx, entry.MarkerTaskID)
		require.NoError(t, err)
		assert.Equal(t, queue.TaskStatusCancelled, marker.Status)
		assert.Equal(t, queue.DeadLetterSettled, marker.Error)

		f.clock.Set(t0.Add(4 * time.Hour))
		h = m.CheckHealth(ctx)
		assert.NotEqual(t, monitor.StatusCritical, h.Status, h.Message)
		assert.Zero(t, h.QueueDepth)
		assert.Empty(t, h.Alerts)
	})

	t.Run("results are cached", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		m, err := monitor.NewMonitor(f.store, monitor.WithClock(f.clock.Now))
		require.NoError(t, err)

		first := m.CheckHealth(ctx)
		require.NoError(t, f.store.Close())

		f.clock.Set(t0.Add(5 * time.Second))
		assert.Equal(t, first.Status, m.CheckHealth(ctx).Status)

		f.clock.Set(t0.Add(monitor.DefaultCacheTTL + time.Second))
		assert.Equal(t, monitor.StatusDown, m.CheckHealth(ctx).Status)
	})
}

func TestNewMonitor_NilStats(t *testing.T) {
	t.Parallel()

	_, err := monitor.NewMonitor(nil)
	assert.ErrorIs(t, err, monitor.ErrNilStats)
}
