package monitor_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/monitor"
	"github.com/dsa110/taskq/pkg/queue"
)

func TestTaskMetrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	for i := range 4 {
		f.runTask(t, "w-1", time.Duration(i+1)*time.Second, 10*time.Second)
	}

	// One failure, recorded now.
	_, err := f.client.Spawn(ctx, "default", "noop", nil, queue.WithMaxRetries(0))
	require.NoError(t, err)
	task, err := f.client.Claim(ctx, "default", "w-1")
	require.NoError(t, err)
	_, err = f.client.Fail(ctx, task.ID, "w-1", "execution timeout after 300s")
	require.NoError(t, err)

	f.spawn(t, 2)

	tm, err := f.monitor(t).TaskMetrics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, tm.Pending)
	assert.Equal(t, 0, tm.Claimed)
	assert.Equal(t, 4, tm.Counts[queue.TaskStatusCompleted])
	assert.Equal(t, 1, tm.Counts[queue.TaskStatusFailed])
	assert.Equal(t, 1, tm.TimedOut)
	assert.Equal(t, 4, tm.Samples)

	fifteen, ok := tm.Window("15m")
	require.True(t, ok)
	assert.Equal(t, 4, fifteen.Completed)
	assert.Equal(t, 1, fifteen.Failed)
	assert.InDelta(t, 0.8, fifteen.SuccessRate, 1e-9)
	assert.InDelta(t, 4.0/900, fifteen.Throughput, 1e-9)
	assert.InDelta(t, 1.0/900, fifteen.ErrorRate, 1e-9)

	// Waits are 1..4s: index int(4*50/100)=2 → 3s; p95 and p99 clamp to the last.
	assert.Equal(t, 3.0, tm.WaitTime.P50)
	assert.Equal(t, 4.0, tm.WaitTime.P95)
	assert.Equal(t, 4.0, tm.WaitTime.P99)
	assert.Equal(t, 2.5, tm.WaitTime.Avg)
	assert.Equal(t, 10.0, tm.ExecutionTime.P50)
}

func TestTaskMetrics_EmptyWindowsAreFullSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tm, err := f.monitor(t).TaskMetrics(context.Background())
	require.NoError(t, err)

	require.Len(t, tm.Windows, 3)
	for _, w := range tm.Windows {
		assert.Equal(t, 1.0, w.SuccessRate, w.Window)
		assert.Zero(t, w.Throughput)
	}
	assert.Zero(t, tm.WaitTime.P99)
	assert.Len(t, tm.Counts, len(queue.TaskStatuses))
}

func TestWorkerMetrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("derived from task rows", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)

		// w-stale claims at t0 and never heartbeats.
		f.spawn(t, 1)
		_, err := f.client.Claim(ctx, "default", "w-stale")
		require.NoError(t, err)

		// w-idle finished a task at t0+1m.
		f.clock.Set(t0.Add(time.Minute))
		f.runTask(t, "w-idle", 0, 0)

		// w-busy claims at t0+9m; the priority keeps it off w-stale's reclaimable task.
		f.clock.Set(t0.Add(9 * time.Minute))
		_, err = f.client.Spawn(ctx, "default", "noop", nil, queue.WithPriority(10))
		require.NoError(t, err)
		claimed, err := f.client.Claim(ctx, "default", "w-busy")
		require.NoError(t, err)
		require.Equal(t, 10, claimed.Priority)

		f.clock.Set(t0.Add(9*time.Minute + 30*time.Second))
		wm, err := f.monitor(t).WorkerMetrics(ctx)
		require.NoError(t, err)

		states := make(map[string]monitor.WorkerState)
		for _, w := range wm.Workers {
			states[w.WorkerID] = w.State
		}
		assert.Equal(t, map[string]monitor.WorkerState{
			"w-stale": monitor.WorkerCrashed,
			"w-idle":  monitor.WorkerCrashed,
			"w-busy":  monitor.WorkerActive,
		}, states)
		assert.Equal(t, 3, wm.Total)
		assert.Equal(t, 1, wm.Active)
		assert.Equal(t, 2, wm.Crashed)
	})

	t.Run("registry heartbeats", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		reg := monitor.NewRegistry()
		now := t0.Add(time.Hour)
		f.clock.Set(now)

		require.NoError(t, reg.Record(monitor.Heartbeat{WorkerID: "idle", Queue: "default", State: "polling", StartedAt: now.Add(-time.Hour), ReportedAt: now.Add(-5 * time.Second)}))
		require.NoError(t, reg.Record(monitor.Heartbeat{WorkerID: "busy", Queue: "default", State: "executing", StartedAt: now.Add(-time.Minute), ReportedAt: now, TasksProcessed: 4}))
		require.NoError(t, reg.Record(monitor.Heartbeat{WorkerID: "gone", Queue: "default", State: "polling", ReportedAt: now.Add(-10 * time.Minute)}))
		require.NoError(t, reg.Record(monitor.Heartbeat{WorkerID: "ancient", Queue: "default", State: "polling", ReportedAt: now.Add(-2 * time.Hour)}))
		require.NoError(t, reg.Record(monitor.Heartbeat{WorkerID: "done", Queue: "default", State: "stopped", ReportedAt: now}))
		require.NoError(t, reg.Record(monitor.Heartbeat{WorkerID: "elsewhere", Queue: "other", State: "polling", ReportedAt: now}))
		assert.ErrorIs(t, reg.Record(monitor.Heartbeat{}), monitor.ErrEmptyWorkerID)

		wm, err := f.monitor(t, monitor.WithRegistry(reg), monitor.WithQueue("default")).WorkerMetrics(ctx)
		require.NoError(t, err)

		require.Len(t, wm.Workers, 3)
		assert.Equal(t, "busy", wm.Workers[0].WorkerID)
		assert.Equal(t, monitor.WorkerActive, wm.Workers[0].State)
		assert.Equal(t, int64(4), wm.Workers[0].TasksProcessed)
		assert.Equal(t, "gone", wm.Workers[1].WorkerID)
		assert.Equal(t, monitor.WorkerCrashed, wm.Workers[1].State)
		assert.Equal(t, "idle", wm.Workers[2].WorkerID)
		assert.Equal(t, monitor.WorkerIdle, wm.Workers[2].State)
		assert.InDelta(t, 4.0/3, wm.AvgTasksPerWorker, 1e-9)
	})
}

func TestReport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("full report", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.runTask(t, "w-1", time.Second, time.Second)

		r, err := f.monitor(t).Report(ctx)
		require.NoError(t, err)
		require.NotNil(t, r.TaskMetrics)
		require.NotNil(t, r.WorkerMetrics)
		assert.Equal(t, monitor.StatusHealthy, r.Health.Status)
		assert.Equal(t, f.clock.Now(), r.GeneratedAt)
	})

	t.Run("store down keeps the health section", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		require.NoError(t, f.store.Close())

		r, err := f.monitor(t).Report(ctx)
		require.NoError(t, err)
		assert.Equal(t, monitor.StatusDown, r.Health.Status)
		assert.Nil(t, r.TaskMetrics)
	})
}

func TestWritePrometheus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runTask(t, "w-1", time.Second, 2*time.Second)

	r, err := f.monitor(t).Report(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, monitor.WritePrometheus(&buf, r))
	out := buf.String()

	assert.Contains(t, out, "# TYPE taskq_tasks_completed gauge\ntaskq_tasks_completed 1\n")
	assert.Contains(t, out, "# TYPE taskq_health_status gauge\ntaskq_health_status 0\n")
	assert.Contains(t, out, "# TYPE taskq_tasks_timed_out_total counter\n")
	assert.Contains(t, out, "# TYPE taskq_task_wait_time_seconds_p50 summary\ntaskq_task_wait_time_seconds_p50 1\n")
	assert.Contains(t, out, "taskq_throughput_15min_tasks_per_second ")
	assert.Contains(t, out, "taskq_workers_active 1\n")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, 0, len(lines)%2, "every sample has a TYPE line")
}

func TestRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m := f.monitor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reports := make(chan *monitor.Report, 4)
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, 10*time.Millisecond, func(_ context.Context, r *monitor.Report) {
			select {
			case reports <- r:
			default:
			}
		})
	}()

	select {
	case r := <-reports:
		assert.Equal(t, monitor.StatusDegraded, r.Health.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no report produced")
	}

	cancel()
	require.NoError(t, <-done)
	assert.ErrorIs(t, m.Run(context.Background(), 0, nil), monitor.ErrInvalidInterval)
}
