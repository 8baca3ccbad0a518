package queue_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/queue"
	"github.com/dsa110/taskq/pkg/queue/queuetest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T, store *queue.MemoryStorage, clock *queuetest.Clock) *queue.Scheduler {
	t.Helper()
	s, err := queue.NewScheduler(store,
		queue.WithSchedulerClock(clock.Now),
		queue.WithCheckInterval(10*time.Millisecond),
		queue.WithSchedulerLogger(discardLogger()))
	require.NoError(t, err)
	return s
}

func TestScheduler_NewScheduler(t *testing.T) {
	t.Parallel()

	s, err := queue.NewScheduler(nil)
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)
	assert.Nil(t, s)
}

func TestScheduler_Add(t *testing.T) {
	t.Parallel()

	t.Run("computes first run and normalizes", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		clock := queuetest.NewClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
		store := queue.NewMemoryStorage()
		s := newTestScheduler(t, store, clock)

		def, err := s.Add(ctx, queue.ScheduleDefinition{
			Name:     "nightly",
			Spec:     "daily at 2:30",
			TaskName: "imaging",
			Enabled:  true,
		})
		require.NoError(t, err)
		assert.Equal(t, "daily at 02:30", def.Spec)
		assert.Equal(t, queue.DefaultQueueName, def.Queue)
		assert.JSONEq(t, `{}`, string(def.Params))
		assert.Equal(t, time.Date(2024, 1, 2, 2, 30, 0, 0, time.UTC), def.NextRunAt)

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
	})

	t.Run("rejects bad definitions", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newTestScheduler(t, queue.NewMemoryStorage(), queuetest.NewClock(time.Now()))

		_, err := s.Add(ctx, queue.ScheduleDefinition{Spec: "every 1m", TaskName: "x"})
		assert.ErrorIs(t, err, queue.ErrInvalidSchedule)

		_, err = s.Add(ctx, queue.ScheduleDefinition{Name: "a", Spec: "every 1m"})
		assert.ErrorIs(t, err, queue.ErrEmptyTaskName)

		_, err = s.Add(ctx, queue.ScheduleDefinition{Name: "a", Spec: "every 1m", TaskName: queue.DeadLetterTaskName})
		assert.ErrorIs(t, err, queue.ErrReservedTaskName)

		_, err = s.Add(ctx, queue.ScheduleDefinition{Name: "a", Spec: "whenever", TaskName: "x"})
		assert.ErrorIs(t, err, queue.ErrInvalidSchedule)

		_, err = s.Add(ctx, queue.ScheduleDefinition{Name: "a", Spec: "every 1m", TaskName: "x", Params: json.RawMessage(`{`)})
		assert.ErrorIs(t, err, queue.ErrInvalidParams)
	})
}

func TestScheduler_Tick(t *testing.T) {
	t.Parallel()

	t.Run("fires due schedules once per slot", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		clock := queuetest.NewClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
		store := queue.NewMemoryStorage()
		s := newTestScheduler(t, store, clock)

		_, err := s.Add(ctx, queue.ScheduleDefinition{
			Name:       "sweep",
			Spec:       "every 1m",
			TaskName:   "sweep",
			Queue:      "maintenance",
			Params:     json.RawMessage(`{"deep":true}`),
			Priority:   2,
			MaxRetries: 4,
			Enabled:    true,
		})
		require.NoError(t, err)

		n, err := s.Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "not due yet")

		clock.Advance(time.Minute)
		n, err = s.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "same slot does not fire twice")

		tasks, err := store.ListTasks(ctx, queue.TaskFilter{Queue: "maintenance"})
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "sweep", tasks[0].Name)
		assert.Equal(t, 2, tasks[0].Priority)
		assert.Equal(t, 4, tasks[0].MaxRetries)
		assert.JSONEq(t, `{"deep":true}`, string(tasks[0].Params))

		def, err := store.GetSchedule(ctx, "sweep")
		require.NoError(t, err)
		assert.Equal(t, clock.Now().Add(time.Minute), def.NextRunAt)
		require.NotNil(t, def.LastRunAt)
	})

	t.Run("missed slots collapse into one run", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		clock := queuetest.NewClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
		store := queue.NewMemoryStorage()
		s := newTestScheduler(t, store, clock)

		_, err := s.Add(ctx, queue.ScheduleDefinition{Name: "s", Spec: "every 1m", TaskName: "t", Enabled: true})
		require.NoError(t, err)

		clock.Advance(10 * time.Minute)
		n, err := s.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("disabled schedules never fire", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		clock := queuetest.NewClock(time.Now())
		store := queue.NewMemoryStorage()
		s := newTestScheduler(t, store, clock)

		_, err := s.Add(ctx, queue.ScheduleDefinition{Name: "off", Spec: "every 1s", TaskName: "t"})
		require.NoError(t, err)

		clock.Advance(time.Hour)
		n, err := s.Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("competing schedulers spawn one task", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		clock := queuetest.NewClock(time.Now())
		store := queue.NewMemoryStorage()

		first := newTestScheduler(t, store, clock)
		_, err := first.Add(ctx, queue.ScheduleDefinition{Name: "s", Spec: "every 1m", TaskName: "t", Enabled: true})
		require.NoError(t, err)
		clock.Advance(time.Minute)

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			fired int
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := newTestScheduler(t, store, clock).Tick(ctx)
				assert.NoError(t, err)
				mu.Lock()
				fired += n
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, fired)
		counts, err := store.CountTasks(ctx, queue.DefaultQueueName)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[queue.TaskStatusPending])
	})
}

func TestScheduler_Cron(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	// Wednesday
	clock := queuetest.NewClock(time.Date(2024, 1, 3, 14, 5, 0, 0, time.UTC))
	store := queue.NewMemoryStorage()
	s := newTestScheduler(t, store, clock)

	def, err := s.Add(ctx, queue.ScheduleDefinition{Name: "calib", Spec: "0 */2 * * 1-5", TaskName: "calibrate", Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 3, 16, 0, 0, 0, time.UTC), def.NextRunAt)

	clock.Advance(2 * time.Hour)
	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := store.GetSchedule(ctx, "calib")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 3, 18, 0, 0, 0, time.UTC), stored.NextRunAt)
}

func TestScheduler_Trigger(t *testing.T) {
	t.Parallel()

	t.Run("spawns now and keeps the cadence", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		clock := queuetest.NewClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
		store := queue.NewMemoryStorage()
		s := newTestScheduler(t, store, clock)

		added, err := s.Add(ctx, queue.ScheduleDefinition{
			Name:     "nightly",
			Spec:     "daily at 02:00",
			TaskName: "imaging",
			Queue:    "imaging",
			Params:   json.RawMessage(`{"field":"A"}`),
			Priority: 5,
		})
		require.NoError(t, err)

		task, err := s.Trigger(ctx, "nightly")
		require.NoError(t, err)
		assert.Equal(t, "imaging", task.Name)
		assert.Equal(t, "imaging", task.Queue)
		assert.Equal(t, 5, task.Priority)
		assert.JSONEq(t, `{"field":"A"}`, string(task.Params))

		stored, err := store.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.TaskStatusPending, stored.Status)

		def, err := store.GetSchedule(ctx, "nightly")
		require.NoError(t, err)
		assert.Equal(t, added.NextRunAt, def.NextRunAt)
		require.NotNil(t, def.LastRunAt)
		assert.Equal(t, clock.Now(), *def.LastRunAt)
		assert.False(t, def.Enabled, "disabled schedules can still be triggered")
	})

	t.Run("unknown schedule", func(t *testing.T) {
		t.Parallel()

		s := newTestScheduler(t, queue.NewMemoryStorage(), queuetest.NewClock(time.Now()))
		_, err := s.Trigger(context.Background(), "missing")
		assert.ErrorIs(t, err, queue.ErrScheduleNotFound)
	})
}

func TestScheduler_Update(t *testing.T) {
	t.Parallel()

	t.Run("new spec recomputes next run", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		clock := queuetest.NewClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
		store := queue.NewMemoryStorage()
		s := newTestScheduler(t, store, clock)

		_, err := s.Add(ctx, queue.ScheduleDefinition{Name: "s", Spec: "daily at 02:00", TaskName: "t", Enabled: true})
		require.NoError(t, err)

		spec := "30 * * * *"
		priority := 9
		def, err := s.Update(ctx, "s", queue.ScheduleUpdate{
			Spec:     &spec,
			Priority: &priority,
			Params:   json.RawMessage(`{"x":1}`),
		})
		require.NoError(t, err)
		assert.Equal(t, "30 * * * *", def.Spec)
		assert.Equal(t, 9, def.Priority)
		assert.Equal(t, time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC), def.NextRunAt)

		stored, err := store.GetSchedule(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, def.NextRunAt, stored.NextRunAt)
		assert.JSONEq(t, `{"x":1}`, string(stored.Params))
		assert.Equal(t, "t", stored.TaskName)
	})

	t.Run("re-enabling skips stale slots", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		clock := queuetest.NewClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
		store := queue.NewMemoryStorage()
		s := newTestScheduler(t, store, clock)

		_, err := s.Add(ctx, queue.ScheduleDefinition{Name: "s", Spec: "every 1m", TaskName: "t"})
		require.NoError(t, err)
		clock.Advance(time.Hour)

		enabled := true
		def, err := s.Update(ctx, "s", queue.ScheduleUpdate{Enabled: &enabled})
		require.NoError(t, err)
		assert.True(t, def.Enabled)
		assert.Equal(t, clock.Now().Add(time.Minute), def.NextRunAt)

		n, err := s.Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		store := queue.NewMemoryStorage()
		s := newTestScheduler(t, store, queuetest.NewClock(time.Now()))
		_, err := s.Add(ctx, queue.ScheduleDefinition{Name: "s", Spec: "every 1m", TaskName: "t"})
		require.NoError(t, err)

		bad := "61 * * * *"
		_, err = s.Update(ctx, "s", queue.ScheduleUpdate{Spec: &bad})
		assert.ErrorIs(t, err, queue.ErrInvalidSchedule)

		negative := -1
		_, err = s.Update(ctx, "s", queue.ScheduleUpdate{MaxRetries: &negative})
		assert.ErrorIs(t, err, queue.ErrInvalidMaxRetries)

		_, err = s.Update(ctx, "missing", queue.ScheduleUpdate{})
		assert.ErrorIs(t, err, queue.ErrScheduleNotFound)

		stored, err := store.GetSchedule(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, "every 1m0s", stored.Spec)
	})
}

func TestScheduler_Remove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := queue.NewMemoryStorage()
	s := newTestScheduler(t, store, queuetest.NewClock(time.Now()))

	_, err := s.Add(ctx, queue.ScheduleDefinition{Name: "s", Spec: "hourly at :05", TaskName: "t", Enabled: true})
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, "s"))
	assert.ErrorIs(t, s.Remove(ctx, "s"), queue.ErrScheduleNotFound)
}

func TestScheduler_Run(t *testing.T) {
	t.Parallel()

	store := queue.NewMemoryStorage()
	clock := queuetest.NewClock(time.Now())
	s := newTestScheduler(t, store, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Add(ctx, queue.ScheduleDefinition{Name: "s", Spec: "every 1m", TaskName: "t", Enabled: true})
	require.NoError(t, err)
	clock.Advance(time.Minute)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx)() }()

	assert.Eventually(t, func() bool {
		counts, err := store.CountTasks(context.Background(), queue.DefaultQueueName)
		return err == nil && counts[queue.TaskStatusPending] == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
