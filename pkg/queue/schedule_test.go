package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/queue"
)

func TestSchedule_Next(t *testing.T) {
	t.Parallel()

	// 2024-01-03 is a Wednesday
	wed := time.Date(2024, 1, 3, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		schedule queue.Schedule
		from     time.Time
		want     time.Time
	}{
		{"interval", queue.EveryInterval(90 * time.Second), wed, wed.Add(90 * time.Second)},
		{"hourly later this hour", queue.HourlyAt(30), wed, time.Date(2024, 1, 3, 14, 30, 0, 0, time.UTC)},
		{"hourly exact minute rolls over", queue.HourlyAt(0), wed, time.Date(2024, 1, 3, 15, 0, 0, 0, time.UTC)},
		{"daily later today", queue.DailyAt(18, 15), wed, time.Date(2024, 1, 3, 18, 15, 0, 0, time.UTC)},
		{"daily tomorrow", queue.DailyAt(2, 0), wed, time.Date(2024, 1, 4, 2, 0, 0, 0, time.UTC)},
		{"weekly same day later", queue.WeeklyOn(time.Wednesday, 20, 0), wed, time.Date(2024, 1, 3, 20, 0, 0, 0, time.UTC)},
		{"weekly same day passed", queue.WeeklyOn(time.Wednesday, 8, 0), wed, time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)},
		{"weekly next monday", queue.WeeklyOn(time.Monday, 0, 0), wed, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)},
		{"monthly this month", queue.MonthlyOn(20, 6, 0), wed, time.Date(2024, 1, 20, 6, 0, 0, 0, time.UTC)},
		{"monthly next month", queue.MonthlyOn(1, 0, 0), wed, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"monthly clamps to leap february", queue.MonthlyOn(31, 12, 0), time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC), time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)},
		{"monthly clamps to short february", queue.MonthlyOn(30, 0, 0), time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC), time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"monthly wraps year", queue.MonthlyOn(5, 10, 0), time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)},
		{"cron every quarter hour", mustCron(t, "*/15 * * * *"), wed, time.Date(2024, 1, 3, 14, 15, 0, 0, time.UTC)},
		{"cron every two hours on weekdays", mustCron(t, "0 */2 * * 1-5"), wed, time.Date(2024, 1, 3, 16, 0, 0, 0, time.UTC)},
		{"cron sunday night", mustCron(t, "30 2 * * 0"), wed, time.Date(2024, 1, 7, 2, 30, 0, 0, time.UTC)},
		{"cron descriptor", mustCron(t, "@daily"), wed, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.schedule.Next(tt.from))
		})
	}
}

func TestSchedule_KeepsLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("MST", -7*3600)
	next := queue.DailyAt(9, 0).Next(time.Date(2024, 6, 1, 10, 0, 0, 0, loc))

	assert.Equal(t, time.Date(2024, 6, 2, 9, 0, 0, 0, loc), next)
	assert.Equal(t, loc, next.Location())
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	t.Run("round trips String", func(t *testing.T) {
		t.Parallel()

		for _, s := range []queue.Schedule{
			queue.EveryInterval(5 * time.Minute),
			queue.HourlyAt(15),
			queue.DailyAt(2, 30),
			queue.WeeklyOn(time.Saturday, 23, 59),
			queue.MonthlyOn(31, 0, 0),
		} {
			parsed, err := queue.ParseSchedule(s.String())
			require.NoError(t, err, s.String())
			assert.Equal(t, s.String(), parsed.String())
		}
	})

	t.Run("accepts loose input", func(t *testing.T) {
		t.Parallel()

		s, err := queue.ParseSchedule("  Weekly on mon at 8:05 ")
		require.NoError(t, err)
		assert.Equal(t, "weekly on Monday at 08:05", s.String())

		s, err = queue.ParseSchedule("every 90s")
		require.NoError(t, err)
		assert.Equal(t, "every 1m30s", s.String())
	})

	t.Run("cron expressions", func(t *testing.T) {
		t.Parallel()

		s, err := queue.ParseSchedule("  0   */2 * *   1-5 ")
		require.NoError(t, err)
		assert.Equal(t, "0 */2 * * 1-5", s.String())

		again, err := queue.ParseSchedule(s.String())
		require.NoError(t, err)
		assert.Equal(t, s.String(), again.String())

		s, err = queue.ParseSchedule("@every 10m")
		require.NoError(t, err)
		from := time.Date(2024, 1, 3, 14, 0, 0, 0, time.UTC)
		assert.Equal(t, from.Add(10*time.Minute), s.Next(from))
	})

	t.Run("rejects invalid expressions", func(t *testing.T) {
		t.Parallel()

		for _, expr := range []string{
			"",
			"sometimes",
			"every",
			"every -5m",
			"every soon",
			"hourly at 15",
			"hourly at :75",
			"daily at 25:00",
			"daily 10:00",
			"weekly on Funday at 10:00",
			"monthly on day 32 at 10:00",
			"monthly on 3 at 10:00",
			"61 * * * *",
			"* * * *",
			"0 0 32 * *",
			"@fortnightly",
		} {
			_, err := queue.ParseSchedule(expr)
			assert.ErrorIs(t, err, queue.ErrInvalidSchedule, "expr %q", expr)
		}
	})
}

func mustCron(t *testing.T, expr string) queue.Schedule {
	t.Helper()
	s, err := queue.Cron(expr)
	require.NoError(t, err)
	return s
}
