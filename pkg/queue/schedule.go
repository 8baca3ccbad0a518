package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule determines when a periodic task should run.
// String returns an expression ParseSchedule accepts.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}

type hourlySchedule struct {
	minute int
}

func (s hourlySchedule) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.Add(time.Hour)
	}
	return next
}

func (s hourlySchedule) String() string {
	return fmt.Sprintf("hourly at :%02d", s.minute)
}

type dailySchedule struct {
	hour   int
	minute int
}

func (s dailySchedule) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}

type weeklySchedule struct {
	weekday time.Weekday
	hour    int
	minute  int
}

func (s weeklySchedule) Next(from time.Time) time.Time {
	daysUntil := (int(s.weekday) - int(from.Weekday()) + 7) % 7
	next := from.AddDate(0, 0, daysUntil)
	next = time.Date(next.Year(), next.Month(), next.Day(), s.hour, s.minute, 0, 0, next.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

func (s weeklySchedule) String() string {
	return fmt.Sprintf("weekly on %s at %02d:%02d", s.weekday, s.hour, s.minute)
}

type monthlySchedule struct {
	day    int
	hour   int
	minute int
}

func (s monthlySchedule) Next(from time.Time) time.Time {
	year, month := from.Year(), from.Month()

	// the 31st of a short month falls back to its last day
	day := min(s.day, daysInMonth(year, month))
	next := time.Date(year, month, day, s.hour, s.minute, 0, 0, from.Location())
	if next.After(from) {
		return next
	}

	if month == time.December {
		year++
		month = time.January
	} else {
		month++
	}
	day = min(s.day, daysInMonth(year, month))
	return time.Date(year, month, day, s.hour, s.minute, 0, 0, from.Location())
}

func (s monthlySchedule) String() string {
	return fmt.Sprintf("monthly on day %d at %02d:%02d", s.day, s.hour, s.minute)
}

// cronSchedule wraps a standard five-field cron expression or @descriptor.
type cronSchedule struct {
	expr     string
	schedule cron.Schedule
}

func (s cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

func (s cronSchedule) String() string {
	return s.expr
}

// Cron parses a five-field cron expression (minute hour day-of-month month
// day-of-week) or a descriptor such as @daily or @every 90s.
func Cron(expr string) (Schedule, error) {
	expr = strings.Join(strings.Fields(expr), " ")
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}
	return cronSchedule{expr: expr, schedule: s}, nil
}

// EveryInterval creates a schedule that runs at fixed intervals
func EveryInterval(d time.Duration) Schedule {
	return intervalSchedule{every: d}
}

// HourlyAt creates a schedule that runs every hour at the given minute
func HourlyAt(minute int) Schedule {
	return hourlySchedule{minute: minute}
}

// DailyAt creates a schedule that runs daily at the given time
func DailyAt(hour, minute int) Schedule {
	return dailySchedule{hour: hour, minute: minute}
}

// WeeklyOn creates a schedule that runs weekly on the given day and time
func WeeklyOn(weekday time.Weekday, hour, minute int) Schedule {
	return weeklySchedule{weekday: weekday, hour: hour, minute: minute}
}

// MonthlyOn creates a schedule that runs monthly on the given day and time
func MonthlyOn(day, hour, minute int) Schedule {
	return monthlySchedule{day: day, hour: hour, minute: minute}
}

// ParseSchedule parses the expressions produced by Schedule.String:
//
//	every 5m
//	hourly at :15
//	daily at 02:30
//	weekly on Monday at 08:00
//	monthly on day 1 at 00:00
//	*/15 2-6 * * 1-5
//	@hourly
func ParseSchedule(expr string) (Schedule, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}

	switch strings.ToLower(fields[0]) {
	case "every":
		if len(fields) != 2 {
			break
		}
		d, err := time.ParseDuration(fields[1])
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: bad interval %q", ErrInvalidSchedule, fields[1])
		}
		return EveryInterval(d), nil

	case "hourly":
		if len(fields) != 3 || fields[1] != "at" || !strings.HasPrefix(fields[2], ":") {
			break
		}
		var minute int
		if _, err := fmt.Sscanf(fields[2], ":%d", &minute); err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("%w: bad minute %q", ErrInvalidSchedule, fields[2])
		}
		return HourlyAt(minute), nil

	case "daily":
		if len(fields) != 3 || fields[1] != "at" {
			break
		}
		hour, minute, err := parseClock(fields[2])
		if err != nil {
			return nil, err
		}
		return DailyAt(hour, minute), nil

	case "weekly":
		if len(fields) != 5 || fields[1] != "on" || fields[3] != "at" {
			break
		}
		weekday, err := parseWeekday(fields[2])
		if err != nil {
			return nil, err
		}
		hour, minute, err := parseClock(fields[4])
		if err != nil {
			return nil, err
		}
		return WeeklyOn(weekday, hour, minute), nil

	case "monthly":
		if len(fields) != 6 || fields[1] != "on" || fields[2] != "day" || fields[4] != "at" {
			break
		}
		var day int
		if _, err := fmt.Sscanf(fields[3], "%d", &day); err != nil || day < 1 || day > 31 {
			return nil, fmt.Errorf("%w: bad day %q", ErrInvalidSchedule, fields[3])
		}
		hour, minute, err := parseClock(fields[5])
		if err != nil {
			return nil, err
		}
		return MonthlyOn(day, hour, minute), nil

	default:
		if len(fields) == 5 || strings.HasPrefix(fields[0], "@") {
			return Cron(expr)
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, expr)
}

func parseClock(s string) (int, int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil ||
		hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: bad time %q", ErrInvalidSchedule, s)
	}
	return hour, minute, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) || strings.EqualFold(d.String()[:3], s) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: bad weekday %q", ErrInvalidSchedule, s)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
