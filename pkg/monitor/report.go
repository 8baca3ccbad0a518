package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/dsa110/taskq/pkg/logger"
)

// Report gathers health, task and worker metrics. When the store is down the
// report carries only the health section and no error, so callers can still
// publish it.
func (m *Monitor) Report(ctx context.Context) (*Report, error) {
	h := m.CheckHealth(ctx)
	r := &Report{Health: h, GeneratedAt: m.now().UTC()}
	if h.Status == StatusDown {
		return r, nil
	}

	tm, err := m.TaskMetrics(ctx)
	if err != nil {
		return nil, err
	}
	wm, err := m.WorkerMetrics(ctx)
	if err != nil {
		return nil, err
	}
	r.TaskMetrics = tm
	r.WorkerMetrics = wm
	return r, nil
}

// Run produces a report immediately and then every interval until ctx is
// cancelled. Alerts are logged at error level, warnings at warn level.
// onReport may be nil.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, onReport func(context.Context, *Report)) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.tick(ctx, onReport)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) tick(ctx context.Context, onReport func(context.Context, *Report)) {
	r, err := m.Report(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.ErrorContext(ctx, "monitor report failed", logger.Error(err))
		}
		return
	}

	h := r.Health
	log := m.logger.With(slog.String("status", string(h.Status)), slog.Int("queue_depth", h.QueueDepth))
	for _, a := range h.Alerts {
		log.ErrorContext(ctx, "queue alert", slog.String("alert", a))
	}
	for _, w := range h.Warnings {
		log.WarnContext(ctx, "queue warning", slog.String("warning", w))
	}
	if len(h.Alerts) == 0 && len(h.Warnings) == 0 {
		log.DebugContext(ctx, "queue healthy")
	}

	if onReport != nil {
		onReport(ctx, r)
	}
}
