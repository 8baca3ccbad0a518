package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dsa110/taskq/pkg/logger"
	"github.com/dsa110/taskq/pkg/queue"
)

// Monitor computes health, task and worker metrics from the store.
// It never writes. All methods are safe for concurrent use.
type Monitor struct {
	stats      queue.StatsRepository
	registry   *Registry
	queue      string
	thresholds Thresholds
	cacheTTL   time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu       sync.Mutex
	cached   *Health
	cachedAt time.Time
}

func NewMonitor(stats queue.StatsRepository, opts ...Option) (*Monitor, error) {
	if stats == nil {
		return nil, ErrNilStats
	}
	m := &Monitor{
		stats:      stats,
		thresholds: DefaultThresholds(),
		cacheTTL:   DefaultCacheTTL,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logger.Component("monitor"))
	return m, nil
}

// Queue returns the monitored queue; empty means all queues.
func (m *Monitor) Queue() string {
	return m.queue
}

// CheckHealth evaluates the health rules. Results are cached for the
// configured TTL. An unreachable store yields StatusDown, never an error.
func (m *Monitor) CheckHealth(ctx context.Context) Health {
	now := m.now()

	m.mu.Lock()
	if m.cached != nil && m.cacheTTL > 0 && now.Sub(m.cachedAt) < m.cacheTTL {
		h := *m.cached
		m.mu.Unlock()
		return h
	}
	m.mu.Unlock()

	h := m.checkHealth(ctx, now)

	m.mu.Lock()
	m.cached = &h
	m.cachedAt = now
	m.mu.Unlock()
	return h
}

func (m *Monitor) checkHealth(ctx context.Context, now time.Time) Health {
	t := m.thresholds
	h := Health{
		Queue:                   m.queue,
		LastTaskCompletedSecAgo: -1,
		Alerts:                  []string{},
		Warnings:                []string{},
		CheckedAt:               now.UTC(),
	}

	start := time.Now()
	err := m.stats.Ping(ctx)
	latency := time.Since(start)
	var depth int
	if err == nil {
		depth, err = m.stats.QueueDepth(ctx, m.queue)
	}
	if err != nil {
		h.Status = StatusDown
		h.Message = "Database connection failed"
		h.DatabaseLatencyMS = -1
		h.WorkerPoolMessage = "Cannot determine (database down)"
		h.Alerts = append(h.Alerts, "Database unavailable: "+err.Error())
		return h
	}
	h.DatabaseAvailable = true
	h.DatabaseLatencyMS = float64(latency.Microseconds()) / 1000

	h.QueueDepth = depth
	switch {
	case h.QueueDepth > t.DepthAlert:
		h.Alerts = append(h.Alerts, fmt.Sprintf("Queue depth critical: %d tasks", h.QueueDepth))
	case h.QueueDepth > t.DepthWarning:
		h.Warnings = append(h.Warnings, fmt.Sprintf("Queue depth high: %d tasks", h.QueueDepth))
	}

	if oldest, err := m.stats.OldestPending(ctx, m.queue); err != nil {
		h.Warnings = append(h.Warnings, "Cannot read oldest pending task: "+err.Error())
	} else if oldest != nil {
		age := now.Sub(*oldest)
		h.AgeOldestPendingSec = age.Seconds()
		switch {
		case age > t.OldestPendingAlert:
			h.Alerts = append(h.Alerts, fmt.Sprintf("Task pending for %.1f hours", age.Hours()))
		case age > t.OldestPendingWarning:
			h.Warnings = append(h.Warnings, fmt.Sprintf("Task pending for %.1f minutes", age.Minutes()))
		}
	}

	if last, err := m.stats.LastCompletedAt(ctx, m.queue); err != nil {
		h.Warnings = append(h.Warnings, "Cannot read last completion: "+err.Error())
	} else if last != nil {
		ago := now.Sub(*last)
		h.LastTaskCompletedSecAgo = ago.Seconds()
		if h.QueueDepth > 0 && ago > t.NoCompletionAlert {
			h.Alerts = append(h.Alerts, fmt.Sprintf("No tasks completed in %.1f minutes", ago.Minutes()))
		}
	}

	h.WorkerPoolHealthy = true
	if wm, err := m.workerMetrics(ctx, now); err != nil {
		h.WorkerPoolHealthy = false
		h.WorkerPoolMessage = "Cannot determine worker pool"
		h.Warnings = append(h.Warnings, "Cannot read worker activity: "+err.Error())
	} else {
		h.WorkerPoolMessage = fmt.Sprintf("%d active workers", wm.Active)
		switch {
		case wm.Total == 0 && h.QueueDepth > 0:
			h.WorkerPoolHealthy = false
			h.WorkerPoolMessage = "No workers registered"
			h.Alerts = append(h.Alerts, "No workers available")
		case wm.Total == 0:
			h.WorkerPoolMessage = "No workers registered"
			h.Warnings = append(h.Warnings, "No workers registered")
		case wm.Active == 0 && h.QueueDepth > 0:
			h.WorkerPoolHealthy = false
			h.WorkerPoolMessage = "No active workers (tasks pending)"
			h.Alerts = append(h.Alerts, "No active workers but tasks are pending")
		case float64(wm.Active) < float64(wm.Total)*0.5:
			h.Warnings = append(h.Warnings, fmt.Sprintf("Only %d/%d workers active", wm.Active, wm.Total))
		}
		if wm.Crashed > 0 {
			h.Warnings = append(h.Warnings, fmt.Sprintf("%d workers crashed", wm.Crashed))
		}
	}

	switch {
	case latency > t.LatencyAlert:
		h.Alerts = append(h.Alerts, fmt.Sprintf("Database latency high: %.0fms", h.DatabaseLatencyMS))
	case latency > t.LatencyWarning:
		h.Warnings = append(h.Warnings, fmt.Sprintf("Database latency elevated: %.0fms", h.DatabaseLatencyMS))
	}

	switch {
	case len(h.Alerts) > 0:
		h.Status = StatusCritical
		h.Message = strings.Join(h.Alerts, "; ")
	case len(h.Warnings) > 0:
		h.Status = StatusDegraded
		h.Message = strings.Join(h.Warnings, "; ")
	default:
		h.Status = StatusHealthy
		h.Message = "All systems operational"
	}
	return h
}
