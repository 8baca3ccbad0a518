package monitor

import (
	"log/slog"
	"time"
)

// Thresholds are the health check limits. Zero values in a Thresholds passed
// to WithThresholds keep the default.
type Thresholds struct {
	DepthWarning int
	DepthAlert   int

	OldestPendingWarning time.Duration
	OldestPendingAlert   time.Duration

	// NoCompletionAlert fires when tasks are queued but nothing completed for this long.
	NoCompletionAlert time.Duration

	LatencyWarning time.Duration
	LatencyAlert   time.Duration

	// ActiveWindow: a worker seen this recently counts as active.
	ActiveWindow time.Duration
	// CrashedAfter: a worker not seen for this long counts as crashed.
	CrashedAfter time.Duration
	// HeartbeatTimeout marks claims whose last heartbeat is older as stale.
	HeartbeatTimeout time.Duration
	// Lookback bounds which workers are listed at all.
	Lookback time.Duration
}

// DefaultThresholds returns the production limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DepthWarning:         500,
		DepthAlert:           1000,
		OldestPendingWarning: 10 * time.Minute,
		OldestPendingAlert:   time.Hour,
		NoCompletionAlert:    5 * time.Minute,
		LatencyWarning:       500 * time.Millisecond,
		LatencyAlert:         time.Second,
		ActiveWindow:         10 * time.Second,
		CrashedAfter:         180 * time.Second,
		HeartbeatTimeout:     300 * time.Second,
		Lookback:             time.Hour,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	pick := func(v, def time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return def
	}
	if t.DepthWarning <= 0 {
		t.DepthWarning = d.DepthWarning
	}
	if t.DepthAlert <= 0 {
		t.DepthAlert = d.DepthAlert
	}
	t.OldestPendingWarning = pick(t.OldestPendingWarning, d.OldestPendingWarning)
	t.OldestPendingAlert = pick(t.OldestPendingAlert, d.OldestPendingAlert)
	t.NoCompletionAlert = pick(t.NoCompletionAlert, d.NoCompletionAlert)
	t.LatencyWarning = pick(t.LatencyWarning, d.LatencyWarning)
	t.LatencyAlert = pick(t.LatencyAlert, d.LatencyAlert)
	t.ActiveWindow = pick(t.ActiveWindow, d.ActiveWindow)
	t.CrashedAfter = pick(t.CrashedAfter, d.CrashedAfter)
	t.HeartbeatTimeout = pick(t.HeartbeatTimeout, d.HeartbeatTimeout)
	t.Lookback = pick(t.Lookback, d.Lookback)
	return t
}

const DefaultCacheTTL = 10 * time.Second

// Option configures a Monitor.
type Option func(*Monitor)

// WithQueue limits the monitor to one queue. By default all queues are covered.
func WithQueue(name string) Option {
	return func(m *Monitor) {
		m.queue = name
	}
}

func WithThresholds(t Thresholds) Option {
	return func(m *Monitor) {
		m.thresholds = t.withDefaults()
	}
}

// WithRegistry merges API-reported worker heartbeats into worker metrics.
func WithRegistry(r *Registry) Option {
	return func(m *Monitor) {
		m.registry = r
	}
}

// WithCacheTTL sets how long a health result is reused. Zero disables caching.
func WithCacheTTL(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.cacheTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}
