package monitor

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Heartbeat is a worker's self-report, posted periodically to the API.
type Heartbeat struct {
	WorkerID       string    `json:"worker_id"`
	Queue          string    `json:"queue_name"`
	State          string    `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	TasksProcessed int64     `json:"tasks_processed"`
	ReportedAt     time.Time `json:"reported_at"`
}

func (h Heartbeat) busy() bool {
	switch h.State {
	case "executing", "completing", "failing":
		return true
	}
	return false
}

// Registry keeps the latest heartbeat of every worker that reported one.
// Entries are never removed; listing is bounded by age instead.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Heartbeat
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]Heartbeat),
		now:     time.Now,
	}
}

// Record stores hb, replacing any previous report from the same worker.
// A zero ReportedAt is set to the current time.
func (r *Registry) Record(hb Heartbeat) error {
	if hb.WorkerID == "" {
		return ErrEmptyWorkerID
	}
	if hb.ReportedAt.IsZero() {
		hb.ReportedAt = r.now()
	}
	hb.ReportedAt = hb.ReportedAt.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[hb.WorkerID] = hb
	return nil
}

func (r *Registry) Get(workerID string) (Heartbeat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hb, ok := r.workers[workerID]
	return hb, ok
}

// Snapshot returns heartbeats reported at or after since, sorted by worker id.
func (r *Registry) Snapshot(since time.Time) []Heartbeat {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Heartbeat, 0, len(r.workers))
	for _, hb := range r.workers {
		if !hb.ReportedAt.Before(since) {
			out = append(out, hb)
		}
	}
	slices.SortFunc(out, func(a, b Heartbeat) int { return cmp.Compare(a.WorkerID, b.WorkerID) })
	return out
}
