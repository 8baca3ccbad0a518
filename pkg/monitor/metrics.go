package monitor

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dsa110/taskq/pkg/queue"
)

// maxLatencySamples caps how many finished tasks feed the percentiles.
const maxLatencySamples = 10000

var windows = []struct {
	label string
	d     time.Duration
}{
	{"1m", time.Minute},
	{"5m", 5 * time.Minute},
	{"15m", 15 * time.Minute},
}

// TaskMetrics returns counts, rates and latency percentiles.
func (m *Monitor) TaskMetrics(ctx context.Context) (*TaskMetrics, error) {
	now := m.now()

	counts, err := m.stats.CountTasks(ctx, m.queue)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	tm := &TaskMetrics{
		Counts:  queue.FillStatusCounts(counts),
		Pending: counts[queue.TaskStatusPending],
		Claimed: counts[queue.TaskStatusClaimed],
		Windows: make([]WindowMetrics, 0, len(windows)),
	}

	for _, w := range windows {
		wc, err := m.stats.WindowCounts(ctx, m.queue, now.Add(-w.d))
		if err != nil {
			return nil, fmt.Errorf("window %s: %w", w.label, err)
		}
		tm.Windows = append(tm.Windows, windowMetrics(w.label, w.d, wc))
	}

	samples, err := m.stats.LatencySamples(ctx, m.queue, now.Add(-windows[len(windows)-1].d), maxLatencySamples)
	if err != nil {
		return nil, fmt.Errorf("latency samples: %w", err)
	}
	waits := make([]time.Duration, len(samples))
	execs := make([]time.Duration, len(samples))
	for i, s := range samples {
		waits[i], execs[i] = s.Wait, s.Exec
	}
	tm.Samples = len(samples)
	tm.WaitTime = percentiles(waits)
	tm.ExecutionTime = percentiles(execs)

	if tm.TimedOut, err = m.stats.CountTimedOut(ctx, m.queue); err != nil {
		return nil, fmt.Errorf("count timed out: %w", err)
	}
	return tm, nil
}

func windowMetrics(label string, d time.Duration, wc queue.WindowCounts) WindowMetrics {
	secs := d.Seconds()
	w := WindowMetrics{
		Window:      label,
		Seconds:     secs,
		Completed:   wc.Completed,
		Failed:      wc.Failed,
		Throughput:  float64(wc.Completed) / secs,
		ErrorRate:   float64(wc.Failed) / secs,
		SuccessRate: 1.0,
	}
	if total := wc.Completed + wc.Failed; total > 0 {
		w.SuccessRate = float64(wc.Completed) / float64(total)
	}
	return w
}

// percentiles sorts values in place and picks sorted[int(n*p/100)], clamped.
func percentiles(values []time.Duration) Percentiles {
	n := len(values)
	if n == 0 {
		return Percentiles{}
	}
	slices.Sort(values)

	pick := func(p int) float64 {
		return values[min(n*p/100, n-1)].Seconds()
	}
	var sum time.Duration
	for _, v := range values {
		sum += v
	}
	return Percentiles{
		P50: pick(50),
		P95: pick(95),
		P99: pick(99),
		Avg: (sum / time.Duration(n)).Seconds(),
	}
}

// WorkerMetrics derives worker states from task rows and, when a registry is
// configured, from reported heartbeats.
func (m *Monitor) WorkerMetrics(ctx context.Context) (*WorkerMetrics, error) {
	return m.workerMetrics(ctx, m.now())
}

type workerEvidence struct {
	rec          WorkerRecord
	activeClaims int
	staleClaims  int
	lastTaskSeen time.Time
	busy         bool
}

func (m *Monitor) workerMetrics(ctx context.Context, now time.Time) (*WorkerMetrics, error) {
	t := m.thresholds
	since := now.Add(-t.Lookback)

	acts, err := m.stats.WorkerActivity(ctx, m.queue, since, now.Add(-t.HeartbeatTimeout))
	if err != nil {
		return nil, fmt.Errorf("worker activity: %w", err)
	}

	byID := make(map[string]*workerEvidence, len(acts))
	for _, a := range acts {
		byID[a.WorkerID] = &workerEvidence{
			rec: WorkerRecord{
				WorkerID:       a.WorkerID,
				Queue:          a.Queue,
				StartedAt:      a.FirstSeen,
				LastSeenAt:     a.LastSeen,
				TasksProcessed: int64(a.TasksProcessed),
			},
			activeClaims: a.ActiveClaims,
			staleClaims:  a.StaleClaims,
			lastTaskSeen: a.LastSeen,
		}
	}

	if m.registry != nil {
		for _, hb := range m.registry.Snapshot(since) {
			if hb.State == "stopped" || (m.queue != "" && hb.Queue != m.queue) {
				continue
			}
			ev, ok := byID[hb.WorkerID]
			if !ok {
				ev = &workerEvidence{rec: WorkerRecord{WorkerID: hb.WorkerID, Queue: hb.Queue, StartedAt: hb.StartedAt}}
				byID[hb.WorkerID] = ev
			}
			if !hb.StartedAt.IsZero() && (ev.rec.StartedAt.IsZero() || hb.StartedAt.Before(ev.rec.StartedAt)) {
				ev.rec.StartedAt = hb.StartedAt
			}
			if hb.ReportedAt.After(ev.rec.LastSeenAt) {
				ev.rec.LastSeenAt = hb.ReportedAt
			}
			ev.rec.TasksProcessed = max(ev.rec.TasksProcessed, hb.TasksProcessed)
			if ev.rec.Queue == "" {
				ev.rec.Queue = hb.Queue
			}
			ev.busy = hb.busy() && now.Sub(hb.ReportedAt) <= t.CrashedAfter
		}
	}

	wm := &WorkerMetrics{Workers: make([]WorkerRecord, 0, len(byID))}
	var tasks int64
	var uptime time.Duration
	for _, ev := range byID {
		ev.rec.State = m.classify(now, ev)
		switch ev.rec.State {
		case WorkerActive:
			wm.Active++
		case WorkerIdle:
			wm.Idle++
		case WorkerCrashed:
			wm.Crashed++
		}
		tasks += ev.rec.TasksProcessed
		if !ev.rec.StartedAt.IsZero() {
			uptime += now.Sub(ev.rec.StartedAt)
		}
		wm.Workers = append(wm.Workers, ev.rec)
	}

	wm.Total = len(wm.Workers)
	if wm.Total > 0 {
		wm.AvgTasksPerWorker = float64(tasks) / float64(wm.Total)
		wm.AvgUptimeSec = uptime.Seconds() / float64(wm.Total)
	}
	slices.SortFunc(wm.Workers, func(a, b WorkerRecord) int { return cmp.Compare(a.WorkerID, b.WorkerID) })
	return wm, nil
}

// classify applies, in order: a stale claim means crashed; a fresh claim or a
// busy heartbeat means active; task activity within ActiveWindow means active;
// silence beyond CrashedAfter means crashed; anything else is idle.
func (m *Monitor) classify(now time.Time, ev *workerEvidence) WorkerState {
	t := m.thresholds
	switch {
	case ev.staleClaims > 0:
		return WorkerCrashed
	case ev.activeClaims > 0 || ev.busy:
		return WorkerActive
	case !ev.lastTaskSeen.IsZero() && now.Sub(ev.lastTaskSeen) <= t.ActiveWindow:
		return WorkerActive
	case now.Sub(ev.rec.LastSeenAt) > t.CrashedAfter:
		return WorkerCrashed
	default:
		return WorkerIdle
	}
}
