package monitor

import (
	"time"

	"github.com/dsa110/taskq/pkg/queue"
)

// Status is the overall health verdict.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
	StatusDown     Status = "down"
)

// Health is the result of CheckHealth. Durations are reported in seconds and
// milliseconds to match the dashboards; -1 means unknown.
type Health struct {
	Status                  Status    `json:"status"`
	Message                 string    `json:"message"`
	Queue                   string    `json:"queue_name,omitempty"`
	QueueDepth              int       `json:"queue_depth"`
	AgeOldestPendingSec     float64   `json:"age_oldest_pending_sec"`
	DatabaseAvailable       bool      `json:"database_available"`
	DatabaseLatencyMS       float64   `json:"database_latency_ms"`
	WorkerPoolHealthy       bool      `json:"worker_pool_healthy"`
	WorkerPoolMessage       string    `json:"worker_pool_message"`
	LastTaskCompletedSecAgo float64   `json:"last_task_completed_sec_ago"`
	Alerts                  []string  `json:"alerts"`
	Warnings                []string  `json:"warnings"`
	CheckedAt               time.Time `json:"checked_at"`
}

// WindowMetrics are rates over one trailing window.
type WindowMetrics struct {
	Window      string  `json:"window"`
	Seconds     float64 `json:"seconds"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Throughput  float64 `json:"throughput"`
	SuccessRate float64 `json:"success_rate"`
	ErrorRate   float64 `json:"error_rate"`
}

// Percentiles are in seconds.
type Percentiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Avg float64 `json:"avg"`
}

type TaskMetrics struct {
	Counts        map[queue.TaskStatus]int `json:"counts"`
	Pending       int                      `json:"pending"`
	Claimed       int                      `json:"claimed"`
	Windows       []WindowMetrics          `json:"windows"`
	WaitTime      Percentiles              `json:"wait_time_sec"`
	ExecutionTime Percentiles              `json:"execution_time_sec"`
	Samples       int                      `json:"samples"`
	TimedOut      int                      `json:"timed_out"`
}

// Window returns the metrics for label ("1m", "5m" or "15m").
func (m TaskMetrics) Window(label string) (WindowMetrics, bool) {
	for _, w := range m.Windows {
		if w.Window == label {
			return w, true
		}
	}
	return WindowMetrics{}, false
}

// WorkerState is the derived liveness of a worker.
type WorkerState string

const (
	WorkerActive  WorkerState = "active"
	WorkerIdle    WorkerState = "idle"
	WorkerCrashed WorkerState = "crashed"
)

// WorkerRecord describes one worker as seen through task rows and heartbeats.
type WorkerRecord struct {
	WorkerID       string      `json:"worker_id"`
	Queue          string      `json:"queue_name"`
	State          WorkerState `json:"state"`
	StartedAt      time.Time   `json:"started_at"`
	LastSeenAt     time.Time   `json:"last_seen_at"`
	TasksProcessed int64       `json:"tasks_processed"`
}

type WorkerMetrics struct {
	Total             int            `json:"total_workers"`
	Active            int            `json:"active_workers"`
	Idle              int            `json:"idle_workers"`
	Crashed           int            `json:"crashed_workers"`
	AvgTasksPerWorker float64        `json:"avg_tasks_per_worker"`
	AvgUptimeSec      float64        `json:"avg_worker_uptime_sec"`
	Workers           []WorkerRecord `json:"workers"`
}

// Report bundles everything the monitor knows at one instant.
type Report struct {
	Health        Health         `json:"health"`
	TaskMetrics   *TaskMetrics   `json:"task_metrics,omitempty"`
	WorkerMetrics *WorkerMetrics `json:"worker_metrics,omitempty"`
	GeneratedAt   time.Time      `json:"generated_at"`
}
