package monitor

import (
	"bufio"
	"io"
	"slices"
	"strconv"
	"strings"
)

// MetricPrefix namespaces every exported metric.
const MetricPrefix = "taskq"

var statusCodes = map[Status]float64{
	StatusHealthy:  0,
	StatusDegraded: 1,
	StatusCritical: 2,
	StatusDown:     3,
}

// Metrics flattens a report into metric name → value.
func Metrics(r *Report) map[string]float64 {
	out := make(map[string]float64)
	set := func(name string, v float64) { out[MetricPrefix+"_"+name] = v }

	h := r.Health
	set("database_available", boolValue(h.DatabaseAvailable))
	set("database_latency_milliseconds", max(h.DatabaseLatencyMS, 0))
	set("worker_pool_healthy", boolValue(h.WorkerPoolHealthy))
	set("age_oldest_pending_seconds", h.AgeOldestPendingSec)
	set("last_task_completed_seconds_ago", max(h.LastTaskCompletedSecAgo, 0))
	set("queue_depth", float64(h.QueueDepth))
	set("health_status", statusCodes[h.Status])
	set("alert_count", float64(len(h.Alerts)))
	set("warning_count", float64(len(h.Warnings)))

	if tm := r.TaskMetrics; tm != nil {
		for status, n := range tm.Counts {
			set("tasks_"+string(status), float64(n))
		}
		set("tasks_timed_out_total", float64(tm.TimedOut))
		set("task_wait_time_seconds_p50", tm.WaitTime.P50)
		set("task_wait_time_seconds_p95", tm.WaitTime.P95)
		set("task_wait_time_seconds_p99", tm.WaitTime.P99)
		set("task_execution_time_seconds_p50", tm.ExecutionTime.P50)
		set("task_execution_time_seconds_p95", tm.ExecutionTime.P95)
		set("task_execution_time_seconds_p99", tm.ExecutionTime.P99)
		for _, w := range tm.Windows {
			label := strings.TrimSuffix(w.Window, "m") + "min"
			set("throughput_"+label+"_tasks_per_second", w.Throughput)
			set("success_rate_"+label, w.SuccessRate)
			set("error_rate_"+label+"_tasks_per_second", w.ErrorRate)
		}
	}

	if wm := r.WorkerMetrics; wm != nil {
		set("workers_total", float64(wm.Total))
		set("workers_active", float64(wm.Active))
		set("workers_idle", float64(wm.Idle))
		set("workers_crashed", float64(wm.Crashed))
		set("worker_avg_tasks", wm.AvgTasksPerWorker)
		set("worker_avg_uptime_seconds", wm.AvgUptimeSec)
	}
	return out
}

// WritePrometheus writes the report in the Prometheus text exposition format,
// one TYPE line per metric, sorted by name.
func WritePrometheus(w io.Writer, r *Report) error {
	metrics := Metrics(r)
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	slices.Sort(names)

	bw := bufio.NewWriter(w)
	for _, name := range names {
		bw.WriteString("# TYPE " + name + " " + metricType(name) + "\n")
		bw.WriteString(name + " " + strconv.FormatFloat(metrics[name], 'g', -1, 64) + "\n")
	}
	return bw.Flush()
}

func metricType(name string) string {
	switch {
	case strings.HasSuffix(name, "_total"), strings.HasSuffix(name, "_count"):
		return "counter"
	case strings.Contains(name, "_p50"), strings.Contains(name, "_p95"), strings.Contains(name, "_p99"):
		return "summary"
	default:
		return "gauge"
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
