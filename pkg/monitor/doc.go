// Package monitor reports queue health and metrics. It only reads from the
// store.
//
// CheckHealth applies fixed rules (queue depth, age of the oldest pending
// task, time since the last completion, worker pool liveness and store
// latency) and returns healthy, degraded, critical or down. Results are cached
// briefly so health checks and dashboards can poll freely.
//
// TaskMetrics reports counts by status, throughput, success and error rates
// over 1, 5 and 15 minute windows, and wait and execution time percentiles.
//
// WorkerMetrics derives each worker's state from the task table: a stale
// claim means crashed, a fresh claim means active. Workers that report
// heartbeats through the API are merged in from a Registry, so idle workers
// that never held a task are still visible.
//
//	mon, _ := monitor.NewMonitor(store, monitor.WithQueue("default"))
//	go mon.Run(ctx, 30*time.Second, func(ctx context.Context, r *monitor.Report) {
//	    _ = monitor.WritePrometheus(os.Stdout, r)
//	})
package monitor
