// Package api exposes the task queue over HTTP.
//
// Router mounts a chi router with JSON endpoints under /api/v1 for tasks,
// dead letters, chains, workflows, monitoring and worker heartbeats, plus /healthz,
// /readyz and a Prometheus /metrics endpoint. GET /api/v1/events upgrades to a
// websocket that streams task and queue events from an events.Fanout;
// ?queue=name limits the stream to one queue.
//
// Every JSON response uses the same envelope:
//
//	{"data": ..., "meta": {...}}
//	{"error": {"code": "not_found", "message": "task not found"}}
//
// Server runs the router with graceful shutdown on context cancellation.
// HeartbeatReporter is the client half of worker heartbeats: a worker process
// configured with an API base URL posts its queue.WorkerInfo periodically and
// the server records it in a monitor.Registry.
package api
