// Package events publishes task state changes and queue statistics to
// pluggable sinks without ever blocking the caller.
//
// An Emitter implements queue.EventPublisher. It buffers events in a channel
// drained by a single dispatcher goroutine, which hands each event to the
// configured Sink. A full buffer drops the event and logs a warning; sink
// errors and panics are logged and never reach the worker.
//
// Sinks:
//
//   - NopSink discards everything and is the default.
//   - Fanout delivers events to in-process subscribers, such as websocket
//     clients, with an optional per-queue filter.
//   - RedisSink publishes JSON events to a Redis channel; RedisRelay reads the
//     channel back and republishes into a Fanout, so events emitted by worker
//     processes reach the API process.
//   - OpenSearchSink indexes every event as a document for later analysis.
//   - MultiSink sends to several sinks in order.
//
// Basic wiring:
//
//	fanout := events.NewFanout(64)
//	emitter := events.NewEmitter(store, events.WithSink(fanout))
//	defer emitter.Close()
//
//	worker, _ := queue.NewWorker(client, executor, queue.WithEventPublisher(emitter))
//
// The wire format matches the event stream consumed by dashboards:
//
//	{"type":"task_update","queue_name":"default","task_id":"…","update":{"status":"completed",…}}
//	{"type":"queue_stats_update","queue_name":"default","stats":{"pending":3,…}}
package events
