// Package queue provides a durable, store-backed task queue with at-least-once delivery.
//
// The package is organised around a few components that share nothing but the store:
//
//   - Client           spawns tasks and exposes the claim, heartbeat, complete and fail primitives
//   - Worker           polls a queue, runs an Executor while heartbeating, and records the outcome
//   - DeadLetterQueue  holds tasks whose retries are exhausted until an operator acts on them
//   - Scheduler        spawns tasks from persisted schedule definitions
//
// Persistence is hidden behind small repository interfaces collected in Store.
// MemoryStorage implements Store for tests; the pgstore and sqlitestore subpackages
// implement it on PostgreSQL and SQLite.
//
// # Delivery
//
// A claim is store state, not an in-process lock. A worker renews it with heartbeats;
// once the last heartbeat is older than the task timeout, any worker may claim the task
// again. Executors therefore must tolerate running twice for the same task.
//
// Complete and Fail succeed only while the caller still holds the claim. Otherwise they
// return ErrClaimLost and the caller drops the outcome.
//
// # Retries
//
// Fail returns the task to pending with an exponential backoff while RetryCount is below
// MaxRetries. After that the task becomes failed, and the Worker escalates it to the
// DeadLetterQueue when one is configured.
//
// # Dependencies
//
// A task spawned WithDependsOn stays pending until every listed task has completed.
// Claims skip it, and OldestPending ignores it. A dependency that failed or was
// cancelled blocks it indefinitely; one that has been pruned counts as met. Groups of
// dependent tasks are spawned atomically through WorkflowRepository.CreateWorkflow.
//
// # Usage
//
//	store := queue.NewMemoryStorage()
//
//	client, err := queue.NewClient(store, queue.WithTaskTimeout(time.Minute))
//	if err != nil {
//		return err
//	}
//
//	registry := queue.NewRegistry()
//	registry.MustRegister("send-report", queue.Typed(func(ctx context.Context, p ReportParams) (ReportResult, error) {
//		return buildReport(ctx, p)
//	}))
//
//	dlq, _ := queue.NewDeadLetterQueue(store)
//	worker, err := queue.NewWorker(client, registry,
//		queue.WithQueue("reports"),
//		queue.WithDeadLetterQueue(dlq),
//	)
//	if err != nil {
//		return err
//	}
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(worker.Run(ctx))
//
//	_, err = client.Spawn(ctx, "reports", "send-report", json.RawMessage(`{"day":"2024-01-01"}`))
package queue
