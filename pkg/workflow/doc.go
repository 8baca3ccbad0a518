// Package workflow spawns groups of queue tasks with dependencies between them
// and reports on their progress.
//
// A Definition names its steps by key. Each step may depend on other keys in
// the same definition; cycles are rejected before anything is stored. Spawn
// inserts every step as a pending task in one store transaction. A task is
// not claimed until all of its dependencies have completed:
//
//	def, _ := workflow.LoadFile("calibrate-and-image.yaml")
//	svc, _ := workflow.NewService(store, client)
//	spawned, err := svc.Spawn(ctx, def)
//
//	status, _ := svc.Status(ctx, spawned.Workflow.ID)
//	fmt.Printf("%s %.0f%%\n", status.State, status.Progress)
//
// When a step fails or is cancelled its dependents can never run. They stay
// pending until CancelBlocked moves them to cancelled.
package workflow
