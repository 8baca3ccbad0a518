// Package chain runs task chains: named, ordered lists of task names executed
// as one workflow.
//
// Each step receives the accumulated params. A step's JSON object output is
// shallow-merged into them before the next step; any other output is stored
// under "result". The chain name is always available as "chain_name". The
// first failing step stops the chain and completed steps are not rolled back.
//
// Steps can run inline through a queue.Executor (ExecutorRunner) or as real
// queue tasks that are spawned and awaited (QueueRunner):
//
//	catalog := chain.NewCatalog(store)
//	engine, _ := chain.NewEngine(chain.NewExecutorRunner(registry))
//
//	c, _ := catalog.Get(ctx, "full-pipeline")
//	exec, err := engine.Execute(ctx, c, json.RawMessage(`{"observation":"2025-01-01T00:00"}`))
//	if errors.Is(err, chain.ErrStepFailed) {
//	    log.Printf("stopped at %s: %s", exec.FailedStep, exec.Reason)
//	}
//
// Producers that only have a queue client spawn the execute-chain task, which
// Executor handles on a worker:
//
//	params, _ := chain.SpawnParams("reuse-calibration", nil)
//	client.Spawn(ctx, "default", chain.ExecuteChainTask, params)
package chain
