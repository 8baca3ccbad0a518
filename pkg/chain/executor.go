package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dsa110/taskq/pkg/queue"
)

// ExecuteChainTask is the task name that runs a whole chain as one task.
const ExecuteChainTask = "execute-chain"

// ExecuteParams are the params of an execute-chain task.
type ExecuteParams struct {
	Chain  string          `json:"chain"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Executor runs chains on behalf of execute-chain tasks.
type Executor struct {
	catalog *Catalog
	engine  *Engine
}

func NewExecutor(catalog *Catalog, engine *Engine) *Executor {
	return &Executor{catalog: catalog, engine: engine}
}

// Handle is a queue.HandlerFunc. A failed step fails the task with the
// step's reason; the execution record is returned on success.
func (x *Executor) Handle(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var p ExecuteParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s params: %w", ExecuteChainTask, err)
	}
	if p.Chain == "" {
		return nil, ErrEmptyChainName
	}

	c, err := x.catalog.Get(ctx, p.Chain)
	if err != nil {
		return nil, err
	}

	exec, err := x.engine.Execute(ctx, c, p.Params)
	if err != nil {
		if errors.Is(err, ErrStepFailed) {
			return nil, fmt.Errorf("chain %s failed at step %d (%s): %s", c.Name, exec.FailedIndex, exec.FailedStep, exec.Reason)
		}
		return nil, err
	}
	return json.Marshal(exec)
}

// Register adds the execute-chain handler to reg.
func (x *Executor) Register(reg *queue.Registry) error {
	return reg.Register(ExecuteChainTask, x.Handle)
}

// SpawnParams builds params for an execute-chain task.
func SpawnParams(chainName string, params json.RawMessage) (json.RawMessage, error) {
	if chainName == "" {
		return nil, ErrEmptyChainName
	}
	return json.Marshal(ExecuteParams{Chain: chainName, Params: params})
}
