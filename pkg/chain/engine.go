package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dsa110/taskq/pkg/logger"
)

// StepResult records one executed step.
type StepResult struct {
	Index    int             `json:"index"`
	Name     string          `json:"name"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// Execution is the outcome of running a chain. FailedIndex is -1 when every
// step succeeded.
type Execution struct {
	Chain       string          `json:"chain"`
	Steps       []StepResult    `json:"steps"`
	Params      json.RawMessage `json:"params"`
	Completed   bool            `json:"completed"`
	FailedStep  string          `json:"failed_step,omitempty"`
	FailedIndex int             `json:"failed_index"`
	Reason      string          `json:"reason,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// Engine runs chains step by step, threading each step's output into the
// next step's params. It stops at the first failure and never compensates
// completed steps.
type Engine struct {
	runner Runner
	logger *slog.Logger
	now    func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(runner Runner, opts ...EngineOption) (*Engine, error) {
	if runner == nil {
		return nil, ErrNilRunner
	}
	e := &Engine{
		runner: runner,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logger.Component("chain"))
	return e, nil
}

// Execute runs c with initial as the first step's params.
//
// The returned Execution is non-nil whenever the chain was valid, including on
// step failure, which is reported as ErrStepFailed.
func (e *Engine) Execute(ctx context.Context, c Chain, initial json.RawMessage) (*Execution, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	params, err := decodeParams(initial)
	if err != nil {
		return nil, err
	}

	exec := &Execution{
		Chain:       c.Name,
		Steps:       make([]StepResult, 0, len(c.Tasks)),
		FailedIndex: -1,
		StartedAt:   e.now(),
	}
	log := e.logger.With(logger.ChainName(c.Name))
	log.InfoContext(ctx, "chain started", slog.Int("steps", len(c.Tasks)))

	for i, name := range c.Tasks {
		params["chain_name"] = mustMarshal(c.Name)
		input := mustMarshal(params)

		started := e.now()
		var out json.RawMessage
		if err = ctx.Err(); err == nil {
			out, err = e.runner.Run(ctx, name, input)
		}
		step := StepResult{Index: i, Name: name, Output: out, Duration: e.now().Sub(started)}

		if err != nil {
			step.Error = err.Error()
			exec.Steps = append(exec.Steps, step)
			exec.FailedStep = name
			exec.FailedIndex = i
			exec.Reason = err.Error()
			exec.Params = input
			exec.FinishedAt = e.now()

			log.WarnContext(ctx, "chain step failed",
				slog.Int("step", i),
				logger.TaskName(name),
				logger.Error(err))
			return exec, fmt.Errorf("%w: %s step %d (%s): %s", ErrStepFailed, c.Name, i, name, err)
		}

		exec.Steps = append(exec.Steps, step)
		mergeOutput(params, out)
		log.DebugContext(ctx, "chain step completed", slog.Int("step", i), logger.TaskName(name))
	}

	exec.Params = mustMarshal(params)
	exec.Completed = true
	exec.FinishedAt = e.now()
	log.InfoContext(ctx, "chain completed", logger.Duration(exec.FinishedAt.Sub(exec.StartedAt)))
	return exec, nil
}

func decodeParams(raw json.RawMessage) (map[string]json.RawMessage, error) {
	params := make(map[string]json.RawMessage)
	if len(raw) == 0 || string(raw) == "null" {
		return params, nil
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if params == nil {
		params = make(map[string]json.RawMessage)
	}
	return params, nil
}

// mergeOutput shallow-merges an object output into params. Any other
// non-empty output is stored under "result", as a string if it is not JSON.
func mergeOutput(params map[string]json.RawMessage, out json.RawMessage) {
	if len(out) == 0 || string(out) == "null" {
		return
	}
	if !json.Valid(out) {
		params["result"] = mustMarshal(string(out))
		return
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(out, &obj); err == nil && obj != nil {
		for k, v := range obj {
			params[k] = v
		}
		return
	}
	params["result"] = out
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("chain: marshal %T: %v", v, err))
	}
	return b
}
