package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dsa110/taskq/pkg/chain"
	"github.com/dsa110/taskq/pkg/queue"
)

// Built-in task names available on every worker.
const (
	TaskNoop  = "noop"
	TaskEcho  = "echo"
	TaskFail  = "fail"
	TaskSleep = "sleep"
)

type failParams struct {
	Message string `json:"message"`
}

type sleepParams struct {
	Seconds float64 `json:"seconds"`
}

type sleepResult struct {
	Slept float64 `json:"slept"`
}

func noop(context.Context, json.RawMessage) (json.RawMessage, error) {
	return nil, nil
}

func echo(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	return params, nil
}

func fail(_ context.Context, p failParams) (struct{}, error) {
	if p.Message == "" {
		p.Message = "task failed on request"
	}
	return struct{}{}, errors.New(p.Message)
}

func sleep(ctx context.Context, p sleepParams) (sleepResult, error) {
	if p.Seconds < 0 {
		return sleepResult{}, fmt.Errorf("sleep: negative duration %v", p.Seconds)
	}
	timer := time.NewTimer(time.Duration(p.Seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return sleepResult{}, ctx.Err()
	case <-timer.C:
		return sleepResult{Slept: p.Seconds}, nil
	}
}

// newRegistry registers the built-in handlers plus execute-chain. Chain steps
// run in-process against the same registry.
func newRegistry(catalog *chain.Catalog, log *slog.Logger) (*queue.Registry, error) {
	reg := queue.NewRegistry()
	handlers := map[string]queue.HandlerFunc{
		TaskNoop:  noop,
		TaskEcho:  echo,
		TaskFail:  queue.Typed(fail),
		TaskSleep: queue.Typed(sleep),
	}
	for name, h := range handlers {
		if err := reg.Register(name, h); err != nil {
			return nil, err
		}
	}

	engine, err := chain.NewEngine(chain.NewExecutorRunner(reg), chain.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if err := chain.NewExecutor(catalog, engine).Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// newCatalog returns the chain catalog backed by the store, with chains from
// path registered on top of the built-ins.
func newCatalog(a *app, path string) (*chain.Catalog, error) {
	catalog := chain.NewCatalog(a.store)
	if path != "" {
		if err := catalog.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}
