package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ResultStatus is the executor's verdict on a task.
type ResultStatus string

const (
	ResultOK    ResultStatus = "ok"
	ResultError ResultStatus = "error"
)

// Result is what an executor returns for one task.
type Result struct {
	Status ResultStatus    `json:"status"`
	Output json.RawMessage `json:"result,omitempty"`
	Errors []string        `json:"errors,omitempty"`
}

// OK builds a successful result.
func OK(output json.RawMessage) Result {
	return Result{Status: ResultOK, Output: output}
}

// Failed builds an error result.
func Failed(errs ...string) Result {
	return Result{Status: ResultError, Errors: errs}
}

// Succeeded reports whether the result counts as success.
func (r Result) Succeeded() bool {
	return r.Status == ResultOK
}

// Message joins the result's errors into one string.
func (r Result) Message() string {
	if len(r.Errors) == 0 {
		return "task returned error status"
	}
	return strings.Join(r.Errors, "; ")
}

// Executor runs task bodies. It must tolerate repeated invocation for the same task.
// Both an error result and a non-nil error count as task failure.
type Executor interface {
	Execute(ctx context.Context, taskName string, params json.RawMessage) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, taskName string, params json.RawMessage) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, taskName string, params json.RawMessage) (Result, error) {
	return f(ctx, taskName, params)
}

type (
	// HandlerFunc handles one task name. Returned output becomes the task result.
	HandlerFunc func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

	TypedHandlerFunc[P any, R any] func(ctx context.Context, params P) (R, error)
)

// Typed adapts a function over concrete param and result types to HandlerFunc.
func Typed[P any, R any](handler TypedHandlerFunc[P, R]) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var params P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, fmt.Errorf("failed to decode params into %T: %w", params, err)
			}
		}

		out, err := handler(ctx, params)
		if err != nil {
			return nil, err
		}

		encoded, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result of type %T: %w", out, err)
		}
		return encoded, nil
	}
}

// Registry is an Executor that dispatches by task name.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register adds a handler for name
func (r *Registry) Register(name string, handler HandlerFunc) error {
	if name == "" {
		return ErrEmptyTaskName
	}
	if handler == nil {
		return fmt.Errorf("nil handler for task %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, name)
	}
	r.handlers[name] = handler
	return nil
}

// MustRegister is Register that panics; meant for program start-up.
func (r *Registry) MustRegister(name string, handler HandlerFunc) {
	if err := r.Register(name, handler); err != nil {
		panic(err)
	}
}

// Names returns registered task names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute implements Executor
func (r *Registry) Execute(ctx context.Context, taskName string, params json.RawMessage) (Result, error) {
	r.mu.RLock()
	handler, ok := r.handlers[taskName]
	r.mu.RUnlock()

	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrHandlerNotFound, taskName)
	}

	out, err := handler(ctx, params)
	if err != nil {
		return Failed(err.Error()), nil
	}
	return OK(out), nil
}
