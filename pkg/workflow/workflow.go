package workflow

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dsa110/taskq/pkg/queue"
)

// Step is one task of a workflow.
type Step struct {
	Key        string         `json:"key" yaml:"key"`
	Task       string         `json:"task" yaml:"task"`
	Queue      string         `json:"queue,omitempty" yaml:"queue,omitempty"`
	Params     map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Priority   int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	MaxRetries *int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	DependsOn  []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Definition describes the steps of a workflow and the order between them.
// Queue is the default for steps that do not name one.
type Definition struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Queue       string `json:"queue,omitempty" yaml:"queue,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// Validate checks names and keys and rejects unknown or cyclic dependencies.
func (d Definition) Validate() error {
	if d.Name == "" {
		return ErrEmptyName
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: %s", ErrNoSteps, d.Name)
	}

	keys := make(map[string]struct{}, len(d.Steps))
	for i, step := range d.Steps {
		switch {
		case step.Key == "":
			return fmt.Errorf("%w: step %d has no key", ErrInvalidStep, i)
		case step.Task == "":
			return fmt.Errorf("%w: step %s has no task name", ErrInvalidStep, step.Key)
		case step.Task == queue.DeadLetterTaskName:
			return fmt.Errorf("%w: step %s: %w", ErrInvalidStep, step.Key, queue.ErrReservedTaskName)
		case step.MaxRetries != nil && *step.MaxRetries < 0:
			return fmt.Errorf("%w: step %s: %w", ErrInvalidStep, step.Key, queue.ErrInvalidMaxRetries)
		}
		if _, dup := keys[step.Key]; dup {
			return fmt.Errorf("%w: duplicate key %s", ErrInvalidStep, step.Key)
		}
		keys[step.Key] = struct{}{}
	}

	for _, step := range d.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := keys[dep]; !ok {
				return fmt.Errorf("%w: step %s depends on unknown step %s", ErrInvalidStep, step.Key, dep)
			}
		}
	}

	_, err := queue.TopologicalOrder(d.graph())
	return err
}

// Order returns step keys so that every step follows its dependencies.
func (d Definition) Order() ([]string, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return queue.TopologicalOrder(d.graph())
}

func (d Definition) graph() map[string][]string {
	deps := make(map[string][]string, len(d.Steps))
	for _, step := range d.Steps {
		deps[step.Key] = step.DependsOn
	}
	return deps
}

func (d Definition) step(key string) Step {
	for _, s := range d.Steps {
		if s.Key == key {
			return s
		}
	}
	return Step{}
}

// LoadFile reads one definition from a YAML or JSON file:
//
//	name: calibrate-and-image
//	queue: pipeline
//	steps:
//	  - key: convert
//	    task: convert-uvh5-to-ms
//	  - key: solve
//	    task: calibration-solve
//	    depends_on: [convert]
//	  - key: image
//	    task: imaging
//	    depends_on: [convert, solve]
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read workflow file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a definition. JSON input is accepted as YAML.
func Parse(data []byte) (Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Definition{}, errors.Join(ErrInvalidFile, err)
	}
	if err := d.Validate(); err != nil {
		return Definition{}, errors.Join(ErrInvalidFile, err)
	}
	return d, nil
}
