package chain

import (
	"fmt"
	"slices"
	"time"

	"github.com/dsa110/taskq/pkg/queue"
)

// Chain is a named, ordered, static list of task names.
type Chain struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tasks       []string `json:"tasks" yaml:"tasks"`
}

// Validate checks the chain has a name and at least one non-empty step.
func (c Chain) Validate() error {
	if c.Name == "" {
		return ErrEmptyChainName
	}
	if len(c.Tasks) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyChain, c.Name)
	}
	for i, name := range c.Tasks {
		if name == "" {
			return fmt.Errorf("%w: %s step %d", ErrEmptyStepName, c.Name, i)
		}
	}
	return nil
}

// Next returns the task after current, if any.
func (c Chain) Next(current string) (string, bool) {
	i := slices.Index(c.Tasks, current)
	if i < 0 || i == len(c.Tasks)-1 {
		return "", false
	}
	return c.Tasks[i+1], true
}

// FromDefinition converts a stored definition.
func FromDefinition(def queue.ChainDefinition) Chain {
	return Chain{
		Name:        def.Name,
		Description: def.Description,
		Tasks:       slices.Clone(def.Tasks),
	}
}

// Definition converts the chain to its stored form.
func (c Chain) Definition(now time.Time) queue.ChainDefinition {
	return queue.ChainDefinition{
		Name:        c.Name,
		Description: c.Description,
		Tasks:       slices.Clone(c.Tasks),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
