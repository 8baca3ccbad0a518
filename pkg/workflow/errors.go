package workflow

import (
	"errors"

	"github.com/dsa110/taskq/pkg/queue"
)

var (
	ErrEmptyName    = errors.New("workflow: empty name")
	ErrNoSteps      = errors.New("workflow: no steps")
	ErrInvalidStep  = errors.New("workflow: invalid step")
	ErrInvalidFile  = errors.New("workflow: invalid definition file")
	ErrNilClient    = errors.New("workflow: nil client")

	// Store errors aliased so callers need one check.
	ErrWorkflowNotFound = queue.ErrWorkflowNotFound
	ErrDependencyCycle  = queue.ErrDependencyCycle
)
