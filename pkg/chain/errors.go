package chain

import (
	"errors"

	"github.com/dsa110/taskq/pkg/queue"
)

var (
	ErrEmptyChainName = errors.New("chain: empty name")
	ErrEmptyChain     = errors.New("chain: no tasks")
	ErrEmptyStepName  = errors.New("chain: empty task name")
	ErrInvalidParams  = errors.New("chain: params must be a JSON object")
	ErrStepFailed     = errors.New("chain: step failed")
	ErrNilRunner      = errors.New("chain: nil runner")
	ErrNoRepository   = errors.New("chain: catalog has no repository")
	ErrInvalidFile    = errors.New("chain: invalid definition file")

	// ErrChainNotFound aliases the store error so callers need one check.
	ErrChainNotFound = queue.ErrChainNotFound
)
