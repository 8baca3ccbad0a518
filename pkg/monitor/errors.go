package monitor

import "errors"

var (
	ErrNilStats        = errors.New("monitor: nil stats repository")
	ErrEmptyWorkerID   = errors.New("monitor: empty worker id")
	ErrInvalidInterval = errors.New("monitor: interval must be positive")
)
