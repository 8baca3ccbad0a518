package events

import "errors"

var (
	ErrNilClient    = errors.New("events: nil client")
	ErrEmptyChannel = errors.New("events: empty channel name")
	ErrEmptyIndex   = errors.New("events: empty index name")
	ErrSinkFailed   = errors.New("events: sink rejected event")
	ErrInvalidEvent = errors.New("events: invalid event payload")
)
