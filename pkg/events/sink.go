package events

import (
	"context"
	"errors"
)

// Sink delivers events to a destination. Publish may block for the duration
// of a network call; the Emitter calls it from its dispatcher goroutine.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) error { return nil }

// NopSink discards every event.
func NopSink() Sink {
	return nopSink{}
}

// MultiSink publishes to every sink in order. A failing sink does not stop the
// rest; all errors are joined.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
