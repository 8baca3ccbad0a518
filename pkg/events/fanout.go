package events

import (
	"context"
	"sync"
)

// Subscription receives events from a Fanout.
type Subscription struct {
	ch     chan Event
	queue  string
	closed bool
	mu     sync.RWMutex
}

// Events returns the receive channel. It is closed when the subscription ends,
// either through Close, context cancellation, or because the subscriber fell
// behind and was dropped.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Queue returns the queue filter; empty means all queues.
func (s *Subscription) Queue() string {
	return s.queue
}

// Close is idempotent.
func (s *Subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.ch)
		s.closed = true
	}
	return nil
}

func (s *Subscription) matches(event Event) bool {
	return s.queue == "" || s.queue == event.Queue
}

func (s *Subscription) send(event Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

// Fanout is an in-process Sink that copies each event to every matching
// subscriber. Slow subscribers are dropped instead of blocking Publish.
type Fanout struct {
	subscribers map[*Subscription]struct{}
	bufferSize  int
	closed      bool
	done        chan struct{}
	mu          sync.RWMutex
	cleanupWg   sync.WaitGroup
}

// NewFanout creates a Fanout with the given per-subscriber buffer (minimum 1).
func NewFanout(bufferSize int) *Fanout {
	return &Fanout{
		subscribers: make(map[*Subscription]struct{}),
		bufferSize:  max(bufferSize, 1),
		done:        make(chan struct{}),
	}
}

// Subscribe registers a subscriber for queueName, or for every queue when
// queueName is empty. The subscription ends when ctx is cancelled.
// Subscribing to a closed Fanout returns an already closed subscription.
func (f *Fanout) Subscribe(ctx context.Context, queueName string) *Subscription {
	sub := &Subscription{
		ch:    make(chan Event, f.bufferSize),
		queue: queueName,
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		_ = sub.Close()
		return sub
	}
	f.subscribers[sub] = struct{}{}

	if ctx.Done() != nil {
		f.cleanupWg.Add(1)
		go func() {
			defer f.cleanupWg.Done()
			select {
			case <-ctx.Done():
				f.unsubscribe(sub)
			case <-f.done:
			}
		}()
	}

	return sub
}

// Publish implements Sink. It never blocks and never fails.
func (f *Fanout) Publish(_ context.Context, event Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil
	}

	for sub := range f.subscribers {
		if !sub.matches(event) {
			continue
		}
		if !sub.send(event) {
			go f.unsubscribe(sub)
		}
	}
	return nil
}

// Len returns the number of live subscribers.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

// Close closes every subscription. Safe to call multiple times.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.done)
	for sub := range f.subscribers {
		_ = sub.Close()
	}
	clear(f.subscribers)
	f.mu.Unlock()

	f.cleanupWg.Wait()
	return nil
}

func (f *Fanout) unsubscribe(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.subscribers, sub)
	_ = sub.Close()
}
