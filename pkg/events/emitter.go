package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dsa110/taskq/pkg/logger"
	"github.com/dsa110/taskq/pkg/queue"
)

const (
	DefaultBufferSize     = 256
	DefaultPublishTimeout = 5 * time.Second
)

// StatsReader supplies per-status task counts for queue_stats_update events.
type StatsReader interface {
	CountTasks(ctx context.Context, queue string) (map[queue.TaskStatus]int, error)
}

// Emitter is a best-effort, non-blocking queue.EventPublisher.
// All methods are safe for concurrent use.
type Emitter struct {
	sink           Sink
	stats          StatsReader
	logger         *slog.Logger
	now            func() time.Time
	publishTimeout time.Duration

	events chan pending
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
}

type pending struct {
	ctx   context.Context
	event Event
}

var _ queue.EventPublisher = (*Emitter)(nil)

// Option configures an Emitter.
type Option func(*Emitter)

// WithSink sets where events go. Defaults to NopSink.
func WithSink(s Sink) Option {
	return func(e *Emitter) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithBufferSize sets how many events may wait for the dispatcher.
func WithBufferSize(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.events = make(chan pending, n)
		}
	}
}

// WithPublishTimeout bounds each Sink.Publish call.
func WithPublishTimeout(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.publishTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Emitter) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEmitter starts an emitter. stats may be nil, in which case
// QueueStatsUpdate is a no-op.
func NewEmitter(stats StatsReader, opts ...Option) *Emitter {
	e := &Emitter{
		sink:           NopSink(),
		stats:          stats,
		logger:         slog.Default(),
		now:            time.Now,
		publishTimeout: DefaultPublishTimeout,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.events == nil {
		e.events = make(chan pending, DefaultBufferSize)
	}
	e.logger = e.logger.With(logger.Component("events"))

	go e.run()
	return e
}

// TaskUpdate enqueues a task_update event.
func (e *Emitter) TaskUpdate(ctx context.Context, queueName string, taskID uuid.UUID, update queue.TaskUpdate) {
	id := taskID
	e.enqueue(ctx, Event{
		Type:      TypeTaskUpdate,
		Queue:     queueName,
		TaskID:    &id,
		Update:    &update,
		Timestamp: e.now().UTC(),
	})
}

// QueueStatsUpdate enqueues a queue_stats_update event. Counts are read by
// the dispatcher, not the caller.
func (e *Emitter) QueueStatsUpdate(ctx context.Context, queueName string) {
	if e.stats == nil {
		return
	}
	e.enqueue(ctx, Event{
		Type:      TypeQueueStatsUpdate,
		Queue:     queueName,
		Timestamp: e.now().UTC(),
	})
}

// Emit enqueues a prepared event.
func (e *Emitter) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	e.enqueue(ctx, event)
}

// Dropped returns how many events were discarded because the buffer was full.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close stops accepting events and waits until buffered ones are delivered.
// It is safe to call Close multiple times.
func (e *Emitter) Close() error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
	e.mu.Unlock()

	<-e.done
	return nil
}

func (e *Emitter) enqueue(ctx context.Context, event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return
	}

	select {
	case e.events <- pending{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		e.dropped.Add(1)
		e.logger.WarnContext(ctx, "event buffer full, dropping event",
			slog.String("type", string(event.Type)),
			logger.Queue(event.Queue))
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for p := range e.events {
		e.dispatch(p)
	}
}

func (e *Emitter) dispatch(p pending) {
	ctx, cancel := context.WithTimeout(p.ctx, e.publishTimeout)
	defer cancel()

	event := p.event
	if event.Type == TypeQueueStatsUpdate && event.Stats == nil && e.stats != nil {
		counts, err := e.stats.CountTasks(ctx, event.Queue)
		if err != nil {
			e.logger.WarnContext(ctx, "failed to read queue stats for event",
				logger.Queue(event.Queue),
				logger.Error(err))
			return
		}
		event.Stats = queue.FillStatusCounts(counts)
	}

	if err := e.publish(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "event sink failed",
			slog.String("type", string(event.Type)),
			logger.Queue(event.Queue),
			logger.Error(err))
	}
}

func (e *Emitter) publish(ctx context.Context, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return e.sink.Publish(ctx, event)
}
