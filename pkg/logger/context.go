package logger

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type taskCtxKey struct{}

type taskRef struct {
	id    uuid.UUID
	name  string
	queue string
}

// WithTask returns a context that tags every log record written through it
// with the task's id, name and queue. Records only pick the tags up when the
// logger was built with TaskExtractor.
func WithTask(ctx context.Context, id uuid.UUID, name, queue string) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, taskRef{id: id, name: name, queue: queue})
}

// TaskFromContext returns the task id stored by WithTask.
func TaskFromContext(ctx context.Context) (uuid.UUID, bool) {
	ref, ok := ctx.Value(taskCtxKey{}).(taskRef)
	return ref.id, ok
}

// TaskExtractor emits a "task" group for contexts tagged by WithTask.
func TaskExtractor() ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		ref, ok := ctx.Value(taskCtxKey{}).(taskRef)
		if !ok {
			return slog.Attr{}, false
		}
		return Group("task",
			slog.String("id", ref.id.String()),
			slog.String("name", ref.name),
			slog.String("queue", ref.queue),
		), true
	}
}
