package logger

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// TaskID records the task identifier under the key "task_id".
// The zero UUID yields an empty Attr.
func TaskID(id uuid.UUID) slog.Attr {
	if id == uuid.Nil {
		return slog.Attr{}
	}
	return slog.String("task_id", id.String())
}

// TaskName records the registered handler name under the key "task_name".
func TaskName(name string) slog.Attr {
	return slog.String("task_name", name)
}

// Queue records the queue name under the key "queue".
func Queue(name string) slog.Attr {
	return slog.String("queue", name)
}

// WorkerID records the worker identifier under the key "worker_id".
// If id is empty, it returns an empty Attr.
func WorkerID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("worker_id", id)
}

// ChainName records the chain name under the key "chain_name".
func ChainName(name string) slog.Attr {
	return slog.String("chain_name", name)
}

// DeadLetterID records a dead letter entry id under the key "dead_letter_id".
func DeadLetterID(id uuid.UUID) slog.Attr {
	if id == uuid.Nil {
		return slog.Attr{}
	}
	return slog.String("dead_letter_id", id.String())
}

// WorkflowID records a workflow id under the key "workflow_id".
func WorkflowID(id uuid.UUID) slog.Attr {
	if id == uuid.Nil {
		return slog.Attr{}
	}
	return slog.String("workflow_id", id.String())
}

// RetryCount records the retry count under the key "retry_count".
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
