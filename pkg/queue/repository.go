package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskRepository is the persistence contract behind Client.
// Every mutating method must be a single atomic statement or transaction.
type TaskRepository interface {
	// CreateTask inserts a new pending task
	CreateTask(ctx context.Context, task *Task) error

	// ClaimTask atomically claims the highest priority, oldest eligible task in queue.
	// Eligible: pending with available_at <= now and every existing dependency completed,
	// or claimed with last_heartbeat_at < staleBefore.
	// Returns ErrNoTaskToClaim when nothing is eligible.
	ClaimTask(ctx context.Context, queue, workerID string, now, staleBefore time.Time) (*Task, error)

	// HeartbeatTask extends the claim if workerID still holds it and it has not gone stale
	HeartbeatTask(ctx context.Context, taskID uuid.UUID, workerID string, now, staleBefore time.Time) (bool, error)

	// CompleteTask moves a task claimed by workerID to completed, or returns ErrClaimLost
	CompleteTask(ctx context.Context, taskID uuid.UUID, workerID string, result json.RawMessage, now time.Time) error

	// FailTask records a failure and either re-queues the task with backoff or marks it failed.
	// Returns the updated task or ErrClaimLost.
	FailTask(ctx context.Context, params FailParams) (*Task, error)

	// CancelTask moves a pending or claimed task to cancelled
	CancelTask(ctx context.Context, taskID uuid.UUID, now time.Time) (bool, error)

	GetTask(ctx context.Context, taskID uuid.UUID) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)

	// CountTasks returns task counts per status; an empty queue means all queues
	CountTasks(ctx context.Context, queue string) (map[TaskStatus]int, error)

	// PruneTasks deletes terminal tasks finished before OlderThan
	PruneTasks(ctx context.Context, params PruneParams) (int64, error)
}

// DeadLetterRepository is the persistence contract behind DeadLetterQueue.
type DeadLetterRepository interface {
	// CreateDeadLetter stores entry and inserts marker in one transaction.
	// If an entry for entry.OriginalTaskID exists, it is returned with created=false and marker is not inserted.
	CreateDeadLetter(ctx context.Context, entry *DeadLetterEntry, marker *Task) (*DeadLetterEntry, bool, error)

	GetDeadLetter(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error)
	ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]DeadLetterEntry, error)

	// RetryDeadLetter inserts task and moves the entry to retrying, atomically.
	// Only entries in one of from may be retried. The entry's marker is closed in the same transaction.
	RetryDeadLetter(ctx context.Context, id uuid.UUID, task *Task, from []DeadLetterStatus, now time.Time) (*DeadLetterEntry, error)

	// UpdateDeadLetterStatus moves an entry in one of from to status and closes its marker
	UpdateDeadLetterStatus(ctx context.Context, id uuid.UUID, from []DeadLetterStatus, to DeadLetterStatus, note string, now time.Time) (*DeadLetterEntry, error)

	// DeleteDeadLetter removes the entry and closes its marker
	DeleteDeadLetter(ctx context.Context, id uuid.UUID, now time.Time) error
	CountDeadLetters(ctx context.Context) (map[DeadLetterStatus]int, error)
}

// StatsRepository exposes the time-bounded aggregations the monitor needs.
type StatsRepository interface {
	Ping(ctx context.Context) error
	CountTasks(ctx context.Context, queue string) (map[TaskStatus]int, error)
	// QueueDepth counts pending and claimed tasks a worker can act on, leaving out dead-letter markers
	QueueDepth(ctx context.Context, queue string) (int, error)
	// OldestPending ignores dead-letter markers and tasks blocked on dependencies
	OldestPending(ctx context.Context, queue string) (*time.Time, error)
	LastCompletedAt(ctx context.Context, queue string) (*time.Time, error)
	WindowCounts(ctx context.Context, queue string, since time.Time) (WindowCounts, error)
	LatencySamples(ctx context.Context, queue string, since time.Time, limit int) ([]LatencySample, error)
	WorkerActivity(ctx context.Context, queue string, since, staleBefore time.Time) ([]WorkerActivity, error)
	CountTimedOut(ctx context.Context, queue string) (int, error)
}

// ChainRepository persists task chain definitions.
type ChainRepository interface {
	SaveChain(ctx context.Context, chain ChainDefinition) error
	GetChain(ctx context.Context, name string) (*ChainDefinition, error)
	ListChains(ctx context.Context) ([]ChainDefinition, error)
	DeleteChain(ctx context.Context, name string) error
}

// ScheduleRepository persists schedules and fires them exactly once per slot.
type ScheduleRepository interface {
	SaveSchedule(ctx context.Context, def ScheduleDefinition) error
	GetSchedule(ctx context.Context, name string) (*ScheduleDefinition, error)
	ListSchedules(ctx context.Context) ([]ScheduleDefinition, error)
	DeleteSchedule(ctx context.Context, name string) error

	// DueSchedules returns enabled schedules with next_run_at <= now
	DueSchedules(ctx context.Context, now time.Time, limit int) ([]ScheduleDefinition, error)

	// FireSchedule advances next_run_at from expectedNext to next and inserts task, atomically.
	// Returns false without inserting when another scheduler already advanced it.
	FireSchedule(ctx context.Context, name string, expectedNext, next, now time.Time, task *Task) (bool, error)

	// TriggerSchedule inserts task and stamps last_run_at without touching
	// next_run_at. Disabled schedules can be triggered.
	TriggerSchedule(ctx context.Context, name string, now time.Time, task *Task) error
}

// WorkflowRepository persists workflows. Member tasks live in the task table.
type WorkflowRepository interface {
	// CreateWorkflow stores wf and inserts tasks in one transaction
	CreateWorkflow(ctx context.Context, wf Workflow, tasks []*Task) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error)
	// ListWorkflows returns the newest workflows first
	ListWorkflows(ctx context.Context, limit int) ([]Workflow, error)
}

// Admin is the schema administration surface.
type Admin interface {
	// Migrate creates or upgrades the schema; safe to call repeatedly
	Migrate(ctx context.Context) error
	SchemaStatus(ctx context.Context) (*SchemaStatus, error)
	// Reset drops and recreates the schema; confirmed must be true
	Reset(ctx context.Context, confirmed bool) error
}

// Store is implemented by every backend.
type Store interface {
	TaskRepository
	DeadLetterRepository
	StatsRepository
	ChainRepository
	ScheduleRepository
	WorkflowRepository
	Admin
	Close() error
}
