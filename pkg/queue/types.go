package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is the default queue name used when no queue is specified
const DefaultQueueName = "default"

// DeadLetterSuffix is appended to a queue name to form its dead-letter queue.
const DeadLetterSuffix = "-dlq"

// DeadLetterTaskName names the marker tasks spawned on escalation.
// Markers are never claimed; they are cancelled once their entry is settled.
const DeadLetterTaskName = "dead-letter"

// DeadLetterSettled is the error recorded on a marker closed by an operator action.
const DeadLetterSettled = "dead letter settled"

// TaskStatus represents the status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusClaimed   TaskStatus = "claimed"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskStatuses lists every task status in lifecycle order.
var TaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusClaimed,
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusCancelled,
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusClaimed, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Task is a single unit of work persisted in the store.
// Params and Result are opaque JSON; decoding is the executor's business.
type Task struct {
	ID              uuid.UUID       `json:"task_id"`
	Queue           string          `json:"queue_name"`
	Name            string          `json:"task_name"`
	Params          json.RawMessage `json:"params"`
	Status          TaskStatus      `json:"status"`
	Priority        int             `json:"priority"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	CreatedAt       time.Time       `json:"created_at"`
	AvailableAt     time.Time       `json:"available_at"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
	ClaimedBy       string          `json:"claimed_by,omitempty"`
	LastHeartbeatAt *time.Time      `json:"last_heartbeat_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	LastFailedAt    *time.Time      `json:"last_failed_at,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	DependsOn       []uuid.UUID     `json:"depends_on,omitempty"`
	WorkflowID      *uuid.UUID      `json:"workflow_id,omitempty"`
}

// Blocked reports whether a pending task still waits on a dependency.
// statusOf returns false for dependencies that no longer exist; those count as met.
func (t *Task) Blocked(statusOf func(uuid.UUID) (TaskStatus, bool)) bool {
	if t.Status != TaskStatusPending {
		return false
	}
	for _, dep := range t.DependsOn {
		if status, ok := statusOf(dep); ok && status != TaskStatusCompleted {
			return true
		}
	}
	return false
}

// Stale reports whether a claimed task's heartbeat is older than staleBefore.
func (t *Task) Stale(staleBefore time.Time) bool {
	if t.Status != TaskStatusClaimed {
		return false
	}
	if t.LastHeartbeatAt == nil {
		return true
	}
	return t.LastHeartbeatAt.Before(staleBefore)
}

// TaskFilter narrows ListTasks results. Zero values mean "any".
type TaskFilter struct {
	Queue      string
	Name       string
	Statuses   []TaskStatus
	WorkflowID *uuid.UUID
	Limit      int
	Offset     int
}

// PruneParams selects terminal tasks to delete.
type PruneParams struct {
	OlderThan time.Time
	Queue     string
	Statuses  []TaskStatus
}

// FailParams carries everything FailTask needs to decide between retry and exhaustion.
type FailParams struct {
	TaskID   uuid.UUID
	WorkerID string
	Error    string
	Now      time.Time
	Backoff  Backoff
}

// ApplyFailure records a failure on a claimed task. While retries remain the task
// goes back to pending after a backoff and loses its claim. Otherwise it becomes
// failed and keeps the claim fields for attribution.
// The SQL stores encode the same rules in a single UPDATE.
func ApplyFailure(task *Task, params FailParams) {
	task.Error = params.Error
	task.LastFailedAt = timePtr(params.Now)

	if task.RetryCount < task.MaxRetries {
		task.AvailableAt = params.Now.Add(params.Backoff.Delay(task.RetryCount))
		task.RetryCount++
		task.Status = TaskStatusPending
		task.ClaimedBy = ""
		task.ClaimedAt = nil
		task.LastHeartbeatAt = nil
		return
	}

	task.Status = TaskStatusFailed
	task.CompletedAt = timePtr(params.Now)
}

// FailOutcome is returned by Client.Fail.
// Exhausted is true when the task reached the terminal failed status.
type FailOutcome struct {
	Task      *Task
	Exhausted bool
}

// DeadLetterStatus represents the operator-facing state of a dead-letter entry.
type DeadLetterStatus string

const (
	DeadLetterPending  DeadLetterStatus = "pending"
	DeadLetterRetrying DeadLetterStatus = "retrying"
	DeadLetterResolved DeadLetterStatus = "resolved"
	DeadLetterFailed   DeadLetterStatus = "failed"
)

// DeadLetterStatuses lists every dead-letter status.
var DeadLetterStatuses = []DeadLetterStatus{
	DeadLetterPending,
	DeadLetterRetrying,
	DeadLetterResolved,
	DeadLetterFailed,
}

// DeadLetterEntry is created once per task whose retries were exhausted.
type DeadLetterEntry struct {
	ID               uuid.UUID        `json:"id"`
	OriginalTaskID   uuid.UUID        `json:"original_task_id"`
	OriginalTaskName string           `json:"original_task_name"`
	OriginalQueue    string           `json:"original_queue"`
	Params           json.RawMessage  `json:"params"`
	Priority         int              `json:"priority"`
	MaxRetries       int              `json:"max_retries"`
	Error            string           `json:"error"`
	RetryCount       int              `json:"retry_count"`
	WorkerID         string           `json:"worker_id"`
	Status           DeadLetterStatus `json:"status"`
	MarkerTaskID     uuid.UUID        `json:"marker_task_id"`
	RetriedTaskID    *uuid.UUID       `json:"retried_task_id,omitempty"`
	Note             string           `json:"note,omitempty"`
	DeadLetteredAt   time.Time        `json:"dead_lettered_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// DeadLetterFilter narrows ListDeadLetters results.
type DeadLetterFilter struct {
	Statuses []DeadLetterStatus
	Queue    string
	Limit    int
	Offset   int
}

// ChainDefinition is the persisted form of a task chain.
type ChainDefinition struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tasks       []string  `json:"tasks"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Workflow groups tasks spawned together with dependencies between them.
// Its progress is derived from the member tasks.
type Workflow struct {
	ID          uuid.UUID `json:"workflow_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScheduleDefinition spawns TaskName into Queue whenever NextRunAt passes.
type ScheduleDefinition struct {
	Name       string          `json:"name"`
	Spec       string          `json:"spec"`
	TaskName   string          `json:"task_name"`
	Queue      string          `json:"queue_name"`
	Params     json.RawMessage `json:"params"`
	Priority   int             `json:"priority"`
	MaxRetries int             `json:"max_retries"`
	Enabled    bool            `json:"enabled"`
	NextRunAt  time.Time       `json:"next_run_at"`
	LastRunAt  *time.Time      `json:"last_run_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// WindowCounts aggregates outcomes inside a time window.
type WindowCounts struct {
	Completed int
	Failed    int
}

// LatencySample is one finished task's wait and execution time.
type LatencySample struct {
	Wait time.Duration
	Exec time.Duration
}

// WorkerActivity is what the task table says about a single worker.
type WorkerActivity struct {
	WorkerID       string
	Queue          string
	FirstSeen      time.Time
	LastSeen       time.Time
	TasksProcessed int
	ActiveClaims   int
	StaleClaims    int
}

// SchemaStatus is returned by Admin.SchemaStatus.
type SchemaStatus struct {
	Backend    string             `json:"backend"`
	Version    int64              `json:"version"`
	Tables     []TableStatus      `json:"tables"`
	Functions  []string           `json:"functions"`
	TaskCounts map[TaskStatus]int `json:"task_counts"`
}

// TableStatus describes one schema table.
type TableStatus struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
	Rows   int64  `json:"rows"`
}

// SchemaTables lists the tables every store creates.
var SchemaTables = []string{"tasks", "dead_letters", "task_chains", "schedules", "workflows"}
