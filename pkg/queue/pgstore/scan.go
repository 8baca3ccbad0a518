package pgstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dsa110/taskq/pkg/queue"
)

// scanTask reads a row selected with taskColumns.
func scanTask(row pgx.Row) (*queue.Task, error) {
	var (
		t              queue.Task
		status         string
		params, result []byte
	)
	err := row.Scan(
		&t.ID, &t.Queue, &t.Name, &params, &status, &t.Priority, &t.RetryCount, &t.MaxRetries,
		&t.CreatedAt, &t.AvailableAt, &t.ClaimedAt, &t.ClaimedBy, &t.LastHeartbeatAt, &t.CompletedAt,
		&t.LastFailedAt, &result, &t.Error, &t.DependsOn, &t.WorkflowID,
	)
	if err != nil {
		return nil, err
	}

	t.Status = queue.TaskStatus(status)
	t.Params = json.RawMessage(params)
	if len(result) > 0 {
		t.Result = json.RawMessage(result)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.AvailableAt = t.AvailableAt.UTC()
	t.ClaimedAt = utc(t.ClaimedAt)
	t.LastHeartbeatAt = utc(t.LastHeartbeatAt)
	t.CompletedAt = utc(t.CompletedAt)
	t.LastFailedAt = utc(t.LastFailedAt)
	if len(t.DependsOn) == 0 {
		t.DependsOn = nil
	}
	return &t, nil
}

const deadLetterColumns = `id, original_task_id, original_task_name, original_queue, params, priority,
    max_retries, error, retry_count, worker_id, status, marker_task_id, retried_task_id, note,
    dead_lettered_at, updated_at`

func scanDeadLetter(row pgx.Row) (*queue.DeadLetterEntry, error) {
	var (
		e      queue.DeadLetterEntry
		status string
		params []byte
	)
	err := row.Scan(
		&e.ID, &e.OriginalTaskID, &e.OriginalTaskName, &e.OriginalQueue, &params, &e.Priority,
		&e.MaxRetries, &e.Error, &e.RetryCount, &e.WorkerID, &status, &e.MarkerTaskID, &e.RetriedTaskID, &e.Note,
		&e.DeadLetteredAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = queue.DeadLetterStatus(status)
	e.Params = json.RawMessage(params)
	e.DeadLetteredAt = e.DeadLetteredAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

const scheduleColumns = `name, spec, task_name, queue_name, params, priority, max_retries, enabled,
    next_run_at, last_run_at, created_at`

func scanSchedule(row pgx.Row) (*queue.ScheduleDefinition, error) {
	var (
		d      queue.ScheduleDefinition
		params []byte
	)
	err := row.Scan(
		&d.Name, &d.Spec, &d.TaskName, &d.Queue, &params, &d.Priority, &d.MaxRetries, &d.Enabled,
		&d.NextRunAt, &d.LastRunAt, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Params = json.RawMessage(params)
	d.NextRunAt = d.NextRunAt.UTC()
	d.LastRunAt = utc(d.LastRunAt)
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

// jsonArg passes raw JSON as text so pgx sends it unchanged; empty becomes NULL.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// idArray never returns nil so depends_on stays NOT NULL.
func idArray(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
