package sqlitestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dsa110/taskq/pkg/queue"
)

type scanner interface {
	Scan(dest ...any) error
}

const taskColumns = `task_id, queue_name, task_name, params, status, priority, retry_count, max_retries,
    created_at, available_at, claimed_at, COALESCE(claimed_by, ''), last_heartbeat_at, completed_at,
    last_failed_at, result, COALESCE(error, ''), depends_on, workflow_id`

func scanTask(row scanner) (*queue.Task, error) {
	var (
		t                                         queue.Task
		id, params, status                        string
		createdAt, availableAt                    int64
		claimedAt, heartbeat, completed, failedAt sql.NullInt64
		result, workflowID                        sql.NullString
		dependsOn                                 string
	)
	err := row.Scan(
		&id, &t.Queue, &t.Name, &params, &status, &t.Priority, &t.RetryCount, &t.MaxRetries,
		&createdAt, &availableAt, &claimedAt, &t.ClaimedBy, &heartbeat, &completed,
		&failedAt, &result, &t.Error, &dependsOn, &workflowID,
	)
	if err != nil {
		return nil, err
	}

	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	t.Params = json.RawMessage(params)
	t.Status = queue.TaskStatus(status)
	t.CreatedAt = fromMillis(createdAt)
	t.AvailableAt = fromMillis(availableAt)
	t.ClaimedAt = nullTime(claimedAt)
	t.LastHeartbeatAt = nullTime(heartbeat)
	t.CompletedAt = nullTime(completed)
	t.LastFailedAt = nullTime(failedAt)
	if result.Valid && result.String != "" {
		t.Result = json.RawMessage(result.String)
	}
	if err := json.Unmarshal([]byte(dependsOn), &t.DependsOn); err != nil {
		return nil, fmt.Errorf("decode depends_on: %w", err)
	}
	if len(t.DependsOn) == 0 {
		t.DependsOn = nil
	}
	if workflowID.Valid {
		wid, err := uuid.Parse(workflowID.String)
		if err != nil {
			return nil, err
		}
		t.WorkflowID = &wid
	}
	return &t, nil
}

const deadLetterColumns = `id, original_task_id, original_task_name, original_queue, params, priority,
    max_retries, error, retry_count, worker_id, status, marker_task_id, retried_task_id, note,
    dead_lettered_at, updated_at`

func scanDeadLetter(row scanner) (*queue.DeadLetterEntry, error) {
	var (
		e                         queue.DeadLetterEntry
		id, origID, markerID      string
		params, status            string
		retriedID                 sql.NullString
		deadLetteredAt, updatedAt int64
	)
	err := row.Scan(
		&id, &origID, &e.OriginalTaskName, &e.OriginalQueue, &params, &e.Priority,
		&e.MaxRetries, &e.Error, &e.RetryCount, &e.WorkerID, &status, &markerID, &retriedID, &e.Note,
		&deadLetteredAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if e.OriginalTaskID, err = uuid.Parse(origID); err != nil {
		return nil, err
	}
	if e.MarkerTaskID, err = uuid.Parse(markerID); err != nil {
		return nil, err
	}
	if retriedID.Valid {
		rid, err := uuid.Parse(retriedID.String)
		if err != nil {
			return nil, err
		}
		e.RetriedTaskID = &rid
	}
	e.Params = json.RawMessage(params)
	e.Status = queue.DeadLetterStatus(status)
	e.DeadLetteredAt = fromMillis(deadLetteredAt)
	e.UpdatedAt = fromMillis(updatedAt)
	return &e, nil
}

const scheduleColumns = `name, spec, task_name, queue_name, params, priority, max_retries, enabled,
    next_run_at, last_run_at, created_at`

func scanSchedule(row scanner) (*queue.ScheduleDefinition, error) {
	var (
		d                    queue.ScheduleDefinition
		params               string
		nextRunAt, createdAt int64
		lastRunAt            sql.NullInt64
	)
	err := row.Scan(
		&d.Name, &d.Spec, &d.TaskName, &d.Queue, &params, &d.Priority, &d.MaxRetries, &d.Enabled,
		&nextRunAt, &lastRunAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	d.Params = json.RawMessage(params)
	d.NextRunAt = fromMillis(nextRunAt)
	d.LastRunAt = nullTime(lastRunAt)
	d.CreatedAt = fromMillis(createdAt)
	return &d, nil
}

// idList encodes task ids as a JSON array of strings.
func idList(ids []uuid.UUID) (string, error) {
	if len(ids) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

// jsonText stores raw JSON as text; empty becomes fallback.
func jsonText(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	return string(raw)
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
