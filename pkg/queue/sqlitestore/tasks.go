package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dsa110/taskq/pkg/queue"
)

func (s *Store) CreateTask(ctx context.Context, task *queue.Task) error {
	if task == nil {
		return queue.ErrTaskNotFound
	}
	return insertTask(ctx, s.db, task)
}

func insertTask(ctx context.Context, q querier, task *queue.Task) error {
	deps, err := idList(task.DependsOn)
	if err != nil {
		return fmt.Errorf("encode depends_on: %w", err)
	}
	_, err = q.ExecContext(ctx, `
INSERT INTO tasks (
    task_id, queue_name, task_name, params, status, priority, retry_count, max_retries,
    created_at, available_at, depends_on, workflow_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID.String(), task.Queue, task.Name, jsonText(task.Params, "{}"), string(task.Status),
		task.Priority, task.RetryCount, task.MaxRetries, millis(task.CreatedAt), millis(task.AvailableAt),
		deps, nullUUID(task.WorkflowID),
	)
	if isConstraintError(err) {
		return queue.ErrTaskExists
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// isConstraintError detects primary key and unique violations.
func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// unblocked holds for tasks aliased c whose existing dependencies all completed.
const unblocked = `NOT EXISTS (
    SELECT 1 FROM json_each(c.depends_on) d
    JOIN tasks dep ON dep.task_id = d.value
    WHERE dep.status <> 'completed'
)`

func (s *Store) ClaimTask(ctx context.Context, queueName, workerID string, now, staleBefore time.Time) (*queue.Task, error) {
	row := s.db.QueryRowContext(ctx, `
UPDATE tasks
SET status = 'claimed', claimed_by = ?, claimed_at = ?, last_heartbeat_at = ?
WHERE task_id = (
    SELECT c.task_id FROM tasks c
    WHERE c.queue_name = ?
      AND c.task_name <> ?
      AND (
            (c.status = 'pending' AND c.available_at <= ? AND `+unblocked+`)
         OR (c.status = 'claimed' AND (c.last_heartbeat_at IS NULL OR c.last_heartbeat_at < ?))
      )
    ORDER BY c.priority DESC, c.created_at ASC
    LIMIT 1
)
RETURNING `+taskColumns,
		workerID, millis(now), millis(now), queueName, queue.DeadLetterTaskName, millis(now), millis(staleBefore))

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrNoTaskToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

func (s *Store) HeartbeatTask(ctx context.Context, taskID uuid.UUID, workerID string, now, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks
SET last_heartbeat_at = ?
WHERE task_id = ? AND status = 'claimed' AND claimed_by = ? AND last_heartbeat_at >= ?`,
		millis(now), taskID.String(), workerID, millis(staleBefore))
	if err != nil {
		return false, fmt.Errorf("heartbeat task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat task: %w", err)
	}
	return n == 1, nil
}

func (s *Store) CompleteTask(ctx context.Context, taskID uuid.UUID, workerID string, result json.RawMessage, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks
SET status = 'completed', result = ?, completed_at = ?
WHERE task_id = ? AND status = 'claimed' AND claimed_by = ?`,
		nullJSON(result), millis(now), taskID.String(), workerID)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("complete task: %w", err)
	} else if n == 0 {
		return queue.ErrClaimLost
	}
	return nil
}

// failTaskSQL applies queue.ApplyFailure in one statement. The right-hand
// sides all read the pre-update row, so retry_count is the count before this failure.
const failTaskSQL = `
UPDATE tasks
SET status = CASE WHEN retry_count < max_retries THEN 'pending' ELSE 'failed' END,
    available_at = CASE WHEN retry_count < max_retries
        THEN ?2 + CASE WHEN ?3 > (?4 >> min(retry_count, ?5)) THEN ?4 ELSE ?3 << min(retry_count, ?5) END
        ELSE available_at END,
    claimed_at = CASE WHEN retry_count < max_retries THEN NULL ELSE claimed_at END,
    claimed_by = CASE WHEN retry_count < max_retries THEN NULL ELSE claimed_by END,
    last_heartbeat_at = CASE WHEN retry_count < max_retries THEN NULL ELSE last_heartbeat_at END,
    completed_at = CASE WHEN retry_count < max_retries THEN completed_at ELSE ?2 END,
    retry_count = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
    last_failed_at = ?2,
    error = ?1
WHERE task_id = ?6 AND status = 'claimed' AND claimed_by = ?7
RETURNING `

func (s *Store) FailTask(ctx context.Context, params queue.FailParams) (*queue.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx, failTaskSQL+taskColumns,
		params.Error, millis(params.Now), params.Backoff.BaseMillis(), params.Backoff.LimitMillis(),
		queue.MaxBackoffShift, params.TaskID.String(), params.WorkerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrClaimLost
	}
	if err != nil {
		return nil, fmt.Errorf("fail task: %w", err)
	}
	return task, nil
}

func (s *Store) CancelTask(ctx context.Context, taskID uuid.UUID, now time.Time) (bool, error) {
	var cancelled bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE task_id = ?`, taskID.String()).Scan(&status)
		if err != nil {
			return notFound(err, queue.ErrTaskNotFound)
		}
		if queue.TaskStatus(status).Terminal() {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
UPDATE tasks
SET status = 'cancelled', error = ?, completed_at = ?
WHERE task_id = ?`,
			queue.CancelledByUser, millis(now), taskID.String())
		cancelled = err == nil
		return err
	})
	if errors.Is(err, queue.ErrTaskNotFound) {
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("cancel task: %w", err)
	}
	return cancelled, nil
}

func (s *Store) GetTask(ctx context.Context, taskID uuid.UUID) (*queue.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID.String()))
	if err != nil {
		return nil, notFound(err, queue.ErrTaskNotFound)
	}
	return task, nil
}

func (s *Store) ListTasks(ctx context.Context, filter queue.TaskFilter) ([]queue.Task, error) {
	var (
		where []string
		args  []any
	)
	if filter.Queue != "" {
		where = append(where, "queue_name = ?")
		args = append(args, filter.Queue)
	}
	if filter.Name != "" {
		where = append(where, "task_name = ?")
		args = append(args, filter.Name)
	}
	if len(filter.Statuses) > 0 {
		clause, statusArgs := inClause("status", filter.Statuses)
		where = append(where, clause)
		args = append(args, statusArgs...)
	}
	if filter.WorkflowID != nil {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID.String())
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, task_id` + limitOffset(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []queue.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

func (s *Store) CountTasks(ctx context.Context, queueName string) (map[queue.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT status, count(*)
FROM tasks
WHERE (?1 = '' OR queue_name = ?1)
GROUP BY status`, queueName)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[queue.TaskStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[queue.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) PruneTasks(ctx context.Context, params queue.PruneParams) (int64, error) {
	if len(params.Statuses) == 0 {
		return 0, nil
	}

	clause, args := inClause("status", params.Statuses)
	query := `DELETE FROM tasks WHERE ` + clause + ` AND completed_at < ?`
	args = append(args, millis(params.OlderThan))
	if params.Queue != "" {
		query += ` AND queue_name = ?`
		args = append(args, params.Queue)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune tasks: %w", err)
	}
	return res.RowsAffected()
}

// inClause renders "column IN (?, ?, ...)" for values.
func inClause[S ~string](column string, values []S) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = string(v)
	}
	return column + " IN (" + strings.Join(marks, ", ") + ")", args
}

func limitOffset(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	default:
		return ""
	}
}
