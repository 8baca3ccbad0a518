package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dsa110/taskq/pkg/pg"
	"github.com/dsa110/taskq/pkg/queue"
)

const taskColumns = `task_id, queue_name, task_name, params, status, priority, retry_count, max_retries,
    created_at, available_at, claimed_at, COALESCE(claimed_by, ''), last_heartbeat_at, completed_at,
    last_failed_at, result, COALESCE(error, ''), depends_on, workflow_id`

func (s *Store) CreateTask(ctx context.Context, task *queue.Task) error {
	if task == nil {
		return queue.ErrTaskNotFound
	}
	if err := insertTask(ctx, s.pool, task); err != nil {
		return err
	}
	return nil
}

func insertTask(ctx context.Context, db dbtx, task *queue.Task) error {
	_, err := db.Exec(ctx, `
INSERT INTO tasks (
    task_id, queue_name, task_name, params, status, priority, retry_count, max_retries,
    created_at, available_at, depends_on, workflow_id
) VALUES ($1, $2, $3, COALESCE($4::jsonb, '{}'::jsonb), $5, $6, $7, $8, $9, $10, $11::uuid[], $12)`,
		task.ID, task.Queue, task.Name, jsonArg(task.Params), string(task.Status),
		task.Priority, task.RetryCount, task.MaxRetries, task.CreatedAt, task.AvailableAt,
		idArray(task.DependsOn), task.WorkflowID,
	)
	if pg.IsDuplicateKeyError(err) {
		return queue.ErrTaskExists
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) ClaimTask(ctx context.Context, queueName, workerID string, now, staleBefore time.Time) (*queue.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM taskq_claim_task($1, $2, $3, $4)`,
		queueName, workerID, now, staleBefore)

	task, err := scanTask(row)
	if pg.IsNotFoundError(err) {
		return nil, queue.ErrNoTaskToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

func (s *Store) HeartbeatTask(ctx context.Context, taskID uuid.UUID, workerID string, now, staleBefore time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks
SET last_heartbeat_at = $3
WHERE task_id = $1
  AND status = 'claimed'
  AND claimed_by = $2
  AND last_heartbeat_at >= $4`,
		taskID, workerID, now, staleBefore)
	if err != nil {
		return false, fmt.Errorf("heartbeat task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CompleteTask(ctx context.Context, taskID uuid.UUID, workerID string, result json.RawMessage, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks
SET status = 'completed', result = $3, completed_at = $4
WHERE task_id = $1 AND status = 'claimed' AND claimed_by = $2`,
		taskID, workerID, jsonArg(result), now)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
        THEN $3::timestamptz + interval '1 millisecond' * (
            CASE WHEN $4::bigint > ($5::bigint >> LEAST(retry_count, $6::int))
                 THEN $5::bigint
                 ELSE $4::bigint << LEAST(retry_count, $6::int)
            END)
        ELSE available_at END,
    claimed_at = CASE WHEN retry_count < max_retries THEN NULL ELSE claimed_at END,
    claimed_by = CASE WHEN retry_count < max_retries THEN NULL ELSE claimed_by END,
    last_heartbeat_at = CASE WHEN retry_count < max_retries THEN NULL ELSE last_heartbeat_at END,
    completed_at = CASE WHEN retry_count < max_retries THEN completed_at ELSE $3::timestamptz END,
    retry_count = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
    last_failed_at = $3::timestamptz,
    error = $7
WHERE task_id = $1 AND status = 'claimed' AND claimed_by = $2
RETURNING `

func (s *Store) FailTask(ctx context.Context, params queue.FailParams) (*queue.Task, error) {
	task, err := scanTask(s.pool.QueryRow(ctx, failTaskSQL+taskColumns,
		params.TaskID, params.WorkerID, params.Now, params.Backoff.BaseMillis(), params.Backoff.LimitMillis(),
		queue.MaxBackoffShift, params.Error))
	if pg.IsNotFoundError(err) {
		return nil, queue.ErrClaimLost
	}
	if err != nil {
		return nil, fmt.Errorf("fail task: %w", err)
	}
	return task, nil
}

func (s *Store) CancelTask(ctx context.Context, taskID uuid.UUID, now time.Time) (bool, error) {
	var cancelled bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM tasks WHERE task_id = $1 FOR UPDATE`, taskID).Scan(&status)
		if err != nil {
			return notFound(err, queue.ErrTaskNotFound)
		}
		if queue.TaskStatus(status).Terminal() {
			return nil
		}

		_, err = tx.Exec(ctx, `
UPDATE tasks
SET status = 'cancelled', error = $2, completed_at = $3
WHERE task_id = $1`,
			taskID, queue.CancelledByUser, now)
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
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID)
	task, err := scanTask(row)
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
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Queue != "" {
		where = append(where, "queue_name = "+arg(filter.Queue))
	}
	if filter.Name != "" {
		where = append(where, "task_name = "+arg(filter.Name))
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(statusStrings(filter.Statuses))+")")
	}
	if filter.WorkflowID != nil {
		where = append(where, "workflow_id = "+arg(*filter.WorkflowID))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, task_id`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
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
	rows, err := s.pool.Query(ctx, `
SELECT status, count(*)
FROM tasks
WHERE ($1::text = '' OR queue_name = $1)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	return counts, nil
}

func (s *Store) PruneTasks(ctx context.Context, params queue.PruneParams) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM tasks
WHERE status = ANY($1)
  AND completed_at < $2
  AND ($3::text = '' OR queue_name = $3)`,
		statusStrings(params.Statuses), params.OlderThan, params.Queue)
	if err != nil {
		return 0, fmt.Errorf("prune tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}
