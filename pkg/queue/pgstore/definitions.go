package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dsa110/taskq/pkg/queue"
)

func (s *Store) SaveChain(ctx context.Context, chain queue.ChainDefinition) error {
	tasks := chain.Tasks
	if tasks == nil {
		tasks = []string{}
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO task_chains (name, description, tasks, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (name) DO UPDATE
SET description = EXCLUDED.description,
    tasks = EXCLUDED.tasks,
    updated_at = EXCLUDED.updated_at`,
		chain.Name, chain.Description, tasks, chain.CreatedAt, chain.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save chain: %w", err)
	}
	return nil
}

func (s *Store) GetChain(ctx context.Context, name string) (*queue.ChainDefinition, error) {
	chain, err := scanChain(s.pool.QueryRow(ctx,
		`SELECT name, description, tasks, created_at, updated_at FROM task_chains WHERE name = $1`, name))
	if err != nil {
		return nil, notFound(err, queue.ErrChainNotFound)
	}
	return chain, nil
}

func (s *Store) ListChains(ctx context.Context) ([]queue.ChainDefinition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, description, tasks, created_at, updated_at FROM task_chains ORDER BY name COLLATE "C"`)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	defer rows.Close()

	var out []queue.ChainDefinition
	for rows.Next() {
		chain, err := scanChain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chain: %w", err)
		}
		out = append(out, *chain)
	}
	return out, rows.Err()
}

func scanChain(row pgx.Row) (*queue.ChainDefinition, error) {
	var c queue.ChainDefinition
	if err := row.Scan(&c.Name, &c.Description, &c.Tasks, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func (s *Store) DeleteChain(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM task_chains WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete chain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrChainNotFound
	}
	return nil
}

func (s *Store) SaveSchedule(ctx context.Context, def queue.ScheduleDefinition) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO schedules (
    name, spec, task_name, queue_name, params, priority, max_retries, enabled,
    next_run_at, last_run_at, created_at
) VALUES ($1, $2, $3, $4, COALESCE($5::jsonb, '{}'::jsonb), $6, $7, $8, $9, $10, $11)
ON CONFLICT (name) DO UPDATE
SET spec = EXCLUDED.spec,
    task_name = EXCLUDED.task_name,
    queue_name = EXCLUDED.queue_name,
    params = EXCLUDED.params,
    priority = EXCLUDED.priority,
    max_retries = EXCLUDED.max_retries,
    enabled = EXCLUDED.enabled,
    next_run_at = EXCLUDED.next_run_at,
    last_run_at = EXCLUDED.last_run_at`,
		def.Name, def.Spec, def.TaskName, def.Queue, jsonArg(def.Params), def.Priority, def.MaxRetries,
		def.Enabled, def.NextRunAt, def.LastRunAt, def.CreatedAt)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, name string) (*queue.ScheduleDefinition, error) {
	def, err := scanSchedule(s.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE name = $1`, name))
	if err != nil {
		return nil, notFound(err, queue.ErrScheduleNotFound)
	}
	return def, nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]queue.ScheduleDefinition, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY name COLLATE "C"`)
}

func (s *Store) DueSchedules(ctx context.Context, now time.Time, limit int) ([]queue.ScheduleDefinition, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE enabled AND next_run_at <= $1 ORDER BY next_run_at`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.querySchedules(ctx, query, args...)
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]queue.ScheduleDefinition, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []queue.ScheduleDefinition
	for rows.Next() {
		def, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *def)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSchedule(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrScheduleNotFound
	}
	return nil
}

func (s *Store) FireSchedule(ctx context.Context, name string, expectedNext, next, now time.Time, task *queue.Task) (bool, error) {
	var fired bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE schedules
SET next_run_at = $3, last_run_at = $4
WHERE name = $1 AND enabled AND next_run_at = $2`,
			name, expectedNext, next, now)
		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schedules WHERE name = $1)`, name).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return queue.ErrScheduleNotFound
			}
			return nil
		}

		if err := insertTask(ctx, tx, task); err != nil {
			return err
		}
		fired = true
		return nil
	})
	if errors.Is(err, queue.ErrScheduleNotFound) {
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("fire schedule: %w", err)
	}
	return fired, nil
}

func (s *Store) TriggerSchedule(ctx context.Context, name string, now time.Time, task *queue.Task) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE schedules SET last_run_at = $2 WHERE name = $1`, name, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return queue.ErrScheduleNotFound
		}
		return insertTask(ctx, tx, task)
	})
	if errors.Is(err, queue.ErrScheduleNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("trigger schedule: %w", err)
	}
	return nil
}
