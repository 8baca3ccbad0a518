package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dsa110/taskq/pkg/queue"
)

func (s *Store) SaveChain(ctx context.Context, chain queue.ChainDefinition) error {
	tasks := chain.Tasks
	if tasks == nil {
		tasks = []string{}
	}
	encoded, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("encode chain tasks: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO task_chains (name, description, tasks, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE
SET description = excluded.description,
    tasks = excluded.tasks,
    updated_at = excluded.updated_at`,
		chain.Name, chain.Description, string(encoded), millis(chain.CreatedAt), millis(chain.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save chain: %w", err)
	}
	return nil
}

const chainColumns = `name, description, tasks, created_at, updated_at`

func scanChain(row scanner) (*queue.ChainDefinition, error) {
	var (
		c                    queue.ChainDefinition
		tasks                string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&c.Name, &c.Description, &tasks, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tasks), &c.Tasks); err != nil {
		return nil, fmt.Errorf("decode chain %s tasks: %w", c.Name, err)
	}
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

func (s *Store) GetChain(ctx context.Context, name string) (*queue.ChainDefinition, error) {
	chain, err := scanChain(s.db.QueryRowContext(ctx,
		`SELECT `+chainColumns+` FROM task_chains WHERE name = ?`, name))
	if err != nil {
		return nil, notFound(err, queue.ErrChainNotFound)
	}
	return chain, nil
}

func (s *Store) ListChains(ctx context.Context) ([]queue.ChainDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chainColumns+` FROM task_chains ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	defer rows.Close()

	var out []queue.ChainDefinition
	for rows.Next() {
		chain, err := scanChain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *chain)
	}
	return out, rows.Err()
}

func (s *Store) DeleteChain(ctx context.Context, name string) error {
	return deleteByName(ctx, s.db, "task_chains", name, queue.ErrChainNotFound)
}

func (s *Store) SaveSchedule(ctx context.Context, def queue.ScheduleDefinition) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO schedules (
    name, spec, task_name, queue_name, params, priority, max_retries, enabled,
    next_run_at, last_run_at, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE
SET spec = excluded.spec,
    task_name = excluded.task_name,
    queue_name = excluded.queue_name,
    params = excluded.params,
    priority = excluded.priority,
    max_retries = excluded.max_retries,
    enabled = excluded.enabled,
    next_run_at = excluded.next_run_at,
    last_run_at = excluded.last_run_at`,
		def.Name, def.Spec, def.TaskName, def.Queue, jsonText(def.Params, "{}"), def.Priority, def.MaxRetries,
		def.Enabled, millis(def.NextRunAt), nullMillis(def.LastRunAt), millis(def.CreatedAt))
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, name string) (*queue.ScheduleDefinition, error) {
	def, err := scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE name = ?`, name))
	if err != nil {
		return nil, notFound(err, queue.ErrScheduleNotFound)
	}
	return def, nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]queue.ScheduleDefinition, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY name`)
}

func (s *Store) DueSchedules(ctx context.Context, now time.Time, limit int) ([]queue.ScheduleDefinition, error) {
	return s.querySchedules(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE enabled = 1 AND next_run_at <= ? ORDER BY next_run_at`+limitOffset(limit, 0),
		millis(now))
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]queue.ScheduleDefinition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	return deleteByName(ctx, s.db, "schedules", name, queue.ErrScheduleNotFound)
}

func (s *Store) FireSchedule(ctx context.Context, name string, expectedNext, next, now time.Time, task *queue.Task) (bool, error) {
	var fired bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE schedules
SET next_run_at = ?, last_run_at = ?
WHERE name = ? AND enabled = 1 AND next_run_at = ?`,
			millis(next), millis(now), name, millis(expectedNext))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM schedules WHERE name = ?`, name).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
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

// deleteByName removes one row keyed by name from table, a fixed identifier.
func deleteByName(ctx context.Context, q querier, table, name string, notFoundErr error) error {
	res, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if n == 0 {
		return notFoundErr
	}
	return nil
}

func (s *Store) TriggerSchedule(ctx context.Context, name string, now time.Time, task *queue.Task) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE schedules SET last_run_at = ? WHERE name = ?`, millis(now), name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
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
