package pgstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dsa110/taskq/pkg/queue"
)

func (s *Store) QueueDepth(ctx context.Context, queueName string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
SELECT count(*)
FROM tasks
WHERE status IN ('pending', 'claimed')
  AND task_name <> $2
  AND ($1::text = '' OR queue_name = $1)`, queueName, queue.DeadLetterTaskName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

func (s *Store) OldestPending(ctx context.Context, queueName string) (*time.Time, error) {
	var oldest *time.Time
	err := s.pool.QueryRow(ctx, `
SELECT min(c.created_at)
FROM tasks c
WHERE c.status = 'pending'
  AND c.task_name <> $2
  AND ($1::text = '' OR c.queue_name = $1)
  AND NOT EXISTS (
      SELECT 1 FROM tasks dep
      WHERE dep.task_id = ANY(c.depends_on) AND dep.status <> 'completed'
  )`, queueName, queue.DeadLetterTaskName).Scan(&oldest)
	if err != nil {
		return nil, fmt.Errorf("oldest pending: %w", err)
	}
	return utc(oldest), nil
}

func (s *Store) LastCompletedAt(ctx context.Context, queueName string) (*time.Time, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx, `
SELECT max(completed_at)
FROM tasks
WHERE status = 'completed' AND ($1::text = '' OR queue_name = $1)`, queueName).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last completed: %w", err)
	}
	return utc(last), nil
}

func (s *Store) WindowCounts(ctx context.Context, queueName string, since time.Time) (queue.WindowCounts, error) {
	var counts queue.WindowCounts
	err := s.pool.QueryRow(ctx, `
SELECT
    count(*) FILTER (WHERE status = 'completed' AND completed_at >= $2),
    count(*) FILTER (WHERE last_failed_at >= $2)
FROM tasks
WHERE ($1::text = '' OR queue_name = $1)`, queueName, since).Scan(&counts.Completed, &counts.Failed)
	if err != nil {
		return counts, fmt.Errorf("window counts: %w", err)
	}
	return counts, nil
}

func (s *Store) LatencySamples(ctx context.Context, queueName string, since time.Time, limit int) ([]queue.LatencySample, error) {
	query := `
SELECT created_at, claimed_at, completed_at
FROM tasks
WHERE status = 'completed'
  AND claimed_at IS NOT NULL
  AND completed_at >= $2
  AND ($1::text = '' OR queue_name = $1)
ORDER BY completed_at DESC`
	args := []any{queueName, since}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("latency samples: %w", err)
	}
	defer rows.Close()

	var samples []queue.LatencySample
	for rows.Next() {
		var created, claimed, completed time.Time
		if err := rows.Scan(&created, &claimed, &completed); err != nil {
			return nil, fmt.Errorf("scan latency sample: %w", err)
		}
		samples = append(samples, queue.LatencySample{
			Wait: claimed.Sub(created),
			Exec: completed.Sub(claimed),
		})
	}
	return samples, rows.Err()
}

func (s *Store) WorkerActivity(ctx context.Context, queueName string, since, staleBefore time.Time) ([]queue.WorkerActivity, error) {
	rows, err := s.pool.Query(ctx, `
WITH seen AS (
    SELECT claimed_by, queue_name, claimed_at, status, last_heartbeat_at,
           COALESCE(completed_at, last_heartbeat_at, claimed_at) AS seen_at
    FROM tasks
    WHERE claimed_by IS NOT NULL AND claimed_by <> ''
      AND claimed_at IS NOT NULL
      AND ($1::text = '' OR queue_name = $1)
)
SELECT claimed_by,
       (array_agg(queue_name ORDER BY seen_at DESC))[1],
       min(claimed_at),
       max(seen_at),
       count(*) FILTER (WHERE status IN ('completed', 'failed')),
       count(*) FILTER (WHERE status = 'claimed' AND last_heartbeat_at >= $3),
       count(*) FILTER (WHERE status = 'claimed' AND (last_heartbeat_at IS NULL OR last_heartbeat_at < $3))
FROM seen
WHERE seen_at >= $2
GROUP BY claimed_by`, queueName, since, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("worker activity: %w", err)
	}
	defer rows.Close()

	var out []queue.WorkerActivity
	for rows.Next() {
		var act queue.WorkerActivity
		if err := rows.Scan(&act.WorkerID, &act.Queue, &act.FirstSeen, &act.LastSeen,
			&act.TasksProcessed, &act.ActiveClaims, &act.StaleClaims); err != nil {
			return nil, fmt.Errorf("scan worker activity: %w", err)
		}
		act.FirstSeen = act.FirstSeen.UTC()
		act.LastSeen = act.LastSeen.UTC()
		out = append(out, act)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("worker activity: %w", err)
	}

	slices.SortFunc(out, func(a, b queue.WorkerActivity) int { return cmp.Compare(a.WorkerID, b.WorkerID) })
	return out, nil
}

func (s *Store) CountTimedOut(ctx context.Context, queueName string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
SELECT count(*)
FROM tasks
WHERE status = 'failed'
  AND lower(COALESCE(error, '')) LIKE '%timeout%'
  AND ($1::text = '' OR queue_name = $1)`, queueName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count timed out: %w", err)
	}
	return n, nil
}
