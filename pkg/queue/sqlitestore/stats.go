package sqlitestore

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/dsa110/taskq/pkg/queue"
)

func (s *Store) QueueDepth(ctx context.Context, queueName string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT count(*)
FROM tasks
WHERE status IN ('pending', 'claimed')
  AND task_name <> ?2
  AND (?1 = '' OR queue_name = ?1)`, queueName, queue.DeadLetterTaskName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

func (s *Store) OldestPending(ctx context.Context, queueName string) (*time.Time, error) {
	var oldest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT min(c.created_at)
FROM tasks c
WHERE c.status = 'pending'
  AND c.task_name <> ?2
  AND (?1 = '' OR c.queue_name = ?1)
  AND `+unblocked, queueName, queue.DeadLetterTaskName).Scan(&oldest)
	if err != nil {
		return nil, fmt.Errorf("oldest pending: %w", err)
	}
	return nullTime(oldest), nil
}

func (s *Store) LastCompletedAt(ctx context.Context, queueName string) (*time.Time, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT max(completed_at)
FROM tasks
WHERE status = 'completed' AND (?1 = '' OR queue_name = ?1)`, queueName).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last completed: %w", err)
	}
	return nullTime(last), nil
}

func (s *Store) WindowCounts(ctx context.Context, queueName string, since time.Time) (queue.WindowCounts, error) {
	var counts queue.WindowCounts
	err := s.db.QueryRowContext(ctx, `
SELECT
    COALESCE(sum(CASE WHEN status = 'completed' AND completed_at >= ?2 THEN 1 ELSE 0 END), 0),
    COALESCE(sum(CASE WHEN last_failed_at >= ?2 THEN 1 ELSE 0 END), 0)
FROM tasks
WHERE (?1 = '' OR queue_name = ?1)`, queueName, millis(since)).Scan(&counts.Completed, &counts.Failed)
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
  AND completed_at >= ?2
  AND (?1 = '' OR queue_name = ?1)
ORDER BY completed_at DESC` + limitOffset(limit, 0)

	rows, err := s.db.QueryContext(ctx, query, queueName, millis(since))
	if err != nil {
		return nil, fmt.Errorf("latency samples: %w", err)
	}
	defer rows.Close()

	var samples []queue.LatencySample
	for rows.Next() {
		var created, claimed, completed int64
		if err := rows.Scan(&created, &claimed, &completed); err != nil {
			return nil, fmt.Errorf("scan latency sample: %w", err)
		}
		samples = append(samples, queue.LatencySample{
			Wait: time.Duration(claimed-created) * time.Millisecond,
			Exec: time.Duration(completed-claimed) * time.Millisecond,
		})
	}
	return samples, rows.Err()
}

// WorkerActivity aggregates in Go; SQLite has no ordered array_agg to pick the latest queue.
func (s *Store) WorkerActivity(ctx context.Context, queueName string, since, staleBefore time.Time) ([]queue.WorkerActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT claimed_by, queue_name, status, claimed_at, last_heartbeat_at,
       COALESCE(completed_at, last_heartbeat_at, claimed_at) AS seen_at
FROM tasks
WHERE claimed_by IS NOT NULL AND claimed_by <> ''
  AND claimed_at IS NOT NULL
  AND COALESCE(completed_at, last_heartbeat_at, claimed_at) >= ?2
  AND (?1 = '' OR queue_name = ?1)`, queueName, millis(since))
	if err != nil {
		return nil, fmt.Errorf("worker activity: %w", err)
	}
	defer rows.Close()

	stale := millis(staleBefore)
	byWorker := make(map[string]*queue.WorkerActivity)
	for rows.Next() {
		var (
			worker, q, status string
			claimedAt, seenAt int64
			heartbeat         sql.NullInt64
		)
		if err := rows.Scan(&worker, &q, &status, &claimedAt, &heartbeat, &seenAt); err != nil {
			return nil, fmt.Errorf("scan worker activity: %w", err)
		}

		act, ok := byWorker[worker]
		if !ok {
			act = &queue.WorkerActivity{
				WorkerID:  worker,
				Queue:     q,
				FirstSeen: fromMillis(claimedAt),
				LastSeen:  fromMillis(seenAt),
			}
			byWorker[worker] = act
		}
		if first := fromMillis(claimedAt); first.Before(act.FirstSeen) {
			act.FirstSeen = first
		}
		if seen := fromMillis(seenAt); seen.After(act.LastSeen) {
			act.LastSeen = seen
			act.Queue = q
		}

		switch queue.TaskStatus(status) {
		case queue.TaskStatusCompleted, queue.TaskStatusFailed:
			act.TasksProcessed++
		case queue.TaskStatusClaimed:
			if !heartbeat.Valid || heartbeat.Int64 < stale {
				act.StaleClaims++
			} else {
				act.ActiveClaims++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("worker activity: %w", err)
	}

	out := make([]queue.WorkerActivity, 0, len(byWorker))
	for _, act := range byWorker {
		out = append(out, *act)
	}
	slices.SortFunc(out, func(a, b queue.WorkerActivity) int { return cmp.Compare(a.WorkerID, b.WorkerID) })
	return out, nil
}

func (s *Store) CountTimedOut(ctx context.Context, queueName string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT count(*)
FROM tasks
WHERE status = 'failed'
  AND instr(lower(COALESCE(error, '')), 'timeout') > 0
  AND (?1 = '' OR queue_name = ?1)`, queueName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count timed out: %w", err)
	}
	return n, nil
}
