package pgstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dsa110/taskq/pkg/pg"
	"github.com/dsa110/taskq/pkg/queue"
)

func (s *Store) CreateDeadLetter(ctx context.Context, entry *queue.DeadLetterEntry, marker *queue.Task) (*queue.DeadLetterEntry, bool, error) {
	var (
		stored  *queue.DeadLetterEntry
		created bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
INSERT INTO dead_letters (
    id, original_task_id, original_task_name, original_queue, params, priority, max_retries,
    error, retry_count, worker_id, status, marker_task_id, note, dead_lettered_at, updated_at
) VALUES ($1, $2, $3, $4, COALESCE($5::jsonb, '{}'::jsonb), $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (original_task_id) DO NOTHING
RETURNING `+deadLetterColumns,
			entry.ID, entry.OriginalTaskID, entry.OriginalTaskName, entry.OriginalQueue, jsonArg(entry.Params),
			entry.Priority, entry.MaxRetries, entry.Error, entry.RetryCount, entry.WorkerID,
			string(entry.Status), entry.MarkerTaskID, entry.Note, entry.DeadLetteredAt, entry.UpdatedAt)

		var err error
		stored, err = scanDeadLetter(row)
		if pg.IsNotFoundError(err) {
			// Already dead-lettered: hand back the existing entry, no new marker.
			stored, err = scanDeadLetter(tx.QueryRow(ctx,
				`SELECT `+deadLetterColumns+` FROM dead_letters WHERE original_task_id = $1`, entry.OriginalTaskID))
			return err
		}
		if err != nil {
			return err
		}

		created = true
		if marker == nil {
			return nil
		}
		return insertTask(ctx, tx, marker)
	})
	if err != nil {
		return nil, false, fmt.Errorf("create dead letter: %w", err)
	}
	return stored, created, nil
}

func (s *Store) GetDeadLetter(ctx context.Context, id uuid.UUID) (*queue.DeadLetterEntry, error) {
	entry, err := scanDeadLetter(s.pool.QueryRow(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, queue.ErrDeadLetterNotFound)
	}
	return entry, nil
}

func (s *Store) ListDeadLetters(ctx context.Context, filter queue.DeadLetterFilter) ([]queue.DeadLetterEntry, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Queue != "" {
		where = append(where, "original_queue = "+arg(filter.Queue))
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(statusStrings(filter.Statuses))+")")
	}

	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY dead_lettered_at ASC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []queue.DeadLetterEntry
	for rows.Next() {
		entry, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return out, nil
}

func (s *Store) RetryDeadLetter(ctx context.Context, id uuid.UUID, task *queue.Task, from []queue.DeadLetterStatus, now time.Time) (*queue.DeadLetterEntry, error) {
	var updated *queue.DeadLetterEntry
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		entry, err := lockDeadLetter(ctx, tx, id, from)
		if err != nil {
			return err
		}
		if err := insertTask(ctx, tx, task); err != nil {
			return err
		}
		if err := closeMarker(ctx, tx, entry.MarkerTaskID, now); err != nil {
			return err
		}

		updated, err = scanDeadLetter(tx.QueryRow(ctx, `
UPDATE dead_letters
SET status = 'retrying', retried_task_id = $2, updated_at = $3
WHERE id = $1
RETURNING `+deadLetterColumns, entry.ID, task.ID, now))
		return err
	})
	if err != nil {
		return nil, wrapDeadLetterErr("retry dead letter", err)
	}
	return updated, nil
}

func (s *Store) UpdateDeadLetterStatus(ctx context.Context, id uuid.UUID, from []queue.DeadLetterStatus, to queue.DeadLetterStatus, note string, now time.Time) (*queue.DeadLetterEntry, error) {
	var updated *queue.DeadLetterEntry
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		entry, err := lockDeadLetter(ctx, tx, id, from)
		if err != nil {
			return err
		}
		if err := closeMarker(ctx, tx, entry.MarkerTaskID, now); err != nil {
			return err
		}

		updated, err = scanDeadLetter(tx.QueryRow(ctx, `
UPDATE dead_letters
SET status = $2,
    note = CASE WHEN $3::text = '' THEN note ELSE $3 END,
    updated_at = $4
WHERE id = $1
RETURNING `+deadLetterColumns, id, string(to), note, now))
		return err
	})
	if err != nil {
		return nil, wrapDeadLetterErr("update dead letter", err)
	}
	return updated, nil
}

// lockDeadLetter selects the entry FOR UPDATE and checks it is in one of from.
func lockDeadLetter(ctx context.Context, tx pgx.Tx, id uuid.UUID, from []queue.DeadLetterStatus) (*queue.DeadLetterEntry, error) {
	entry, err := scanDeadLetter(tx.QueryRow(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, queue.ErrDeadLetterNotFound)
	}
	if !slices.Contains(from, entry.Status) {
		return nil, queue.ErrInvalidDeadLetterTransition
	}
	return entry, nil
}

// closeMarker cancels the entry's marker task if it is still open.
func closeMarker(ctx context.Context, db dbtx, markerID uuid.UUID, now time.Time) error {
	_, err := db.Exec(ctx, `
UPDATE tasks
SET status = 'cancelled', error = $2, completed_at = $3
WHERE task_id = $1 AND status IN ('pending', 'claimed')`,
		markerID, queue.DeadLetterSettled, now)
	if err != nil {
		return fmt.Errorf("close marker: %w", err)
	}
	return nil
}

func wrapDeadLetterErr(op string, err error) error {
	switch {
	case errors.Is(err, queue.ErrDeadLetterNotFound),
		errors.Is(err, queue.ErrInvalidDeadLetterTransition),
		errors.Is(err, queue.ErrTaskExists):
		return err
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (s *Store) DeleteDeadLetter(ctx context.Context, id uuid.UUID, now time.Time) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var markerID uuid.UUID
		err := tx.QueryRow(ctx,
			`DELETE FROM dead_letters WHERE id = $1 RETURNING marker_task_id`, id).Scan(&markerID)
		if err != nil {
			return notFound(err, queue.ErrDeadLetterNotFound)
		}
		return closeMarker(ctx, tx, markerID, now)
	})
	if err != nil {
		return wrapDeadLetterErr("delete dead letter", err)
	}
	return nil
}

func (s *Store) CountDeadLetters(ctx context.Context) (map[queue.DeadLetterStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM dead_letters GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count dead letters: %w", err)
	}
	defer rows.Close()

	counts := make(map[queue.DeadLetterStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan dead letter count: %w", err)
		}
		counts[queue.DeadLetterStatus(status)] = n
	}
	return counts, rows.Err()
}
