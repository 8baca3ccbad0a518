package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dsa110/taskq/pkg/queue"
)

func (s *Store) CreateDeadLetter(ctx context.Context, entry *queue.DeadLetterEntry, marker *queue.Task) (*queue.DeadLetterEntry, bool, error) {
	var (
		stored  *queue.DeadLetterEntry
		created bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanDeadLetter(tx.QueryRowContext(ctx,
			`SELECT `+deadLetterColumns+` FROM dead_letters WHERE original_task_id = ?`, entry.OriginalTaskID.String()))
		if err == nil {
			stored = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO dead_letters (
    id, original_task_id, original_task_name, original_queue, params, priority, max_retries,
    error, retry_count, worker_id, status, marker_task_id, note, dead_lettered_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID.String(), entry.OriginalTaskID.String(), entry.OriginalTaskName, entry.OriginalQueue,
			jsonText(entry.Params, "{}"), entry.Priority, entry.MaxRetries, entry.Error, entry.RetryCount,
			entry.WorkerID, string(entry.Status), entry.MarkerTaskID.String(), entry.Note,
			millis(entry.DeadLetteredAt), millis(entry.UpdatedAt))
		if err != nil {
			return err
		}
		if marker != nil {
			if err := insertTask(ctx, tx, marker); err != nil {
				return err
			}
		}

		stored, err = scanDeadLetter(tx.QueryRowContext(ctx,
			`SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = ?`, entry.ID.String()))
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("create dead letter: %w", err)
	}
	return stored, created, nil
}

func (s *Store) GetDeadLetter(ctx context.Context, id uuid.UUID) (*queue.DeadLetterEntry, error) {
	entry, err := scanDeadLetter(s.db.QueryRowContext(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = ?`, id.String()))
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
	if filter.Queue != "" {
		where = append(where, "original_queue = ?")
		args = append(args, filter.Queue)
	}
	if len(filter.Statuses) > 0 {
		clause, statusArgs := inClause("status", filter.Statuses)
		where = append(where, clause)
		args = append(args, statusArgs...)
	}

	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY dead_lettered_at ASC, id` + limitOffset(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	return out, rows.Err()
}

func (s *Store) RetryDeadLetter(ctx context.Context, id uuid.UUID, task *queue.Task, from []queue.DeadLetterStatus, now time.Time) (*queue.DeadLetterEntry, error) {
	var updated *queue.DeadLetterEntry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		entry, err := checkDeadLetter(ctx, tx, id, from)
		if err != nil {
			return err
		}
		if err := insertTask(ctx, tx, task); err != nil {
			return err
		}
		if err := closeMarker(ctx, tx, entry.MarkerTaskID, now); err != nil {
			return err
		}

		updated, err = scanDeadLetter(tx.QueryRowContext(ctx, `
UPDATE dead_letters
SET status = 'retrying', retried_task_id = ?, updated_at = ?
WHERE id = ?
RETURNING `+deadLetterColumns, task.ID.String(), millis(now), id.String()))
		return err
	})
	if err != nil {
		return nil, wrapDeadLetterErr("retry dead letter", err)
	}
	return updated, nil
}

func (s *Store) UpdateDeadLetterStatus(ctx context.Context, id uuid.UUID, from []queue.DeadLetterStatus, to queue.DeadLetterStatus, note string, now time.Time) (*queue.DeadLetterEntry, error) {
	var updated *queue.DeadLetterEntry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		entry, err := checkDeadLetter(ctx, tx, id, from)
		if err != nil {
			return err
		}
		if err := closeMarker(ctx, tx, entry.MarkerTaskID, now); err != nil {
			return err
		}

		updated, err = scanDeadLetter(tx.QueryRowContext(ctx, `
UPDATE dead_letters
SET status = ?1,
    note = CASE WHEN ?2 = '' THEN note ELSE ?2 END,
    updated_at = ?3
WHERE id = ?4
RETURNING `+deadLetterColumns, string(to), note, millis(now), id.String()))
		return err
	})
	if err != nil {
		return nil, wrapDeadLetterErr("update dead letter", err)
	}
	return updated, nil
}

// checkDeadLetter loads the entry inside tx and checks it is in one of from.
func checkDeadLetter(ctx context.Context, tx *sql.Tx, id uuid.UUID, from []queue.DeadLetterStatus) (*queue.DeadLetterEntry, error) {
	entry, err := scanDeadLetter(tx.QueryRowContext(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = ?`, id.String()))
	if err != nil {
		return nil, notFound(err, queue.ErrDeadLetterNotFound)
	}
	if !slices.Contains(from, entry.Status) {
		return nil, queue.ErrInvalidDeadLetterTransition
	}
	return entry, nil
}

// closeMarker cancels the entry's marker task if it is still open.
func closeMarker(ctx context.Context, q querier, markerID uuid.UUID, now time.Time) error {
	_, err := q.ExecContext(ctx, `
UPDATE tasks
SET status = 'cancelled', error = ?, completed_at = ?
WHERE task_id = ? AND status IN ('pending', 'claimed')`,
		queue.DeadLetterSettled, millis(now), markerID.String())
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
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var markerID string
		err := tx.QueryRowContext(ctx,
			`DELETE FROM dead_letters WHERE id = ? RETURNING marker_task_id`, id.String()).Scan(&markerID)
		if err != nil {
			return notFound(err, queue.ErrDeadLetterNotFound)
		}
		mid, err := uuid.Parse(markerID)
		if err != nil {
			return err
		}
		return closeMarker(ctx, tx, mid, now)
	})
	if err != nil {
		return wrapDeadLetterErr("delete dead letter", err)
	}
	return nil
}

func (s *Store) CountDeadLetters(ctx context.Context) (map[queue.DeadLetterStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM dead_letters GROUP BY status`)
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
