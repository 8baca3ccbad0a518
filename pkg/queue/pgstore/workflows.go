package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dsa110/taskq/pkg/pg"
	"github.com/dsa110/taskq/pkg/queue"
)

func (s *Store) CreateWorkflow(ctx context.Context, wf queue.Workflow, tasks []*queue.Task) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO workflows (workflow_id, name, description, created_at)
VALUES ($1, $2, $3, $4)`,
			wf.ID, wf.Name, wf.Description, wf.CreatedAt)
		if pg.IsDuplicateKeyError(err) {
			return queue.ErrInvalidWorkflow
		}
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if err := insertTask(ctx, tx, task); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, queue.ErrInvalidWorkflow) || errors.Is(err, queue.ErrTaskExists) {
		return err
	}
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

const workflowColumns = `workflow_id, name, description, created_at`

func scanWorkflow(row pgx.Row) (*queue.Workflow, error) {
	var wf queue.Workflow
	if err := row.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.CreatedAt); err != nil {
		return nil, err
	}
	wf.CreatedAt = wf.CreatedAt.UTC()
	return &wf, nil
}

func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (*queue.Workflow, error) {
	wf, err := scanWorkflow(s.pool.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE workflow_id = $1`, id))
	if err != nil {
		return nil, notFound(err, queue.ErrWorkflowNotFound)
	}
	return wf, nil
}

func (s *Store) ListWorkflows(ctx context.Context, limit int) ([]queue.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows ORDER BY created_at DESC, workflow_id`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []queue.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, *wf)
	}
	return out, rows.Err()
}
