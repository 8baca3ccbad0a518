package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dsa110/taskq/pkg/queue"
)

func (s *Store) CreateWorkflow(ctx context.Context, wf queue.Workflow, tasks []*queue.Task) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO workflows (workflow_id, name, description, created_at)
VALUES (?, ?, ?, ?)`,
			wf.ID.String(), wf.Name, wf.Description, millis(wf.CreatedAt))
		if isConstraintError(err) {
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

func scanWorkflow(row scanner) (*queue.Workflow, error) {
	var (
		wf        queue.Workflow
		id        string
		createdAt int64
	)
	if err := row.Scan(&id, &wf.Name, &wf.Description, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if wf.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	wf.CreatedAt = fromMillis(createdAt)
	return &wf, nil
}

func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (*queue.Workflow, error) {
	wf, err := scanWorkflow(s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE workflow_id = ?`, id.String()))
	if err != nil {
		return nil, notFound(err, queue.ErrWorkflowNotFound)
	}
	return wf, nil
}

func (s *Store) ListWorkflows(ctx context.Context, limit int) ([]queue.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows ORDER BY created_at DESC, workflow_id`+limitOffset(limit, 0))
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
