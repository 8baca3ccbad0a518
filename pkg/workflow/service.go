package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dsa110/taskq/pkg/logger"
	"github.com/dsa110/taskq/pkg/queue"
)

// Store is the persistence a Service needs.
type Store interface {
	queue.TaskRepository
	queue.WorkflowRepository
}

// State is derived from the statuses of a workflow's tasks.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Spawned is the result of Spawn: the stored workflow and the task id of each step key.
type Spawned struct {
	Workflow queue.Workflow       `json:"workflow"`
	Tasks    map[string]uuid.UUID `json:"tasks"`
}

// Status summarises a workflow. Blocked counts pending tasks waiting on a
// dependency; Doomed counts the subset that can never run.
type Status struct {
	Workflow  queue.Workflow `json:"workflow"`
	State     State          `json:"state"`
	Total     int            `json:"total"`
	Pending   int            `json:"pending"`
	Running   int            `json:"running"`
	Completed int            `json:"completed"`
	Failed    int            `json:"failed"`
	Cancelled int            `json:"cancelled"`
	Blocked   int            `json:"blocked"`
	Doomed    int            `json:"doomed"`
	Progress  float64        `json:"progress"`
}

// Service spawns workflows and reads their state back from the store.
type Service struct {
	repo   Store
	client *queue.Client
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(repo Store, client *queue.Client, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, queue.ErrRepositoryNil
	}
	if client == nil {
		return nil, ErrNilClient
	}
	s := &Service{
		repo:   repo,
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Spawn stores the workflow and all of its tasks atomically.
func (s *Service) Spawn(ctx context.Context, def Definition) (*Spawned, error) {
	order, err := def.Order()
	if err != nil {
		return nil, err
	}

	wf := queue.Workflow{
		ID:          uuid.New(),
		Name:        def.Name,
		Description: def.Description,
		CreatedAt:   s.client.Now(),
	}
	ids := make(map[string]uuid.UUID, len(order))
	tasks := make([]*queue.Task, 0, len(order))

	for _, key := range order {
		step := def.step(key)

		queueName := step.Queue
		if queueName == "" {
			queueName = def.Queue
		}
		if queueName == "" {
			queueName = queue.DefaultQueueName
		}

		var params json.RawMessage
		if step.Params != nil {
			if params, err = json.Marshal(step.Params); err != nil {
				return nil, fmt.Errorf("%w: step %s params: %w", ErrInvalidStep, key, err)
			}
		}

		opts := []queue.SpawnOption{queue.WithPriority(step.Priority)}
		if step.MaxRetries != nil {
			opts = append(opts, queue.WithMaxRetries(*step.MaxRetries))
		}
		for _, dep := range step.DependsOn {
			opts = append(opts, queue.WithDependsOn(ids[dep]))
		}

		task, err := s.client.NewTask(queueName, step.Task, params, opts...)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", key, err)
		}
		task.WorkflowID = &wf.ID
		ids[key] = task.ID
		tasks = append(tasks, task)
	}

	if err := s.repo.CreateWorkflow(ctx, wf, tasks); err != nil {
		return nil, fmt.Errorf("create workflow %s: %w", def.Name, err)
	}

	s.logger.InfoContext(ctx, "workflow spawned",
		logger.WorkflowID(wf.ID),
		slog.String("workflow", wf.Name),
		slog.Int("tasks", len(tasks)))

	return &Spawned{Workflow: wf, Tasks: ids}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*queue.Workflow, error) {
	return s.repo.GetWorkflow(ctx, id)
}

// List returns workflows newest first. A non-positive limit defaults to 100.
func (s *Service) List(ctx context.Context, limit int) ([]queue.Workflow, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListWorkflows(ctx, limit)
}

// Tasks returns every task of the workflow.
func (s *Service) Tasks(ctx context.Context, id uuid.UUID) ([]queue.Task, error) {
	if _, err := s.repo.GetWorkflow(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListTasks(ctx, queue.TaskFilter{WorkflowID: &id})
}

func (s *Service) DAG(ctx context.Context, id uuid.UUID) (*DAG, error) {
	wf, err := s.repo.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	tasks, err := s.repo.ListTasks(ctx, queue.TaskFilter{WorkflowID: &id})
	if err != nil {
		return nil, fmt.Errorf("list workflow tasks: %w", err)
	}
	return BuildDAG(*wf, tasks)
}

func (s *Service) Status(ctx context.Context, id uuid.UUID) (*Status, error) {
	dag, err := s.DAG(ctx, id)
	if err != nil {
		return nil, err
	}
	return StatusOf(dag), nil
}

// StatusOf counts the nodes of dag and derives the workflow state.
// A workflow is failed or cancelled only once nothing in it can still run.
func StatusOf(dag *DAG) *Status {
	st := &Status{Workflow: dag.Workflow, Total: len(dag.Nodes)}
	for _, n := range dag.Nodes {
		switch n.Status {
		case queue.TaskStatusPending:
			st.Pending++
		case queue.TaskStatusClaimed:
			st.Running++
		case queue.TaskStatusCompleted:
			st.Completed++
		case queue.TaskStatusFailed:
			st.Failed++
		case queue.TaskStatusCancelled:
			st.Cancelled++
		}
		if n.Blocked {
			st.Blocked++
		}
		if n.Doomed && n.Status == queue.TaskStatusPending {
			st.Doomed++
		}
	}
	if st.Total > 0 {
		st.Progress = float64(st.Completed) / float64(st.Total) * 100
	}

	settled := st.Running == 0 && st.Pending == st.Doomed
	switch {
	case st.Completed == st.Total:
		st.State = StateCompleted
	case settled && st.Failed > 0:
		st.State = StateFailed
	case settled:
		st.State = StateCancelled
	case st.Running > 0 || st.Completed > 0 || st.Failed > 0 || st.Cancelled > 0:
		st.State = StateRunning
	default:
		st.State = StatePending
	}
	return st
}

// CancelBlocked cancels the pending tasks that wait on a failed or cancelled
// dependency and returns their ids.
func (s *Service) CancelBlocked(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	dag, err := s.DAG(ctx, id)
	if err != nil {
		return nil, err
	}

	var cancelled []uuid.UUID
	for _, taskID := range dag.Doomed {
		ok, err := s.client.Cancel(ctx, taskID)
		if err != nil {
			return cancelled, fmt.Errorf("cancel task %s: %w", taskID, err)
		}
		if ok {
			cancelled = append(cancelled, taskID)
		}
	}

	if len(cancelled) > 0 {
		s.logger.InfoContext(ctx, "cancelled blocked workflow tasks",
			logger.WorkflowID(id),
			slog.Int("cancelled", len(cancelled)))
	}
	return cancelled, nil
}
