package workflow

import (
	"slices"

	"github.com/google/uuid"

	"github.com/dsa110/taskq/pkg/queue"
)

// Node is one task in a workflow graph. Dependents lists the tasks waiting on
// it. Depth is the length of the longest dependency path leading to it.
type Node struct {
	TaskID     uuid.UUID        `json:"task_id"`
	TaskName   string           `json:"task_name"`
	Queue      string           `json:"queue_name"`
	Status     queue.TaskStatus `json:"status"`
	DependsOn  []uuid.UUID      `json:"depends_on,omitempty"`
	Dependents []uuid.UUID      `json:"dependents,omitempty"`
	Depth      int              `json:"depth"`
	Blocked    bool             `json:"blocked"`
	Doomed     bool             `json:"doomed"`
}

// DAG is a workflow's tasks in dependency order.
// Ready holds pending tasks whose dependencies have all completed.
// Doomed holds pending tasks behind a failed or cancelled dependency.
type DAG struct {
	Workflow queue.Workflow `json:"workflow"`
	Nodes    []Node         `json:"nodes"`
	Roots    []uuid.UUID    `json:"roots"`
	Leaves   []uuid.UUID    `json:"leaves"`
	Depth    int            `json:"depth"`
	Ready    []uuid.UUID    `json:"ready,omitempty"`
	Doomed   []uuid.UUID    `json:"doomed,omitempty"`
}

// BuildDAG arranges tasks into a graph. Dependencies on tasks outside the list
// are kept on the node but treated as met.
func BuildDAG(wf queue.Workflow, tasks []queue.Task) (*DAG, error) {
	byID := make(map[string]*queue.Task, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID.String()] = &tasks[i]
	}

	deps := make(map[string][]string, len(tasks))
	dependents := make(map[string][]uuid.UUID)
	for key, task := range byID {
		deps[key] = nil
		for _, dep := range task.DependsOn {
			if _, ok := byID[dep.String()]; ok {
				deps[key] = append(deps[key], dep.String())
				dependents[dep.String()] = append(dependents[dep.String()], task.ID)
			}
		}
	}

	order, err := queue.TopologicalOrder(deps)
	if err != nil {
		return nil, err
	}

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	running := make(map[string]bool)
	for key, task := range byID {
		switch task.Status {
		case queue.TaskStatusCompleted:
			completed[key] = true
		case queue.TaskStatusFailed, queue.TaskStatusCancelled:
			failed[key] = true
		case queue.TaskStatusClaimed:
			running[key] = true
		}
	}
	ready, doomed := queue.ReadyTasks(deps, completed, failed, running)
	doomedSet := make(map[string]bool, len(doomed))
	for _, key := range doomed {
		doomedSet[key] = true
	}

	statusOf := func(id uuid.UUID) (queue.TaskStatus, bool) {
		if t, ok := byID[id.String()]; ok {
			return t.Status, true
		}
		return "", false
	}

	dag := &DAG{Workflow: wf, Nodes: make([]Node, 0, len(order))}
	depth := make(map[string]int, len(order))
	for _, key := range order {
		task := byID[key]
		d := 0
		for _, dep := range deps[key] {
			d = max(d, depth[dep]+1)
		}
		depth[key] = d
		dag.Depth = max(dag.Depth, d)

		down := slices.Clone(dependents[key])
		slices.SortFunc(down, compareIDs)

		dag.Nodes = append(dag.Nodes, Node{
			TaskID:     task.ID,
			TaskName:   task.Name,
			Queue:      task.Queue,
			Status:     task.Status,
			DependsOn:  slices.Clone(task.DependsOn),
			Dependents: down,
			Depth:      d,
			Blocked:    task.Blocked(statusOf),
			Doomed:     doomedSet[key],
		})
		if len(deps[key]) == 0 {
			dag.Roots = append(dag.Roots, task.ID)
		}
		if len(down) == 0 {
			dag.Leaves = append(dag.Leaves, task.ID)
		}
	}

	for _, key := range ready {
		if byID[key].Status == queue.TaskStatusPending {
			dag.Ready = append(dag.Ready, byID[key].ID)
		}
	}
	for _, key := range doomed {
		if byID[key].Status == queue.TaskStatusPending {
			dag.Doomed = append(dag.Doomed, byID[key].ID)
		}
	}
	return dag, nil
}

// Node returns the node for id.
func (d *DAG) Node(id uuid.UUID) (Node, bool) {
	for _, n := range d.Nodes {
		if n.TaskID == id {
			return n, true
		}
	}
	return Node{}, false
}

func compareIDs(a, b uuid.UUID) int {
	return slices.Compare(a[:], b[:])
}
