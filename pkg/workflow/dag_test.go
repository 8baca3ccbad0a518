package workflow_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/queue"
	"github.com/dsa110/taskq/pkg/workflow"
)

func TestBuildDAG(t *testing.T) {
	t.Parallel()

	wf := queue.Workflow{ID: uuid.New(), Name: "diamond", CreatedAt: time.Now()}
	convert := queue.Task{ID: uuid.New(), Name: "convert", Status: queue.TaskStatusCompleted}
	solve := queue.Task{ID: uuid.New(), Name: "solve", Status: queue.TaskStatusClaimed, DependsOn: []uuid.UUID{convert.ID}}
	flag := queue.Task{ID: uuid.New(), Name: "flag", Status: queue.TaskStatusPending, DependsOn: []uuid.UUID{convert.ID}}
	image := queue.Task{ID: uuid.New(), Name: "image", Status: queue.TaskStatusPending, DependsOn: []uuid.UUID{solve.ID, flag.ID}}
	outside := uuid.New()
	report := queue.Task{ID: uuid.New(), Name: "report", Status: queue.TaskStatusPending, DependsOn: []uuid.UUID{image.ID, outside}}

	dag, err := workflow.BuildDAG(wf, []queue.Task{report, image, flag, solve, convert})
	require.NoError(t, err)

	order := make([]string, 0, len(dag.Nodes))
	for _, n := range dag.Nodes {
		order = append(order, n.TaskName)
	}
	assert.Equal(t, "convert", order[0])
	assert.ElementsMatch(t, []string{"solve", "flag"}, order[1:3])
	assert.Equal(t, []string{"image", "report"}, order[3:])

	assert.Equal(t, []uuid.UUID{convert.ID}, dag.Roots)
	assert.Equal(t, []uuid.UUID{report.ID}, dag.Leaves)
	assert.Equal(t, 3, dag.Depth)
	assert.Equal(t, []uuid.UUID{flag.ID}, dag.Ready)
	assert.Empty(t, dag.Doomed)

	node, ok := dag.Node(report.ID)
	require.True(t, ok)
	assert.Equal(t, 3, node.Depth)
	assert.Equal(t, []uuid.UUID{image.ID, outside}, node.DependsOn, "dependencies outside the workflow are kept")
	assert.True(t, node.Blocked)

	node, ok = dag.Node(convert.ID)
	require.True(t, ok)
	assert.ElementsMatch(t, []uuid.UUID{solve.ID, flag.ID}, node.Dependents)
	assert.False(t, node.Blocked)

	node, ok = dag.Node(flag.ID)
	require.True(t, ok)
	assert.Equal(t, 1, node.Depth)
	assert.False(t, node.Blocked)

	_, ok = dag.Node(outside)
	assert.False(t, ok)

	t.Run("failed dependency dooms the rest", func(t *testing.T) {
		t.Parallel()

		failedSolve := solve
		failedSolve.Status = queue.TaskStatusFailed
		dag, err := workflow.BuildDAG(wf, []queue.Task{report, image, flag, failedSolve, convert})
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{image.ID, report.ID}, dag.Doomed)
		assert.Equal(t, []uuid.UUID{flag.ID}, dag.Ready)

		st := workflow.StatusOf(dag)
		assert.Equal(t, workflow.StateRunning, st.State)
		assert.Equal(t, 2, st.Doomed)
		assert.Equal(t, 2, st.Blocked)
	})

	t.Run("cycle", func(t *testing.T) {
		t.Parallel()

		a := queue.Task{ID: uuid.New(), Status: queue.TaskStatusPending}
		b := queue.Task{ID: uuid.New(), Status: queue.TaskStatusPending, DependsOn: []uuid.UUID{a.ID}}
		a.DependsOn = []uuid.UUID{b.ID}
		_, err := workflow.BuildDAG(wf, []queue.Task{a, b})
		assert.ErrorIs(t, err, queue.ErrDependencyCycle)
	})

	t.Run("empty workflow is complete", func(t *testing.T) {
		t.Parallel()

		dag, err := workflow.BuildDAG(wf, nil)
		require.NoError(t, err)
		st := workflow.StatusOf(dag)
		assert.Equal(t, workflow.StateCompleted, st.State)
		assert.Zero(t, st.Progress)
	})
}
