package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/queue"
)

func TestDetectCycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		deps map[string][]string
		want []string
	}{
		{"empty", nil, nil},
		{"chain", map[string][]string{"b": {"a"}, "c": {"b"}}, nil},
		{"diamond", map[string][]string{"b": {"a"}, "c": {"a"}, "d": {"b", "c"}}, nil},
		{"self", map[string][]string{"a": {"a"}}, []string{"a", "a"}},
		{"pair", map[string][]string{"a": {"b"}, "b": {"a"}}, []string{"a", "b", "a"}},
		{"behind a root", map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"d"}, "d": {"b"}}, []string{"b", "c", "d", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, queue.DetectCycle(tt.deps))
		})
	}
}

func TestTopologicalOrder(t *testing.T) {
	t.Parallel()

	t.Run("dependencies first with ties by name", func(t *testing.T) {
		t.Parallel()

		order, err := queue.TopologicalOrder(map[string][]string{
			"image":   {"apply"},
			"apply":   {"solve", "convert"},
			"solve":   {"convert"},
			"convert": nil,
			"qa":      {"convert"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"convert", "qa", "solve", "apply", "image"}, order)
	})

	t.Run("implicit nodes and duplicate edges", func(t *testing.T) {
		t.Parallel()

		order, err := queue.TopologicalOrder(map[string][]string{"b": {"a", "a"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, order)
	})

	t.Run("cycle", func(t *testing.T) {
		t.Parallel()

		_, err := queue.TopologicalOrder(map[string][]string{"a": {"b"}, "b": {"a"}})
		require.ErrorIs(t, err, queue.ErrDependencyCycle)
		assert.Contains(t, err.Error(), "a -> b -> a")
	})
}

func TestReadyTasks(t *testing.T) {
	t.Parallel()

	deps := map[string][]string{
		"convert": nil,
		"solve":   {"convert"},
		"apply":   {"solve"},
		"image":   {"apply"},
		"qa":      {"convert"},
		"report":  {"qa"},
	}
	set := func(keys ...string) map[string]bool {
		m := make(map[string]bool, len(keys))
		for _, k := range keys {
			m[k] = true
		}
		return m
	}

	t.Run("nothing done", func(t *testing.T) {
		t.Parallel()

		ready, doomed := queue.ReadyTasks(deps, nil, nil, nil)
		assert.Equal(t, []string{"convert"}, ready)
		assert.Empty(t, doomed)
	})

	t.Run("running tasks are neither ready nor doomed", func(t *testing.T) {
		t.Parallel()

		ready, doomed := queue.ReadyTasks(deps, set("convert"), nil, set("solve"))
		assert.Equal(t, []string{"qa"}, ready)
		assert.Empty(t, doomed)
	})

	t.Run("failure dooms every dependent", func(t *testing.T) {
		t.Parallel()

		ready, doomed := queue.ReadyTasks(deps, set("convert"), set("solve"), nil)
		assert.Equal(t, []string{"qa"}, ready)
		assert.Equal(t, []string{"apply", "image"}, doomed)
	})
}
