package chain_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/chain"
	"github.com/dsa110/taskq/pkg/queue"
)

func TestBuiltins(t *testing.T) {
	t.Parallel()

	byName := make(map[string]chain.Chain)
	for _, c := range chain.Builtins() {
		require.NoError(t, c.Validate())
		byName[c.Name] = c
	}

	assert.Equal(t, []string{"convert-uvh5-to-ms", "calibration-solve", "calibration-apply", "imaging"}, byName["full-pipeline"].Tasks)
	assert.Equal(t, []string{"convert-uvh5-to-ms", "calibration-apply", "imaging"}, byName["reuse-calibration"].Tasks)
	assert.Len(t, byName["standard-pipeline"].Tasks, 8)
	assert.Contains(t, byName, "quick-imaging")
	assert.Contains(t, byName, "calibrator")
	assert.Contains(t, byName, "target")

	// Builtins returns copies.
	first := chain.Builtins()
	first[0].Tasks[0] = "mutated"
	assert.NotEqual(t, "mutated", chain.Builtins()[0].Tasks[0])
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("store definitions override built-ins", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStorage()
		catalog := chain.NewCatalog(store)

		c, err := catalog.Get(ctx, "full-pipeline")
		require.NoError(t, err)
		assert.Len(t, c.Tasks, 4)

		require.NoError(t, catalog.Save(ctx, chain.Chain{Name: "full-pipeline", Tasks: []string{"imaging"}}))
		c, err = catalog.Get(ctx, "full-pipeline")
		require.NoError(t, err)
		assert.Equal(t, []string{"imaging"}, c.Tasks)

		require.NoError(t, catalog.Save(ctx, chain.Chain{Name: "custom", Tasks: []string{"a", "b"}}))
		list, err := catalog.List(ctx)
		require.NoError(t, err)
		names := make([]string, 0, len(list))
		for _, c := range list {
			names = append(names, c.Name)
		}
		assert.Equal(t, []string{"calibrator", "custom", "full-pipeline", "quick-imaging", "reuse-calibration", "standard-pipeline", "target"}, names)

		require.NoError(t, catalog.Delete(ctx, "custom"))
		_, err = catalog.Get(ctx, "custom")
		assert.ErrorIs(t, err, chain.ErrChainNotFound)
	})

	t.Run("without a repository", func(t *testing.T) {
		t.Parallel()

		catalog := chain.NewCatalog(nil)
		_, err := catalog.Get(ctx, "nope")
		assert.ErrorIs(t, err, queue.ErrChainNotFound)
		assert.ErrorIs(t, catalog.Save(ctx, chain.Chain{Name: "x", Tasks: []string{"a"}}), chain.ErrNoRepository)
		assert.ErrorIs(t, catalog.Register(chain.Chain{Name: "x"}), chain.ErrEmptyChain)
	})

	t.Run("loads YAML files", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "chains.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
chains:
  - name: nightly
    description: Nightly reprocessing
    tasks: [convert-uvh5-to-ms, calibration-apply, imaging]
`), 0o600))

		catalog := chain.NewCatalog(nil)
		require.NoError(t, catalog.LoadFile(path))

		c, err := catalog.Get(ctx, "nightly")
		require.NoError(t, err)
		assert.Equal(t, "Nightly reprocessing", c.Description)
		assert.Equal(t, []string{"convert-uvh5-to-ms", "calibration-apply", "imaging"}, c.Tasks)
	})
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{name: "malformed", yaml: "chains: [:"},
		{name: "empty tasks", yaml: "chains:\n  - name: a\n    tasks: []\n"},
		{name: "duplicate", yaml: "chains:\n  - name: a\n    tasks: [x]\n  - name: a\n    tasks: [y]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := chain.Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, chain.ErrInvalidFile)
		})
	}

	_, err := chain.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestExecutor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := newRegistry(t)
	catalog := chain.NewCatalog(nil)
	require.NoError(t, catalog.Register(chain.Chain{Name: "quad", Tasks: []string{"double", "double"}}))
	require.NoError(t, catalog.Register(chain.Chain{Name: "broken", Tasks: []string{"double", "explode"}}))

	engine, err := chain.NewEngine(chain.NewExecutorRunner(reg))
	require.NoError(t, err)
	require.NoError(t, chain.NewExecutor(catalog, engine).Register(reg))
	assert.Contains(t, reg.Names(), chain.ExecuteChainTask)

	params, err := chain.SpawnParams("quad", json.RawMessage(`{"n":5}`))
	require.NoError(t, err)

	res, err := reg.Execute(ctx, chain.ExecuteChainTask, params)
	require.NoError(t, err)
	require.True(t, res.Succeeded(), res.Message())

	var exec chain.Execution
	require.NoError(t, json.Unmarshal(res.Output, &exec))
	assert.True(t, exec.Completed)
	assert.JSONEq(t, `{"n":20,"chain_name":"quad"}`, string(exec.Params))

	params, err = chain.SpawnParams("broken", nil)
	require.NoError(t, err)
	res, err = reg.Execute(ctx, chain.ExecuteChainTask, params)
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Contains(t, res.Message(), "explode")

	params, err = chain.SpawnParams("missing", nil)
	require.NoError(t, err)
	res, err = reg.Execute(ctx, chain.ExecuteChainTask, params)
	require.NoError(t, err)
	assert.False(t, res.Succeeded())

	_, err = chain.SpawnParams("", nil)
	assert.ErrorIs(t, err, chain.ErrEmptyChainName)
}
