package workflow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/queue"
	"github.com/dsa110/taskq/pkg/workflow"
)

func pipeline() workflow.Definition {
	return workflow.Definition{
		Name:  "calibrate-and-image",
		Queue: "pipeline",
		Steps: []workflow.Step{
			{Key: "image", Task: "imaging", DependsOn: []string{"apply"}},
			{Key: "apply", Task: "calibration-apply", DependsOn: []string{"solve", "convert"}},
			{Key: "solve", Task: "calibration-solve", DependsOn: []string{"convert"}},
			{Key: "convert", Task: "convert-uvh5-to-ms", Params: map[string]any{"path": "/data/a.uvh5"}},
		},
	}
}

func TestDefinition_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, pipeline().Validate())

	retries := -1
	tests := []struct {
		name   string
		mutate func(d *workflow.Definition)
		want   error
	}{
		{"empty name", func(d *workflow.Definition) { d.Name = "" }, workflow.ErrEmptyName},
		{"no steps", func(d *workflow.Definition) { d.Steps = nil }, workflow.ErrNoSteps},
		{"missing key", func(d *workflow.Definition) { d.Steps[0].Key = "" }, workflow.ErrInvalidStep},
		{"missing task", func(d *workflow.Definition) { d.Steps[1].Task = "" }, workflow.ErrInvalidStep},
		{"duplicate key", func(d *workflow.Definition) { d.Steps[1].Key = "image" }, workflow.ErrInvalidStep},
		{"unknown dependency", func(d *workflow.Definition) { d.Steps[2].DependsOn = []string{"flag"} }, workflow.ErrInvalidStep},
		{"reserved task", func(d *workflow.Definition) { d.Steps[3].Task = queue.DeadLetterTaskName }, queue.ErrReservedTaskName},
		{"negative retries", func(d *workflow.Definition) { d.Steps[3].MaxRetries = &retries }, queue.ErrInvalidMaxRetries},
		{"self dependency", func(d *workflow.Definition) { d.Steps[3].DependsOn = []string{"convert"} }, workflow.ErrDependencyCycle},
		{"cycle", func(d *workflow.Definition) { d.Steps[3].DependsOn = []string{"image"} }, workflow.ErrDependencyCycle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := pipeline()
			tt.mutate(&d)
			assert.ErrorIs(t, d.Validate(), tt.want)
		})
	}
}

func TestDefinition_Order(t *testing.T) {
	t.Parallel()

	order, err := pipeline().Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"convert", "solve", "apply", "image"}, order)
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("yaml file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "wf.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
name: nightly
description: Convert and image
queue: pipeline
steps:
  - key: convert
    task: convert-uvh5-to-ms
    params:
      path: /data/a.uvh5
    max_retries: 1
  - key: image
    task: imaging
    priority: 5
    depends_on: [convert]
`), 0o600))

		d, err := workflow.LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "nightly", d.Name)
		assert.Equal(t, "pipeline", d.Queue)
		require.Len(t, d.Steps, 2)
		assert.Equal(t, "/data/a.uvh5", d.Steps[0].Params["path"])
		require.NotNil(t, d.Steps[0].MaxRetries)
		assert.Equal(t, 1, *d.Steps[0].MaxRetries)
		assert.Equal(t, []string{"convert"}, d.Steps[1].DependsOn)
		assert.Equal(t, 5, d.Steps[1].Priority)
	})

	t.Run("json input", func(t *testing.T) {
		t.Parallel()

		d, err := workflow.Parse([]byte(`{"name":"quick","steps":[{"key":"a","task":"imaging"}]}`))
		require.NoError(t, err)
		assert.Equal(t, "quick", d.Name)
		assert.Empty(t, d.Queue)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		_, err := workflow.Parse([]byte(`steps: [`))
		assert.ErrorIs(t, err, workflow.ErrInvalidFile)

		_, err = workflow.Parse([]byte(`{"name":"loop","steps":[{"key":"a","task":"x","depends_on":["a"]}]}`))
		assert.ErrorIs(t, err, workflow.ErrInvalidFile)
		assert.ErrorIs(t, err, workflow.ErrDependencyCycle)

		_, err = workflow.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
