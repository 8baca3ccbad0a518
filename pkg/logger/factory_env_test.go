package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"log/slog"

	"github.com/dsa110/taskq/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDevelopment(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithDevelopment("svc"),
		logger.WithOutput(buf),
	)
	require.NotNil(t, log)
	log.Debug("msg")
	output := buf.String()
	assert.Contains(t, output, "DEBUG")
	assert.Contains(t, output, "service=svc")
}

func TestWithProduction(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithProduction("svc"),
		logger.WithOutput(buf),
	)
	require.NotNil(t, log)
	log.Info("msg")
	var entry map[string]any
	err := json.Unmarshal(buf.Bytes(), &entry)
	require.NoError(t, err)
	assert.Equal(t, "svc", entry["service"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		" warn": slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := logger.ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := logger.ParseLevel("loud")
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	t.Run("level overrides environment default", func(t *testing.T) {
		log, err := logger.FromConfig("taskq", logger.Config{Env: "development", Level: "error", Format: logger.FormatJSON})
		require.NoError(t, err)
		assert.False(t, log.Enabled(context.Background(), slog.LevelWarn))
		assert.True(t, log.Enabled(context.Background(), slog.LevelError))
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := logger.FromConfig("taskq", logger.Config{Level: "verbose"})
		assert.Error(t, err)
	})

	t.Run("text format overrides production json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log, err := logger.FromConfig("taskq", logger.Config{Env: "production", Format: logger.FormatText}, logger.WithOutput(buf))
		require.NoError(t, err)

		ctx := logger.WithTask(context.Background(), uuid.New(), "echo", "default")
		log.InfoContext(ctx, "task completed")
		out := buf.String()
		assert.Contains(t, out, "msg=\"task completed\"")
		assert.Contains(t, out, "env=production")
		assert.Contains(t, out, "task.name=echo")
		assert.Contains(t, out, "task.queue=default")
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := logger.FromConfig("taskq", logger.Config{Format: "xml"})
		assert.ErrorIs(t, err, logger.ErrInvalidFormat)
	})
}
