package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/config"
)

type defaultsConfig struct {
	Queue   string        `env:"TASKQ_TEST_DEFAULT_QUEUE" envDefault:"default"`
	Retries int           `env:"TASKQ_TEST_DEFAULT_RETRIES" envDefault:"3"`
	Timeout time.Duration `env:"TASKQ_TEST_DEFAULT_TIMEOUT" envDefault:"5m"`
}

type cachedConfig struct {
	Value string `env:"TASKQ_TEST_CACHED" envDefault:"first"`
}

type requiredConfig struct {
	DSN string `env:"TASKQ_TEST_REQUIRED_DSN,required"`
}

type fileConfig struct {
	Queue    string        `env:"TASKQ_TEST_QUEUE"`
	Poll     time.Duration `env:"TASKQ_TEST_POLL"`
	Tags     []string      `env:"TASKQ_TEST_TAGS" envSeparator:","`
	Quoted   string        `env:"TASKQ_TEST_QUOTED"`
	Priority string        `env:"TASKQ_TEST_PRIORITY"`
	Override string        `env:"TASKQ_TEST_ONLY_OVERRIDE"`
}

func unsetFileVars(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TASKQ_TEST_QUEUE", "TASKQ_TEST_POLL", "TASKQ_TEST_TAGS",
		"TASKQ_TEST_QUOTED", "TASKQ_TEST_PRIORITY", "TASKQ_TEST_ONLY_OVERRIDE",
	} {
		require.NoError(t, os.Unsetenv(key))
	}
	t.Cleanup(func() {
		for _, key := range []string{
			"TASKQ_TEST_QUEUE", "TASKQ_TEST_POLL", "TASKQ_TEST_TAGS",
			"TASKQ_TEST_QUOTED", "TASKQ_TEST_PRIORITY", "TASKQ_TEST_ONLY_OVERRIDE",
		} {
			_ = os.Unsetenv(key)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	config.ResetCache()

	var cfg defaultsConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "default", cfg.Queue)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 5*time.Minute, cfg.Timeout)
}

func TestLoad_Cached(t *testing.T) {
	config.ResetCache()

	var first cachedConfig
	require.NoError(t, config.Load(&first))
	assert.Equal(t, "first", first.Value)

	t.Setenv("TASKQ_TEST_CACHED", "second")

	var second cachedConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "first", second.Value, "cached value served until reload")

	var reloaded cachedConfig
	require.NoError(t, config.ForceReloadConfig(&reloaded))
	assert.Equal(t, "second", reloaded.Value)

	var after cachedConfig
	require.NoError(t, config.Load(&after))
	assert.Equal(t, "second", after.Value)
}

func TestLoad_MissingRequired(t *testing.T) {
	config.ResetCache()
	require.NoError(t, os.Unsetenv("TASKQ_TEST_REQUIRED_DSN"))

	var cfg requiredConfig
	err := config.Load(&cfg)
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestLoad_NilPointer(t *testing.T) {
	assert.ErrorIs(t, config.Load[defaultsConfig](nil), config.ErrNilPointer)
	assert.ErrorIs(t, config.ForceReloadConfig[defaultsConfig](nil), config.ErrNilPointer)
}

func TestMustLoad_Panics(t *testing.T) {
	config.ResetCache()
	require.NoError(t, os.Unsetenv("TASKQ_TEST_REQUIRED_DSN"))

	assert.Panics(t, func() {
		var cfg requiredConfig
		config.MustLoad(&cfg)
	})
}

func TestLoadEnv(t *testing.T) {
	t.Run("single file", func(t *testing.T) {
		unsetFileVars(t)
		config.ResetCache()

		require.NoError(t, config.LoadEnv("testdata/.env.base"))

		var cfg fileConfig
		require.NoError(t, config.ForceReloadConfig(&cfg))
		assert.Equal(t, "imaging", cfg.Queue)
		assert.Equal(t, 2*time.Second, cfg.Poll)
		assert.Equal(t, []string{"a", "b", "c"}, cfg.Tags)
		assert.Equal(t, "quoted value", cfg.Quoted)
		assert.Equal(t, "base_file", cfg.Priority)
	})

	t.Run("later files win", func(t *testing.T) {
		unsetFileVars(t)

		require.NoError(t, config.LoadEnv("testdata/.env.base", "testdata/.env.override"))

		var cfg fileConfig
		require.NoError(t, config.ForceReloadConfig(&cfg))
		assert.Equal(t, "override_file", cfg.Priority)
		assert.Equal(t, "yes", cfg.Override)
		assert.Equal(t, "imaging", cfg.Queue)
	})

	t.Run("process environment wins", func(t *testing.T) {
		unsetFileVars(t)
		t.Setenv("TASKQ_TEST_PRIORITY", "from_shell")

		require.NoError(t, config.LoadEnv("testdata/.env.base", "testdata/.env.override"))

		var cfg fileConfig
		require.NoError(t, config.ForceReloadConfig(&cfg))
		assert.Equal(t, "from_shell", cfg.Priority)
	})

	t.Run("missing file", func(t *testing.T) {
		err := config.LoadEnv("testdata/missing.env")
		assert.ErrorIs(t, err, config.ErrLoadingEnvFile)
		assert.Panics(t, func() { config.MustLoadEnv("testdata/missing.env") })
	})
}
