package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/dsa110/taskq/pkg/config"
	"github.com/dsa110/taskq/pkg/logger"
	"github.com/dsa110/taskq/pkg/pg"
	"github.com/dsa110/taskq/pkg/queue"
	"github.com/dsa110/taskq/pkg/storage"
)

var ErrQueueDisabled = errors.New("task queue is disabled (TASKQ_ENABLED=false)")

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	envFiles  []string
	logFormat string
	logLevel  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "taskq",
		Short: "Durable database-backed task queue",
		Long: `taskq queues tasks in Postgres or SQLite, runs them on workers with
heartbeats and retries, dead-letters exhausted tasks and runs task chains
and dependency workflows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringSliceVar(&opts.envFiles, "env-file", nil, "env files to load before reading configuration (repeatable)")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: json or text (overrides TASKQ_LOG_FORMAT)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides TASKQ_LOG_LEVEL)")

	root.AddCommand(
		newServeCmd(opts),
		newWorkerCmd(opts),
		newSpawnCmd(opts),
		newTaskCmd(opts),
		newDLQCmd(opts),
		newChainCmd(opts),
		newScheduleCmd(opts),
		newWorkflowCmd(opts),
		newMonitorCmd(opts),
		newSchemaCmd(opts),
		newPruneCmd(opts),
	)
	return root
}

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg    queue.Config
	log    *slog.Logger
	store  queue.Store
	client *queue.Client
	dlq    *queue.DeadLetterQueue
}

// loadConfig reads env files and every config struct into fresh values.
func loadConfig[T any](opts *rootOptions, v *T) error {
	if len(opts.envFiles) > 0 {
		if err := config.LoadEnv(opts.envFiles...); err != nil {
			return err
		}
	}
	return config.ForceReloadConfig(v)
}

func (o *rootOptions) buildLogger() (*slog.Logger, error) {
	var cfg logger.Config
	if err := loadConfig(o, &cfg); err != nil {
		return nil, fmt.Errorf("load logger config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Format = logger.Format(o.logFormat)
	}
	return logger.FromConfig("taskq", cfg,
		logger.WithOutput(os.Stderr),
		logger.WithContextValue("request_id", middleware.RequestIDKey),
	)
}

// open loads configuration and connects to the store named by TASKQ_DATABASE_URL.
func (o *rootOptions) open(ctx context.Context) (*app, error) {
	log, err := o.buildLogger()
	if err != nil {
		return nil, err
	}
	logger.SetAsDefault(log)

	var cfg queue.Config
	if err := loadConfig(o, &cfg); err != nil {
		return nil, fmt.Errorf("load queue config: %w", err)
	}
	if !cfg.Enabled {
		return nil, ErrQueueDisabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var pgCfg pg.Config
	if err := loadConfig(o, &pgCfg); err != nil {
		return nil, fmt.Errorf("load postgres config: %w", err)
	}

	store, err := storage.Open(ctx, cfg.DatabaseURL,
		storage.WithLogger(log),
		storage.WithPostgresConfig(pgCfg),
	)
	if err != nil {
		return nil, err
	}

	client, err := queue.NewClient(store,
		queue.WithTaskTimeout(cfg.TaskTimeout()),
		queue.WithDefaultMaxRetries(cfg.MaxRetries),
		queue.WithBackoff(cfg.Backoff()),
		queue.WithClientLogger(log),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &app{cfg: cfg, log: log, store: store, client: client}
	if cfg.DeadLetterEnabled {
		a.dlq, err = queue.NewDeadLetterQueue(store,
			queue.WithDeadLetterQueueName(cfg.DeadLetterQueueName),
			queue.WithDeadLetterLogger(log),
		)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// withApp wraps a command body that needs an open store.
func withApp(opts *rootOptions, fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := opts.open(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				a.log.Warn("failed to close store", logger.Error(err))
			}
		}()
		return fn(cmd, a, args)
	}
}
