package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dsa110/taskq/pkg/queue"
)

func newSpawnCmd(opts *rootOptions) *cobra.Command {
	var (
		queueName  string
		params     string
		priority   int
		maxRetries int
		delay      time.Duration
		dependsOn  []string
	)
	cmd := &cobra.Command{
		Use:   "spawn <task-name>",
		Short: "Enqueue a task",
		Example: `  taskq spawn imaging --params '{"field":"B"}' --priority 5
  taskq spawn sleep --params @params.json --delay 1m
  taskq spawn imaging --depends-on 6f1c2f0e-8a5b-4d2c-9a3e-1b2c3d4e5f60`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			raw, err := readParams(params, cmd.InOrStdin())
			if err != nil {
				return err
			}
			spawnOpts := []queue.SpawnOption{queue.WithPriority(priority), queue.WithDelay(delay)}
			if cmd.Flags().Changed("max-retries") {
				spawnOpts = append(spawnOpts, queue.WithMaxRetries(maxRetries))
			}
			for _, raw := range dependsOn {
				dep, err := parseID(raw)
				if err != nil {
					return err
				}
				spawnOpts = append(spawnOpts, queue.WithDependsOn(dep))
			}
			if queueName == "" {
				queueName = a.cfg.QueueName
			}

			id, err := a.client.Spawn(cmd.Context(), queueName, args[0], raw, spawnOpts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&queueName, "queue", "q", "", "target queue (default: TASKQ_QUEUE_NAME)")
	cmd.Flags().StringVarP(&params, "params", "p", "", "JSON params, @file or - for stdin")
	cmd.Flags().IntVar(&priority, "priority", 0, "higher runs first")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retries before the task is dead-lettered (default: TASKQ_MAX_RETRIES)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "hold the task back for this long")
	cmd.Flags().StringSliceVar(&dependsOn, "depends-on", nil, "task ids that must complete first (repeatable)")
	return cmd
}

func newTaskCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and cancel tasks",
	}
	cmd.AddCommand(newTaskGetCmd(opts), newTaskListCmd(opts), newTaskCancelCmd(opts))
	return cmd
}

func newTaskGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show one task as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			task, err := a.client.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), task)
		}),
	}
}

func newTaskListCmd(opts *rootOptions) *cobra.Command {
	var (
		filter   queue.TaskFilter
		statuses []string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, highest priority and oldest first",
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			var err error
			if filter.Statuses, err = parseTaskStatuses(statuses); err != nil {
				return err
			}
			tasks, err := a.client.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), tasks)
			}

			tw := newTable(cmd.OutOrStdout(), "ID", "QUEUE", "NAME", "STATUS", "PRIORITY", "RETRIES", "CREATED", "ERROR")
			for _, t := range tasks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d/%d\t%s\t%s\n",
					t.ID, t.Queue, t.Name, t.Status, t.Priority, t.RetryCount, t.MaxRetries,
					formatTime(&t.CreatedAt), truncate(t.Error, 60))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVarP(&filter.Queue, "queue", "q", "", "only this queue")
	cmd.Flags().StringVar(&filter.Name, "name", "", "only this task name")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only these statuses (comma separated)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum rows")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newTaskCancelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a pending or claimed task",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ok, err := a.client.Cancel(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				task, err := a.client.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				return fmt.Errorf("task %s is %s and cannot be cancelled", id, task.Status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", id)
			return nil
		}),
	}
}
