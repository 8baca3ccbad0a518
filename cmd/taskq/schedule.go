package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dsa110/taskq/pkg/queue"
)

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring task schedules",
		Long: `Schedules spawn a task whenever they come due. They are fired by any
worker started with --with-scheduler; concurrent schedulers never double-spawn.

Expressions:
  every 15m
  hourly at :30
  daily at 02:00
  weekly on Monday at 06:00
  monthly on day 1 at 00:00
  */15 * * * 1-5    (five-field cron: minute hour day month weekday)
  @hourly`,
	}
	cmd.AddCommand(
		newScheduleAddCmd(opts),
		newScheduleListCmd(opts),
		newScheduleUpdateCmd(opts),
		newScheduleTriggerCmd(opts),
		newScheduleRemoveCmd(opts),
	)
	return cmd
}

func newScheduleAddCmd(opts *rootOptions) *cobra.Command {
	var (
		def      queue.ScheduleDefinition
		params   string
		disabled bool
	)
	cmd := &cobra.Command{
		Use:     "add <name> <expression> <task-name>",
		Short:   "Create or replace a schedule",
		Example: `  taskq schedule add nightly-imaging "daily at 02:00" execute-chain --params '{"chain":"quick-imaging"}'`,
		Args:    cobra.ExactArgs(3),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			var err error
			if def.Params, err = readParams(params, cmd.InOrStdin()); err != nil {
				return err
			}
			def.Name, def.Spec, def.TaskName = args[0], args[1], args[2]
			def.Enabled = !disabled
			if def.Queue == "" {
				def.Queue = a.cfg.QueueName
			}
			if !cmd.Flags().Changed("max-retries") {
				def.MaxRetries = a.cfg.MaxRetries
			}

			sched, err := queue.NewScheduler(a.store, queue.WithSchedulerLogger(a.log))
			if err != nil {
				return err
			}
			stored, err := sched.Add(cmd.Context(), def)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, next run %s\n", stored.Name, stored.Spec, formatTime(&stored.NextRunAt))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&def.Queue, "queue", "q", "", "queue the task is spawned on (default: TASKQ_QUEUE_NAME)")
	cmd.Flags().StringVarP(&params, "params", "p", "", "JSON params, @file or - for stdin")
	cmd.Flags().IntVar(&def.Priority, "priority", 0, "priority of spawned tasks")
	cmd.Flags().IntVar(&def.MaxRetries, "max-retries", 0, "max retries of spawned tasks (default: TASKQ_MAX_RETRIES)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "store the schedule without firing it")
	return cmd
}

func newScheduleListCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			sched, err := queue.NewScheduler(a.store)
			if err != nil {
				return err
			}
			defs, err := sched.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), defs)
			}
			tw := newTable(cmd.OutOrStdout(), "NAME", "SCHEDULE", "TASK", "QUEUE", "ENABLED", "NEXT RUN", "LAST RUN")
			for _, d := range defs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
					d.Name, d.Spec, d.TaskName, d.Queue, d.Enabled, formatTime(&d.NextRunAt), formatTime(d.LastRunAt))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newScheduleUpdateCmd(opts *rootOptions) *cobra.Command {
	var (
		spec, params      string
		priority, retries int
		enable, disable   bool
	)
	cmd := &cobra.Command{
		Use:     "update <name>",
		Short:   "Change an existing schedule",
		Example: `  taskq schedule update nightly-imaging --spec "0 3 * * *" --priority 5`,
		Args:    cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			if enable && disable {
				return fmt.Errorf("--enable and --disable are mutually exclusive")
			}
			var upd queue.ScheduleUpdate
			flags := cmd.Flags()
			if flags.Changed("spec") {
				upd.Spec = &spec
			}
			if flags.Changed("params") {
				p, err := readParams(params, cmd.InOrStdin())
				if err != nil {
					return err
				}
				upd.Params = p
			}
			if flags.Changed("priority") {
				upd.Priority = &priority
			}
			if flags.Changed("max-retries") {
				upd.MaxRetries = &retries
			}
			if enable || disable {
				upd.Enabled = &enable
			}

			sched, err := queue.NewScheduler(a.store, queue.WithSchedulerLogger(a.log))
			if err != nil {
				return err
			}
			def, err := sched.Update(cmd.Context(), args[0], upd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, enabled %t, next run %s\n", def.Name, def.Spec, def.Enabled, formatTime(&def.NextRunAt))
			return nil
		}),
	}
	cmd.Flags().StringVar(&spec, "spec", "", "new schedule expression")
	cmd.Flags().StringVarP(&params, "params", "p", "", "JSON params, @file or - for stdin")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority of spawned tasks")
	cmd.Flags().IntVar(&retries, "max-retries", 0, "max retries of spawned tasks")
	cmd.Flags().BoolVar(&enable, "enable", false, "resume firing")
	cmd.Flags().BoolVar(&disable, "disable", false, "stop firing")
	return cmd
}

func newScheduleTriggerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <name>",
		Short: "Spawn a schedule's task now without changing its next run",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			sched, err := queue.NewScheduler(a.store, queue.WithSchedulerLogger(a.log))
			if err != nil {
				return err
			}
			task, err := sched.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), task.ID)
			return nil
		}),
	}
}

func newScheduleRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a schedule",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			sched, err := queue.NewScheduler(a.store)
			if err != nil {
				return err
			}
			if err := sched.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		}),
	}
}
