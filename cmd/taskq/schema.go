package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dsa110/taskq/pkg/queue"
)

func newSchemaCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create, inspect and reset the queue schema",
	}
	cmd.AddCommand(newSchemaInitCmd(opts), newSchemaStatusCmd(opts), newSchemaResetCmd(opts))
	return cmd
}

func newSchemaInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Apply pending migrations; safe to run repeatedly",
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			return printSchemaStatus(cmd, a)
		}),
	}
}

func newSchemaStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show schema version, tables and task counts",
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			if asJSON {
				status, err := a.store.SchemaStatus(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), status)
			}
			return printSchemaStatus(cmd, a)
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newSchemaResetCmd(opts *rootOptions) *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate every queue table (destroys all data)",
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			if err := a.store.Reset(cmd.Context(), confirmed); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema reset")
			return printSchemaStatus(cmd, a)
		}),
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the reset")
	return cmd
}

func printSchemaStatus(cmd *cobra.Command, a *app) error {
	status, err := a.store.SchemaStatus(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "backend: %s\nversion: %d\n", status.Backend, status.Version)
	if len(status.Functions) > 0 {
		fmt.Fprintf(out, "functions: %s\n", strings.Join(status.Functions, ", "))
	}
	fmt.Fprintln(out)

	tw := newTable(out, "TABLE", "EXISTS", "ROWS")
	for _, t := range status.Tables {
		fmt.Fprintf(tw, "%s\t%t\t%d\n", t.Name, t.Exists, t.Rows)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out)

	tw = newTable(out, "STATUS", "TASKS")
	for _, s := range queue.TaskStatuses {
		fmt.Fprintf(tw, "%s\t%d\n", s, status.TaskCounts[s])
	}
	return tw.Flush()
}

func newPruneCmd(opts *rootOptions) *cobra.Command {
	var (
		olderThan time.Duration
		queueName string
		statuses  []string
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished tasks older than a cutoff",
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			parsed, err := parseTaskStatuses(statuses)
			if err != nil {
				return err
			}
			n, err := a.client.Prune(cmd.Context(), queue.PruneParams{
				OlderThan: a.client.Now().Add(-olderThan),
				Queue:     queueName,
				Statuses:  parsed,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d task(s)\n", n)
			return nil
		}),
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "only tasks finished before now minus this")
	cmd.Flags().StringVarP(&queueName, "queue", "q", "", "only this queue (default: all queues)")
	cmd.Flags().StringSliceVar(&statuses, "status", []string{"completed", "failed", "cancelled"}, "terminal statuses to prune")
	return cmd
}
