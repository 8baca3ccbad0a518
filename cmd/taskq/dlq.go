package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dsa110/taskq/pkg/queue"
)

var ErrDeadLetterDisabled = errors.New("dead-letter queue is disabled (TASKQ_DEAD_LETTER_ENABLED=false)")

func newDLQCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dlq",
		Aliases: []string{"dead-letter"},
		Short:   "Inspect and act on dead-lettered tasks",
	}
	cmd.AddCommand(
		newDLQListCmd(opts),
		newDLQShowCmd(opts),
		newDLQStatsCmd(opts),
		newDLQActionCmd(opts, "retry <id>", "Re-enqueue the original task and mark the entry retrying",
			func(ctx context.Context, d *queue.DeadLetterQueue, ref deadLetterArg) (*queue.DeadLetterEntry, error) {
				return d.MarkRetrying(ctx, ref.id)
			}),
		newDLQActionCmd(opts, "resolve <id> [note]", "Mark the entry resolved",
			func(ctx context.Context, d *queue.DeadLetterQueue, ref deadLetterArg) (*queue.DeadLetterEntry, error) {
				return d.Resolve(ctx, ref.id, ref.note)
			}),
		newDLQActionCmd(opts, "fail <id> [reason]", "Mark the entry permanently failed",
			func(ctx context.Context, d *queue.DeadLetterQueue, ref deadLetterArg) (*queue.DeadLetterEntry, error) {
				return d.MarkFailed(ctx, ref.id, ref.note)
			}),
		newDLQDeleteCmd(opts),
	)
	return cmd
}

func requireDLQ(a *app) (*queue.DeadLetterQueue, error) {
	if a.dlq == nil {
		return nil, ErrDeadLetterDisabled
	}
	return a.dlq, nil
}

func newDLQListCmd(opts *rootOptions) *cobra.Command {
	var (
		filter   queue.DeadLetterFilter
		statuses []string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-letter entries, oldest first",
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			dlq, err := requireDLQ(a)
			if err != nil {
				return err
			}
			if filter.Statuses, err = parseDeadLetterStatuses(statuses); err != nil {
				return err
			}
			entries, err := dlq.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}

			tw := newTable(cmd.OutOrStdout(), "ID", "TASK", "QUEUE", "STATUS", "RETRIES", "DEAD-LETTERED", "ERROR")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					e.ID, e.OriginalTaskName, e.OriginalQueue, e.Status, e.RetryCount,
					formatTime(&e.DeadLetteredAt), truncate(e.Error, 60))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVarP(&filter.Queue, "queue", "q", "", "only entries from this original queue")
	cmd.Flags().StringSliceVar(&statuses, "status", []string{string(queue.DeadLetterPending)}, "statuses to include (comma separated)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 100, "maximum rows")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newDLQShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one dead-letter entry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			dlq, err := requireDLQ(a)
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			entry, err := dlq.GetByID(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entry)
		}),
	}
}

func newDLQStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count dead-letter entries by status",
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			dlq, err := requireDLQ(a)
			if err != nil {
				return err
			}
			stats, err := dlq.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "STATUS", "COUNT")
			for _, s := range queue.DeadLetterStatuses {
				fmt.Fprintf(tw, "%s\t%d\n", s, stats[s])
			}
			return tw.Flush()
		}),
	}
}

type deadLetterArg struct {
	id   uuid.UUID
	note string
}

func newDLQActionCmd(
	opts *rootOptions,
	use, short string,
	action func(context.Context, *queue.DeadLetterQueue, deadLetterArg) (*queue.DeadLetterEntry, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			dlq, err := requireDLQ(a)
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			arg := deadLetterArg{id: id}
			if len(args) == 2 {
				arg.note = args[1]
			}
			entry, err := action(cmd.Context(), dlq, arg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entry)
		}),
	}
}

func newDLQDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a dead-letter entry",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			dlq, err := requireDLQ(a)
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := dlq.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		}),
	}
}
