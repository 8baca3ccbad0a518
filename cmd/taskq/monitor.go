package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/dsa110/taskq/pkg/logger"
	"github.com/dsa110/taskq/pkg/monitor"
)

type monitorOptions struct {
	queue      string
	prometheus bool
}

func (mo *monitorOptions) write(w io.Writer, r *monitor.Report) error {
	if mo.prometheus {
		return monitor.WritePrometheus(w, r)
	}
	return printJSON(w, r)
}

func newMonitorCmd(opts *rootOptions) *cobra.Command {
	mo := &monitorOptions{}
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Queue health, task and worker metrics",
	}
	cmd.PersistentFlags().StringVarP(&mo.queue, "queue", "q", "", "limit to one queue (default: all queues)")
	cmd.PersistentFlags().BoolVar(&mo.prometheus, "prometheus", false, "print Prometheus text instead of JSON")
	cmd.AddCommand(newMonitorReportCmd(opts, mo), newMonitorWatchCmd(opts, mo))
	return cmd
}

func newMonitor(a *app, mo *monitorOptions) (*monitor.Monitor, error) {
	return monitor.NewMonitor(a.store,
		monitor.WithQueue(mo.queue),
		monitor.WithLogger(a.log),
	)
}

func newMonitorReportCmd(opts *rootOptions, mo *monitorOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print one monitoring report",
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			mon, err := newMonitor(a, mo)
			if err != nil {
				return err
			}
			r, err := mon.Report(cmd.Context())
			if err != nil {
				return err
			}
			return mo.write(cmd.OutOrStdout(), r)
		}),
	}
}

func newMonitorWatchCmd(opts *rootOptions, mo *monitorOptions) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print a report every interval until interrupted",
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			mon, err := newMonitor(a, mo)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return mon.Run(cmd.Context(), interval, func(ctx context.Context, r *monitor.Report) {
				if err := mo.write(out, r); err != nil {
					a.log.ErrorContext(ctx, "failed to write report", logger.Error(err))
				}
				a.log.DebugContext(ctx, "report written", slog.String("status", string(r.Health.Status)))
			})
		}),
	}
	cmd.Flags().DurationVarP(&interval, "interval", "i", 30*time.Second, "time between reports")
	return cmd
}
