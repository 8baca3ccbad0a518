package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dsa110/taskq/pkg/workflow"
)

func newWorkflowCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Spawn and inspect task workflows with dependencies",
		Long: `A workflow is a set of tasks spawned together where each task may wait for
others to complete. Definitions are YAML or JSON files:

  name: calibrate-and-image
  steps:
    - key: convert
      task: convert-uvh5-to-ms
    - key: image
      task: imaging
      depends_on: [convert]`,
	}
	cmd.AddCommand(
		newWorkflowSpawnCmd(opts),
		newWorkflowShowCmd(opts),
		newWorkflowListCmd(opts),
		newWorkflowCancelBlockedCmd(opts),
	)
	return cmd
}

func newWorkflowService(a *app) (*workflow.Service, error) {
	return workflow.NewService(a.store, a.client, workflow.WithLogger(a.log))
}

func newWorkflowSpawnCmd(opts *rootOptions) *cobra.Command {
	var (
		queueName string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "spawn <file>",
		Short: "Spawn every step of a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			def, err := workflow.LoadFile(args[0])
			if err != nil {
				return err
			}
			if queueName != "" {
				def.Queue = queueName
			}
			if def.Queue == "" {
				def.Queue = a.cfg.QueueName
			}

			svc, err := newWorkflowService(a)
			if err != nil {
				return err
			}
			spawned, err := svc.Spawn(cmd.Context(), def)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), spawned)
			}
			fmt.Fprintln(cmd.OutOrStdout(), spawned.Workflow.ID)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&queueName, "queue", "q", "", "queue for steps without one (default: file, then TASKQ_QUEUE_NAME)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the workflow and step task ids as JSON")
	return cmd
}

func newWorkflowShowCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show workflow state and its task graph",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := newWorkflowService(a)
			if err != nil {
				return err
			}
			dag, err := svc.DAG(cmd.Context(), id)
			if err != nil {
				return err
			}
			status := workflow.StatusOf(dag)
			if asJSON {
				return printJSON(cmd.OutOrStdout(), struct {
					Status *workflow.Status `json:"status"`
					DAG    *workflow.DAG    `json:"dag"`
				}{status, dag})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s): %s, %d/%d completed, %d blocked\n",
				dag.Workflow.Name, dag.Workflow.ID, status.State, status.Completed, status.Total, status.Blocked)
			tw := newTable(out, "DEPTH", "TASK ID", "TASK", "STATUS", "DEPENDS ON")
			for _, n := range dag.Nodes {
				state := string(n.Status)
				switch {
				case n.Doomed:
					state += " (doomed)"
				case n.Blocked:
					state += " (blocked)"
				}
				deps := make([]string, 0, len(n.DependsOn))
				for _, d := range n.DependsOn {
					deps = append(deps, d.String()[:8])
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", n.Depth, n.TaskID, n.TaskName, state, strings.Join(deps, ","))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newWorkflowListCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows, newest first",
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			svc, err := newWorkflowService(a)
			if err != nil {
				return err
			}
			wfs, err := svc.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), wfs)
			}
			tw := newTable(cmd.OutOrStdout(), "WORKFLOW ID", "NAME", "CREATED", "DESCRIPTION")
			for _, wf := range wfs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", wf.ID, wf.Name, formatTime(&wf.CreatedAt), wf.Description)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of workflows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newWorkflowCancelBlockedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-blocked <workflow-id>",
		Short: "Cancel tasks that wait on a failed or cancelled dependency",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := newWorkflowService(a)
			if err != nil {
				return err
			}
			cancelled, err := svc.CancelBlocked(cmd.Context(), id)
			if err != nil {
				return err
			}
			for _, taskID := range cancelled {
				fmt.Fprintln(cmd.OutOrStdout(), taskID)
			}
			return nil
		}),
	}
}
