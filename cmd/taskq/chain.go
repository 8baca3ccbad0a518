package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dsa110/taskq/pkg/chain"
	"github.com/dsa110/taskq/pkg/queue"
)

func newChainCmd(opts *rootOptions) *cobra.Command {
	var chainsFile string
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "List, run and spawn task chains",
	}
	cmd.PersistentFlags().StringVar(&chainsFile, "chains", "", "YAML file with additional chain definitions")
	cmd.AddCommand(
		newChainListCmd(opts, &chainsFile),
		newChainRunCmd(opts, &chainsFile),
		newChainSpawnCmd(opts, &chainsFile),
		newChainImportCmd(opts),
		newChainDeleteCmd(opts),
	)
	return cmd
}

func newChainListCmd(opts *rootOptions, chainsFile *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in, file and stored chains",
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			catalog, err := newCatalog(a, *chainsFile)
			if err != nil {
				return err
			}
			chains, err := catalog.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), chains)
			}
			tw := newTable(cmd.OutOrStdout(), "NAME", "STEPS", "DESCRIPTION")
			for _, c := range chains {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, strings.Join(c.Tasks, " -> "), c.Description)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newChainRunCmd(opts *rootOptions, chainsFile *string) *cobra.Command {
	var (
		params   string
		viaQueue string
	)
	cmd := &cobra.Command{
		Use:   "run <chain>",
		Short: "Run a chain now and print the execution record",
		Long: `Runs every step in this process with the built-in handlers. With --via-queue
each step is spawned on that queue and awaited, so running workers execute it.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			raw, err := readParams(params, cmd.InOrStdin())
			if err != nil {
				return err
			}
			catalog, err := newCatalog(a, *chainsFile)
			if err != nil {
				return err
			}
			c, err := catalog.Get(ctx, args[0])
			if err != nil {
				return err
			}

			var runner chain.Runner
			if viaQueue != "" {
				runner, err = chain.NewQueueRunner(a.client, viaQueue, chain.WithPollInterval(a.cfg.PollInterval()))
			} else {
				var reg *queue.Registry
				reg, err = newRegistry(catalog, a.log)
				runner = chain.NewExecutorRunner(reg)
			}
			if err != nil {
				return err
			}
			engine, err := chain.NewEngine(runner, chain.WithLogger(a.log))
			if err != nil {
				return err
			}

			exec, err := engine.Execute(ctx, c, raw)
			if exec != nil {
				if perr := printJSON(cmd.OutOrStdout(), exec); perr != nil {
					return perr
				}
			}
			if errors.Is(err, chain.ErrStepFailed) {
				return fmt.Errorf("chain %s failed at step %d (%s): %s", c.Name, exec.FailedIndex, exec.FailedStep, exec.Reason)
			}
			return err
		}),
	}
	cmd.Flags().StringVarP(&params, "params", "p", "", "initial JSON params, @file or - for stdin")
	cmd.Flags().StringVar(&viaQueue, "via-queue", "", "spawn each step on this queue instead of running in-process")
	return cmd
}

func newChainSpawnCmd(opts *rootOptions, chainsFile *string) *cobra.Command {
	var (
		queueName string
		params    string
		priority  int
	)
	cmd := &cobra.Command{
		Use:   "spawn <chain>",
		Short: "Enqueue an execute-chain task that runs the whole chain on a worker",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			raw, err := readParams(params, cmd.InOrStdin())
			if err != nil {
				return err
			}
			catalog, err := newCatalog(a, *chainsFile)
			if err != nil {
				return err
			}
			if _, err := catalog.Get(ctx, args[0]); err != nil {
				return err
			}
			taskParams, err := chain.SpawnParams(args[0], raw)
			if err != nil {
				return err
			}
			if queueName == "" {
				queueName = a.cfg.QueueName
			}
			id, err := a.client.Spawn(ctx, queueName, chain.ExecuteChainTask, taskParams, queue.WithPriority(priority))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&queueName, "queue", "q", "", "target queue (default: TASKQ_QUEUE_NAME)")
	cmd.Flags().StringVarP(&params, "params", "p", "", "initial JSON params, @file or - for stdin")
	cmd.Flags().IntVar(&priority, "priority", 0, "higher runs first")
	return cmd
}

func newChainImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Store the chains defined in a YAML file so every process sees them",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			chains, err := chain.LoadFile(args[0])
			if err != nil {
				return err
			}
			catalog := chain.NewCatalog(a.store)
			for _, c := range chains {
				if err := catalog.Save(cmd.Context(), c); err != nil {
					return fmt.Errorf("save chain %s: %w", c.Name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", c.Name)
			}
			return nil
		}),
	}
}

func newChainDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <chain>",
		Short: "Remove a stored chain",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			if err := chain.NewCatalog(a.store).Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		}),
	}
}
