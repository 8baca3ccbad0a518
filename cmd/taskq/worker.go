package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dsa110/taskq/pkg/api"
	"github.com/dsa110/taskq/pkg/logger"
	"github.com/dsa110/taskq/pkg/queue"
)

type workerOptions struct {
	queue         string
	id            string
	concurrency   int
	once          bool
	withScheduler bool
	chainsFile    string
}

func newWorkerCmd(opts *rootOptions) *cobra.Command {
	wo := &workerOptions{}
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Claim and execute tasks from a queue",
		Long: `Runs TASKQ_WORKER_CONCURRENCY workers against one queue until interrupted.
With --once the queue is drained by a single worker and the command exits.`,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			if wo.once {
				return drain(cmd, opts, a, wo)
			}
			return runWorkers(cmd.Context(), opts, a, wo)
		}),
	}
	cmd.Flags().StringVarP(&wo.queue, "queue", "q", "", "queue to claim from (default: TASKQ_QUEUE_NAME)")
	cmd.Flags().StringVar(&wo.id, "id", "", "worker id prefix (default: <hostname>-<random>)")
	cmd.Flags().IntVarP(&wo.concurrency, "concurrency", "c", 0, "number of workers (default: TASKQ_WORKER_CONCURRENCY)")
	cmd.Flags().BoolVar(&wo.once, "once", false, "process tasks until the queue is empty, then exit")
	cmd.Flags().BoolVar(&wo.withScheduler, "with-scheduler", false, "also fire due schedules from this process")
	cmd.Flags().StringVar(&wo.chainsFile, "chains", "", "YAML file with additional chain definitions")
	return cmd
}

func (wo *workerOptions) queueName(cfg queue.Config) string {
	if wo.queue != "" {
		return wo.queue
	}
	return cfg.QueueName
}

func (wo *workerOptions) workerID(i, n int) string {
	if wo.id == "" {
		return ""
	}
	if n == 1 {
		return wo.id
	}
	return fmt.Sprintf("%s-%d", wo.id, i+1)
}

func newWorker(a *app, exec queue.Executor, pub queue.EventPublisher, queueName, id string) (*queue.Worker, error) {
	opts := []queue.WorkerOption{
		queue.WithQueue(queueName),
		queue.WithWorkerID(id),
		queue.WithPollInterval(a.cfg.PollInterval()),
		queue.WithErrorBackoff(a.cfg.ErrorBackoff),
		queue.WithEventPublisher(pub),
		queue.WithWorkerLogger(a.log),
	}
	if a.dlq != nil {
		opts = append(opts, queue.WithDeadLetterQueue(a.dlq))
	}
	return queue.NewWorker(a.client, exec, opts...)
}

func runWorkers(ctx context.Context, opts *rootOptions, a *app, wo *workerOptions) error {
	catalog, err := newCatalog(a, wo.chainsFile)
	if err != nil {
		return err
	}
	reg, err := newRegistry(catalog, a.log)
	if err != nil {
		return err
	}

	pub, closePub, err := openPublisher(ctx, opts, a)
	if err != nil {
		return err
	}
	defer closePub()

	n := wo.concurrency
	if n <= 0 {
		n = a.cfg.WorkerConcurrency
	}
	queueName := wo.queueName(a.cfg)

	workers := make([]*queue.Worker, 0, n)
	for i := range n {
		w, err := newWorker(a, reg, pub, queueName, wo.workerID(i, n))
		if err != nil {
			return err
		}
		workers = append(workers, w)
	}

	var reporters []*api.HeartbeatReporter
	if a.cfg.APIBaseURL != "" {
		for _, w := range workers {
			reporter, err := api.NewHeartbeatReporter(a.cfg.APIBaseURL, w, a.cfg.APIHeartbeatInterval(),
				api.WithHeartbeatLogger(a.log))
			if err != nil {
				return err
			}
			reporters = append(reporters, reporter)
		}
	}

	var sched *queue.Scheduler
	if wo.withScheduler {
		sched, err = queue.NewScheduler(a.store, queue.WithSchedulerLogger(a.log))
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(w.Run(gctx))
	}
	for _, r := range reporters {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}
	if sched != nil {
		g.Go(sched.Run(gctx))
	}

	a.log.InfoContext(ctx, "workers running",
		logger.Queue(queueName),
		slog.Int("concurrency", n),
		slog.Bool("scheduler", wo.withScheduler))

	return g.Wait()
}

// drain processes tasks with one worker until nothing is claimable.
func drain(cmd *cobra.Command, opts *rootOptions, a *app, wo *workerOptions) error {
	ctx := cmd.Context()
	catalog, err := newCatalog(a, wo.chainsFile)
	if err != nil {
		return err
	}
	reg, err := newRegistry(catalog, a.log)
	if err != nil {
		return err
	}

	pub, closePub, err := openPublisher(ctx, opts, a)
	if err != nil {
		return err
	}
	defer closePub()

	queueName := wo.queueName(a.cfg)
	w, err := newWorker(a, reg, pub, queueName, wo.id)
	if err != nil {
		return err
	}

	var processed int
	for ctx.Err() == nil {
		ok, err := w.ProcessOne(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		processed++
	}

	fmt.Fprintf(cmd.OutOrStdout(), "processed %d task(s) from %s\n", processed, queueName)
	return nil
}
