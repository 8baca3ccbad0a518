package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dsa110/taskq/pkg/api"
	"github.com/dsa110/taskq/pkg/events"
	"github.com/dsa110/taskq/pkg/export"
	"github.com/dsa110/taskq/pkg/logger"
	"github.com/dsa110/taskq/pkg/monitor"
)

type serveOptions struct {
	migrate         bool
	chainsFile      string
	monitorQueue    string
	monitorInterval time.Duration
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	so := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, monitor loop, report exporter and event relay",
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			return serve(cmd.Context(), opts, a, so)
		}),
	}
	cmd.Flags().BoolVar(&so.migrate, "migrate", false, "apply pending schema migrations before serving")
	cmd.Flags().StringVar(&so.chainsFile, "chains", "", "YAML file with additional chain definitions")
	cmd.Flags().StringVar(&so.monitorQueue, "monitor-queue", "", "limit the monitor to one queue (default: all queues)")
	cmd.Flags().DurationVar(&so.monitorInterval, "monitor-interval", 0, "monitor report interval (default: TASKQ_EXPORT_INTERVAL)")
	return cmd
}

func serve(ctx context.Context, opts *rootOptions, a *app, so *serveOptions) error {
	if so.migrate {
		if err := a.store.Migrate(ctx); err != nil {
			return err
		}
	}

	var apiCfg api.Config
	if err := loadConfig(opts, &apiCfg); err != nil {
		return err
	}
	var exportCfg export.Config
	if err := loadConfig(opts, &exportCfg); err != nil {
		return err
	}

	backends, err := openEventBackends(ctx, opts, a.log)
	if err != nil {
		return err
	}
	defer func() { _ = backends.Close() }()

	// Without Redis the fanout receives events directly; with Redis it is fed
	// by the relay so events from worker processes reach websocket clients too.
	fanout := events.NewFanout(events.DefaultBufferSize)
	sinks := backends.sinks
	var relay *events.RedisRelay
	if backends.redis != nil {
		relay, err = events.NewRedisRelay(backends.redis, backends.channel, fanout, a.log)
		if err != nil {
			return err
		}
	} else {
		sinks = append(sinks, fanout)
	}
	emitter := newEmitter(a, sinks)
	defer func() { _ = emitter.Close() }()

	catalog, err := newCatalog(a, so.chainsFile)
	if err != nil {
		return err
	}

	registry := monitor.NewRegistry()
	mon, err := monitor.NewMonitor(a.store,
		monitor.WithQueue(so.monitorQueue),
		monitor.WithRegistry(registry),
		monitor.WithLogger(a.log),
	)
	if err != nil {
		return err
	}

	workflows, err := newWorkflowService(a)
	if err != nil {
		return err
	}

	router, err := api.Router(api.Deps{
		Client:    a.client,
		DLQ:       a.dlq,
		Catalog:   catalog,
		Workflows: workflows,
		Monitor:   mon,
		Registry:  registry,
		Fanout:    fanout,
		Publisher: emitter,
		Ready:     backends.ready(a.store.Ping),
		Logger:    a.log,
	})
	if err != nil {
		return err
	}
	server := api.NewServerFromConfig(apiCfg, api.WithServerLogger(a.log))

	onReport := func(ctx context.Context, r *monitor.Report) {
		a.log.DebugContext(ctx, "monitor report", slog.String("status", string(r.Health.Status)))
	}
	if exportCfg.Enabled() {
		exp, err := export.New(ctx, exportCfg)
		if err != nil {
			return err
		}
		onReport = export.Hook(exp, a.log)
		a.log.InfoContext(ctx, "exporting monitor reports", slog.String("destination", describeExporter(exp)))
	}
	interval := so.monitorInterval
	if interval <= 0 {
		interval = exportCfg.Interval
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, router)
	})
	g.Go(func() error {
		return mon.Run(gctx, interval, onReport)
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return fanout.Close()
	})

	a.log.InfoContext(ctx, "taskq server started",
		slog.String("addr", apiCfg.Addr),
		logger.Queue(a.cfg.QueueName))

	return g.Wait()
}

func describeExporter(exp export.Exporter) string {
	if s, ok := exp.(fmt.Stringer); ok {
		return s.String()
	}
	return "custom"
}
