package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dsa110/taskq/pkg/events"
	"github.com/dsa110/taskq/pkg/logger"
	"github.com/dsa110/taskq/pkg/opensearch"
	"github.com/dsa110/taskq/pkg/queue"
	"github.com/dsa110/taskq/pkg/redis"
)

// eventBackends are the optional external event destinations.
type eventBackends struct {
	sinks   []events.Sink
	redis   *goredis.Client
	channel string
	checks  []func(context.Context) error
}

// ready wraps storePing so it also fails when a configured backend is down.
func (b *eventBackends) ready(storePing func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := storePing(ctx); err != nil {
			return err
		}
		for _, check := range b.checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func (b *eventBackends) Close() error {
	if b.redis != nil {
		return b.redis.Close()
	}
	return nil
}

// openEventBackends connects to Redis and OpenSearch when they are configured.
func openEventBackends(ctx context.Context, opts *rootOptions, log *slog.Logger) (*eventBackends, error) {
	var redisCfg redis.Config
	if err := loadConfig(opts, &redisCfg); err != nil {
		return nil, fmt.Errorf("load redis config: %w", err)
	}
	var osCfg opensearch.Config
	if err := loadConfig(opts, &osCfg); err != nil {
		return nil, fmt.Errorf("load opensearch config: %w", err)
	}

	b := &eventBackends{channel: redisCfg.Channel}
	if redisCfg.Enabled() {
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return nil, err
		}
		sink, err := events.NewRedisSink(client, redisCfg.Channel)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		b.redis = client
		b.sinks = append(b.sinks, sink)
		b.checks = append(b.checks, redis.Healthcheck(client))
		log.InfoContext(ctx, "publishing events to redis", slog.String("channel", redisCfg.Channel))
	}

	if osCfg.Enabled() {
		client, err := opensearch.New(ctx, osCfg)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		sink, err := events.NewOpenSearchSink(client, osCfg.Index)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.sinks = append(b.sinks, sink)
		b.checks = append(b.checks, opensearch.Healthcheck(client))
		log.InfoContext(ctx, "archiving events to opensearch", slog.String("index", osCfg.Index))
	}
	return b, nil
}

func newEmitter(a *app, sinks []events.Sink) *events.Emitter {
	return events.NewEmitter(a.store,
		events.WithSink(events.MultiSink(sinks)),
		events.WithLogger(a.log),
	)
}

// openPublisher returns an emitter over the configured backends, or a no-op
// publisher when none are configured. The returned func releases both.
func openPublisher(ctx context.Context, opts *rootOptions, a *app) (queue.EventPublisher, func(), error) {
	backends, err := openEventBackends(ctx, opts, a.log)
	if err != nil {
		return nil, nil, err
	}
	if len(backends.sinks) == 0 {
		return queue.NopPublisher(), func() { _ = backends.Close() }, nil
	}
	emitter := newEmitter(a, backends.sinks)
	return emitter, func() {
		emitErr, backendErr := emitter.Close(), backends.Close()
		if emitErr != nil || backendErr != nil {
			a.log.Warn("failed to release event publisher", logger.Errors(emitErr, backendErr))
		}
	}, nil
}
