package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dsa110/taskq/pkg/logger"
)

// DefaultChannel is the Redis pub/sub channel events are published on.
const DefaultChannel = "taskq:events"

// RedisSink publishes JSON-encoded events to a Redis channel.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSink returns a sink publishing to channel, or DefaultChannel when empty.
func NewRedisSink(client redis.UniversalClient, channel string) (*RedisSink, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{client: client, channel: channel}, nil
}

func (s *RedisSink) Publish(ctx context.Context, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return errors.Join(ErrSinkFailed, err)
	}
	return nil
}

// RedisRelay subscribes to a Redis channel and republishes every decoded
// event into a local sink, typically a Fanout.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	target  Sink
	logger  *slog.Logger
}

// NewRedisRelay creates a relay. A nil log uses slog.Default().
func NewRedisRelay(client redis.UniversalClient, channel string, target Sink, log *slog.Logger) (*RedisRelay, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if target == nil {
		target = NopSink()
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		target:  target,
		logger:  log.With(logger.Component("events.relay"), slog.String("channel", channel)),
	}, nil
}

// Run blocks until ctx is cancelled or the subscription fails.
// A cancelled context is not reported as an error.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	// Receive blocks until Redis confirms the subscription.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	r.logger.InfoContext(ctx, "relaying events from redis")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.relay(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) relay(ctx context.Context, payload string) {
	event, err := Decode([]byte(payload))
	if err != nil {
		r.logger.WarnContext(ctx, "discarding malformed event", logger.Error(err))
		return
	}
	if err := r.target.Publish(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "relay target failed", logger.Error(err))
	}
}
