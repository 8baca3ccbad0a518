// Package redis connects taskq processes to the Redis server that carries the
// event stream between workers and the API.
//
// Redis is optional: an empty Config.ConnectionURL means the event stream
// stays in-process. Callers check Config.Enabled before calling Connect.
//
//	cfg, err := config.Load[redis.Config]()
//	if err != nil {
//	    return err
//	}
//	if cfg.Enabled() {
//	    client, err := redis.Connect(ctx, cfg)
//	    if err != nil {
//	        return err
//	    }
//	    defer client.Close()
//	    sink, _ := events.NewRedisSink(client, cfg.Channel)
//	}
//
// Connect retries RetryAttempts times, RetryInterval apart, and gives up when
// ConnectTimeout elapses. Healthcheck returns a check function for /readyz.
package redis
