package redis

import "time"

// Config describes the Redis connection used for the event stream.
type Config struct {
	// ConnectionURL has the form redis://:password@localhost:6379/0. Empty disables Redis.
	ConnectionURL  string        `env:"TASKQ_REDIS_URL"`
	Channel        string        `env:"TASKQ_REDIS_CHANNEL" envDefault:"taskq:events"`
	RetryAttempts  int           `env:"TASKQ_REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"TASKQ_REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"TASKQ_REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
}

// Enabled reports whether a connection URL is configured.
func (c Config) Enabled() bool {
	return c.ConnectionURL != ""
}
