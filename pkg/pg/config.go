package pg

import "time"

// Config tunes the pgx pool. ConnectionString is normally filled from the queue's
// database URL rather than its own variable.
type Config struct {
	ConnectionString  string        `env:"TASKQ_DATABASE_URL"`
	MaxOpenConns      int32         `env:"TASKQ_PG_MAX_OPEN_CONNS" envDefault:"10"`      // MaxOpenConns is the maximum number of open connections to the database.
	MaxIdleConns      int32         `env:"TASKQ_PG_MAX_IDLE_CONNS" envDefault:"2"`       // MaxIdleConns is the number of connections kept open when idle.
	HealthCheckPeriod time.Duration `env:"TASKQ_PG_HEALTHCHECK_PERIOD" envDefault:"1m"`  // HealthCheckPeriod is the period between health checks.
	MaxConnIdleTime   time.Duration `env:"TASKQ_PG_MAX_CONN_IDLE_TIME" envDefault:"10m"` // MaxConnIdleTime is the maximum amount of time a connection may be idle to be reused.
	MaxConnLifetime   time.Duration `env:"TASKQ_PG_MAX_CONN_LIFETIME" envDefault:"30m"`  // MaxConnLifetime is the maximum amount of time a connection may be reused.

	RetryAttempts int           `env:"TASKQ_PG_RETRY_ATTEMPTS" envDefault:"3"`  // RetryAttempts is the number of attempts to connect to the database.
	RetryInterval time.Duration `env:"TASKQ_PG_RETRY_INTERVAL" envDefault:"2s"` // RetryInterval is multiplied by the attempt number between attempts.

	MigrationsTable string `env:"TASKQ_PG_MIGRATIONS_TABLE" envDefault:"taskq_schema_migrations"` // MigrationsTable stores the applied migration version.
}

// DefaultConfig returns the env defaults for a connection string.
func DefaultConfig(connString string) Config {
	return Config{
		ConnectionString:  connString,
		MaxOpenConns:      10,
		MaxIdleConns:      2,
		HealthCheckPeriod: time.Minute,
		MaxConnIdleTime:   10 * time.Minute,
		MaxConnLifetime:   30 * time.Minute,
		RetryAttempts:     3,
		RetryInterval:     2 * time.Second,
		MigrationsTable:   "taskq_schema_migrations",
	}
}
