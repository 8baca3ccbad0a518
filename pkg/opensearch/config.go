package opensearch

// Config holds the OpenSearch connection for the event archive.
// An empty address list disables archiving.
type Config struct {
	Addresses    []string `env:"TASKQ_OPENSEARCH_ADDRESSES" envSeparator:","`
	Username     string   `env:"TASKQ_OPENSEARCH_USERNAME"`
	Password     string   `env:"TASKQ_OPENSEARCH_PASSWORD"`
	Index        string   `env:"TASKQ_OPENSEARCH_INDEX" envDefault:"taskq-events"`
	MaxRetries   int      `env:"TASKQ_OPENSEARCH_MAX_RETRIES" envDefault:"3"`
	DisableRetry bool     `env:"TASKQ_OPENSEARCH_DISABLE_RETRY" envDefault:"false"`
}

// Enabled reports whether at least one address is configured.
func (c Config) Enabled() bool {
	return len(c.Addresses) > 0
}
