package opensearch

import (
	"context"
	"errors"

	"github.com/opensearch-project/opensearch-go/v2"
)

// New builds a client from cfg, waits for the cluster to answer and makes
// sure the event index exists.
func New(ctx context.Context, cfg Config) (*opensearch.Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNoAddresses
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		MaxRetries:   cfg.MaxRetries,
		DisableRetry: cfg.DisableRetry,
	})
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}
	if err := Healthcheck(client)(ctx); err != nil {
		return nil, err
	}
	if cfg.Index != "" {
		if err := EnsureIndex(ctx, client, cfg.Index); err != nil {
			return nil, err
		}
	}
	return client, nil
}
