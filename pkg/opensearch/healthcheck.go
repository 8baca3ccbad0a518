package opensearch

import (
	"context"
	"errors"
	"fmt"

	"github.com/opensearch-project/opensearch-go/v2"
)

// Healthcheck returns a readiness check that calls the cluster info endpoint.
func Healthcheck(client *opensearch.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		res, err := client.Info(
			client.Info.WithContext(ctx),
		)
		if err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		defer res.Body.Close()
		if res.IsError() {
			return errors.Join(ErrHealthcheckFailed, fmt.Errorf("cluster info: %s", res.Status()))
		}
		return nil
	}
}
