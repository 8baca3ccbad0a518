package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Ping acquires a pooled connection and pings the server. Failures wrap
// ErrHealthcheckFailed and report the pool's connection counts.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	if err := pool.Ping(ctx); err != nil {
		st := pool.Stat()
		return errors.Join(ErrHealthcheckFailed,
			fmt.Errorf("pool total=%d idle=%d acquired=%d: %w",
				st.TotalConns(), st.IdleConns(), st.AcquiredConns(), err))
	}
	return nil
}
