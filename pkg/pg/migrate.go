package pg

import (
	"context"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dsa110/taskq/pkg/schema"
)

// Migrator bridges the pool to database/sql, which goose requires.
// The returned close function releases the bridge, not the pool.
func Migrator(pool *pgxpool.Pool, migrations fs.FS, cfg Config, log *slog.Logger) (*schema.Migrator, func() error) {
	db := stdlib.OpenDBFromPool(pool)
	m := schema.New(db, goose.DialectPostgres, migrations,
		schema.WithTable(cfg.MigrationsTable),
		schema.WithLogger(log))
	return m, db.Close
}

// Migrate applies the embedded migrations against pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool, migrations fs.FS, cfg Config, log *slog.Logger) error {
	m, closeDB := Migrator(pool, migrations, cfg, log)
	defer func() {
		if err := closeDB(); err != nil {
			log.ErrorContext(ctx, "failed to close migration connection", slog.String("error", err.Error()))
		}
	}()
	return m.Up(ctx)
}
