// Package pg provides the PostgreSQL plumbing shared by the pgstore backend:
// a retrying pgx pool constructor, a health check, goose migrations over the
// pool, and helpers that classify pgx errors.
//
//	cfg := pg.DefaultConfig(os.Getenv("TASKQ_DATABASE_URL"))
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, migrations, cfg, slog.Default()); err != nil {
//		return err
//	}
package pg
