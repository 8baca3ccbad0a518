package pgstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dsa110/taskq/pkg/pg"
	"github.com/dsa110/taskq/pkg/queue"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations returns the goose migrations for the Postgres schema.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Store implements queue.Store on PostgreSQL.
type Store struct {
	pool     *pgxpool.Pool
	cfg      pg.Config
	logger   *slog.Logger
	ownsPool bool
}

var _ queue.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migrations and maintenance.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConfig overrides the pool configuration. Only MigrationsTable matters for New.
func WithConfig(cfg pg.Config) Option {
	return func(s *Store) {
		s.cfg = cfg
	}
}

// New wraps an existing pool. Close does not close a pool passed to New.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		cfg:    pg.DefaultConfig(""),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects with cfg and returns a Store that owns its pool.
func Open(ctx context.Context, cfg pg.Config, opts ...Option) (*Store, error) {
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := New(pool, append([]Option{WithConfig(cfg)}, opts...)...)
	s.ownsPool = true
	return s, nil
}

// Pool exposes the underlying pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return pg.Ping(ctx, s.pool)
}

func (s *Store) Migrate(ctx context.Context) error {
	return pg.Migrate(ctx, s.pool, Migrations(), s.cfg, s.logger)
}

func (s *Store) Reset(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return queue.ErrResetNotConfirmed
	}

	m, closeDB := pg.Migrator(s.pool, Migrations(), s.cfg, s.logger)
	defer closeDB()

	return m.Reset(ctx)
}

func (s *Store) SchemaStatus(ctx context.Context) (*queue.SchemaStatus, error) {
	status := &queue.SchemaStatus{Backend: "postgres"}

	m, closeDB := pg.Migrator(s.pool, Migrations(), s.cfg, s.logger)
	defer closeDB()

	version, err := m.Version(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read schema version", slog.String("error", err.Error()))
	}
	status.Version = version

	for _, name := range queue.SchemaTables {
		ts := queue.TableStatus{Name: name}
		err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM information_schema.tables
    WHERE table_schema = current_schema() AND table_name = $1
)`, name).Scan(&ts.Exists)
		if err != nil {
			return nil, fmt.Errorf("check table %s: %w", name, err)
		}
		if ts.Exists {
			if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+pgx.Identifier{name}.Sanitize()).Scan(&ts.Rows); err != nil {
				return nil, fmt.Errorf("count rows in %s: %w", name, err)
			}
		}
		status.Tables = append(status.Tables, ts)
	}

	rows, err := s.pool.Query(ctx, `
SELECT p.proname
FROM pg_proc p
JOIN pg_namespace n ON n.oid = p.pronamespace
WHERE n.nspname = current_schema() AND p.proname LIKE 'taskq\_%'
ORDER BY p.proname`)
	if err != nil {
		return nil, fmt.Errorf("list functions: %w", err)
	}
	status.Functions, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list functions: %w", err)
	}

	counts, err := s.CountTasks(ctx, "")
	if err != nil && !pg.IsUndefinedTableError(err) {
		return nil, err
	}
	status.TaskCounts = queue.FillStatusCounts(counts)

	return status, nil
}

// dbtx is satisfied by both the pool and a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, fn)
}

func notFound(err, sentinel error) error {
	if pg.IsNotFoundError(err) {
		return sentinel
	}
	return err
}
