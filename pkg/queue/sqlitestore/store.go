// Package sqlitestore implements queue.Store on a single SQLite file.
//
// Every statement goes through one connection, so SQLite's single-writer rule
// never surfaces as SQLITE_BUSY inside a process. Separate processes sharing the
// file rely on the busy timeout and IMMEDIATE transactions instead.
// Timestamps are stored as unix milliseconds.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dsa110/taskq/pkg/queue"
	"github.com/dsa110/taskq/pkg/schema"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations returns the goose migrations for the SQLite schema.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Store implements queue.Store on SQLite.
type Store struct {
	db       *sql.DB
	migrator *schema.Migrator
	logger   *slog.Logger
}

var _ queue.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*options)

type options struct {
	logger          *slog.Logger
	migrationsTable string
}

// WithLogger sets the logger used for migrations.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMigrationsTable overrides the goose version table name.
func WithMigrationsTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.migrationsTable = name
		}
	}
}

// Open opens (creating if needed) the database file at path.
// The schema is not migrated; call Migrate.
func Open(path string, opts ...Option) (*Store, error) {
	o := &options{
		logger:          slog.Default(),
		migrationsTable: schema.DefaultTable,
	}
	for _, opt := range opts {
		opt(o)
	}

	if path == "" {
		return nil, ErrEmptyPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{
		db: db,
		migrator: schema.New(db, goose.DialectSQLite3, Migrations(),
			schema.WithTable(o.migrationsTable),
			schema.WithLogger(o.logger)),
		logger: o.logger,
	}, nil
}

// ErrEmptyPath is returned by Open without a file path.
var ErrEmptyPath = errors.New("sqlite database path cannot be empty")

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Join(queue.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.migrator.Up(ctx)
}

func (s *Store) Reset(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return queue.ErrResetNotConfirmed
	}
	return s.migrator.Reset(ctx)
}

func (s *Store) SchemaStatus(ctx context.Context) (*queue.SchemaStatus, error) {
	status := &queue.SchemaStatus{Backend: "sqlite", Functions: []string{}}

	version, err := s.migrator.Version(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read schema version", slog.String("error", err.Error()))
	}
	status.Version = version

	tasksExist := false
	for _, name := range queue.SchemaTables {
		ts := queue.TableStatus{Name: name}
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("check table %s: %w", name, err)
		}
		ts.Exists = n > 0
		if ts.Exists {
			// name comes from queue.SchemaTables, never from input
			if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM `+name).Scan(&ts.Rows); err != nil {
				return nil, fmt.Errorf("count rows in %s: %w", name, err)
			}
			if name == "tasks" {
				tasksExist = true
			}
		}
		status.Tables = append(status.Tables, ts)
	}

	counts := map[queue.TaskStatus]int{}
	if tasksExist {
		if counts, err = s.CountTasks(ctx, ""); err != nil {
			return nil, err
		}
	}
	status.TaskCounts = queue.FillStatusCounts(counts)

	return status, nil
}

// inTx runs fn in a transaction. fn must use tx only: the pool has one connection.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}
