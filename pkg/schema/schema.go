// Package schema applies the embedded SQL migrations of a store with goose.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/pressly/goose/v3"
)

// DefaultTable records applied migration versions.
const DefaultTable = "taskq_schema_migrations"

var (
	ErrFailedToApplyMigrations = errors.New("failed to apply migrations")
	ErrFailedToResetSchema     = errors.New("failed to reset schema")
	ErrUnknownVersion          = errors.New("failed to read schema version")
)

// goose keeps dialect, base FS and table name in package globals.
var gooseMu sync.Mutex

// Migrator runs one store's migrations against one database.
type Migrator struct {
	db      *sql.DB
	dialect goose.Dialect
	fsys    fs.FS
	dir     string
	table   string
	logger  *slog.Logger
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithTable overrides DefaultTable.
func WithTable(name string) Option {
	return func(m *Migrator) {
		if name != "" {
			m.table = name
		}
	}
}

// WithDir sets the directory inside fsys holding the .sql files. Defaults to ".".
func WithDir(dir string) Option {
	return func(m *Migrator) {
		if dir != "" {
			m.dir = dir
		}
	}
}

// WithLogger routes goose output to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a Migrator. dialect is goose.DialectPostgres or goose.DialectSQLite3.
func New(db *sql.DB, dialect goose.Dialect, fsys fs.FS, opts ...Option) *Migrator {
	m := &Migrator{
		db:      db,
		dialect: dialect,
		fsys:    fsys,
		dir:     ".",
		table:   DefaultTable,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies every pending migration. It is safe to call repeatedly.
func (m *Migrator) Up(ctx context.Context) error {
	return m.with(func() error {
		if err := goose.UpContext(ctx, m.db, m.dir); err != nil {
			return errors.Join(ErrFailedToApplyMigrations, err)
		}
		return nil
	})
}

// Reset rolls every migration back and applies them again. All data is lost.
func (m *Migrator) Reset(ctx context.Context) error {
	return m.with(func() error {
		if err := goose.DownToContext(ctx, m.db, m.dir, 0); err != nil {
			return errors.Join(ErrFailedToResetSchema, err)
		}
		if err := goose.UpContext(ctx, m.db, m.dir); err != nil {
			return errors.Join(ErrFailedToApplyMigrations, err)
		}
		return nil
	})
}

// Version returns the latest applied migration, 0 for an empty database.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	var version int64
	err := m.with(func() error {
		v, err := goose.GetDBVersionContext(ctx, m.db)
		if err != nil {
			return errors.Join(ErrUnknownVersion, err)
		}
		version = v
		return nil
	})
	return version, err
}

func (m *Migrator) with(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(m.fsys)
	defer goose.SetBaseFS(nil)

	goose.SetLogger(newSlogAdapter(m.logger))
	goose.SetTableName(m.table)
	if err := goose.SetDialect(string(m.dialect)); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	return fn()
}

// slogAdapter bridges goose's Printf-style logging to structured logging.
type slogAdapter struct {
	log *slog.Logger
}

func newSlogAdapter(log *slog.Logger) goose.Logger {
	return &slogAdapter{log: log.With(slog.String("component", "schema"))}
}

func (a *slogAdapter) Fatalf(format string, v ...any) {
	a.log.ErrorContext(context.Background(), fmt.Sprintf(format, v...))
}

func (a *slogAdapter) Printf(format string, v ...any) {
	a.log.InfoContext(context.Background(), fmt.Sprintf(format, v...))
}
