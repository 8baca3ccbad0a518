package pg

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrEmptyConnectionString = errors.New("pg: empty connection string, set TASKQ_DATABASE_URL")
	ErrFailedToParseDBConfig = errors.New("pg: invalid connection string")
	// ErrFailedToOpenDBConnection is returned once every connect attempt has failed.
	ErrFailedToOpenDBConnection = errors.New("pg: server did not accept connections")
	ErrHealthcheckFailed        = errors.New("pg: ping failed")
)

const (
	codeUniqueViolation = "23505"
	codeUndefinedTable  = "42P01"
)

// IsNotFoundError reports whether a single-row query matched nothing.
func IsNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsDuplicateKeyError reports a unique constraint violation, which the
// store maps to queue.ErrTaskExists.
func IsDuplicateKeyError(err error) bool {
	return hasCode(err, codeUniqueViolation)
}

// IsUndefinedTableError reports a query against a missing table. Schema
// status treats it as an unmigrated database rather than a failure.
func IsUndefinedTableError(err error) bool {
	return hasCode(err, codeUndefinedTable)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
