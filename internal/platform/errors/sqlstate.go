package errors

// Backend-specific helpers mapping database driver errors to project ErrorCode
// and retry semantics. The content store runs on either SQLite (modernc) or
// Postgres (pgx via database/sql), so both families are recognized here.

import (
	"context"
	"database/sql"
	stderrs "errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	sqlite3 "modernc.org/sqlite"
)

// IsNoRows reports whether err is the driver's empty-result sentinel
func IsNoRows(err error) bool { return stderrs.Is(err, sql.ErrNoRows) }

// Common Postgres SQLSTATE codes we care about
const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrNotNullViolation    = "23502"

	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
	pgErrLockNotAvailable     = "55P03"
)

// SQLite primary result and extended result codes we care about
const (
	sqliteErrBusy                 = 5
	sqliteErrLocked               = 6
	sqliteErrConstraint           = 19
	sqliteErrConstraintPrimaryKey = 1555
	sqliteErrConstraintUnique     = 2067
)

// ExtractPgError returns (*pgconn.PgError, true) if the root cause is a PgError
func ExtractPgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if stderrs.As(Root(err), &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// ExtractSQLiteError returns (*sqlite3.Error, true) if the root cause is a sqlite error
func ExtractSQLiteError(err error) (*sqlite3.Error, bool) {
	var sqErr *sqlite3.Error
	if stderrs.As(Root(err), &sqErr) {
		return sqErr, true
	}
	return nil, false
}

// IsSQLState reports whether the error is a Postgres error with the given SQLSTATE code
func IsSQLState(err error, code string) bool {
	pgErr, ok := ExtractPgError(err)
	return ok && pgErr.Code == code
}

// IsDuplicateKey reports whether the error is a unique constraint violation
// on either backend
func IsDuplicateKey(err error) bool {
	if IsSQLState(err, pgErrUniqueViolation) {
		return true
	}
	if sqErr, ok := ExtractSQLiteError(err); ok {
		switch sqErr.Code() {
		case sqliteErrConstraintPrimaryKey, sqliteErrConstraintUnique:
			return true
		}
	}
	// database/sql drivers sometimes surface only text
	s := strings.ToLower(rootText(err))
	return strings.Contains(s, "unique constraint")
}

// IsForeignKeyViolation reports whether the error is a foreign key constraint violation
func IsForeignKeyViolation(err error) bool {
	if IsSQLState(err, pgErrForeignKeyViolation) {
		return true
	}
	return strings.Contains(strings.ToLower(rootText(err)), "foreign key constraint")
}

// FromDB wraps a driver error into an *Error with the closest ErrorCode
func FromDB(err error, msg string) error {
	if err == nil {
		return nil
	}
	switch {
	case IsDuplicateKey(err):
		return Wrap(err, ErrorCodeDuplicateKey, msg)
	case IsRetryable(err):
		return Wrap(err, ErrorCodeUnavailable, msg)
	default:
		return Wrap(err, ErrorCodeDB, msg)
	}
}

// IsRetryable reports whether a database error represents a transient condition
// worth retrying. Handles structured *pgconn.PgError codes, sqlite busy/locked,
// and the generic driver text seen on commit
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Do not retry local cancellations/timeouts; let the caller decide higher-level retries
	if stderrs.Is(err, context.Canceled) || stderrs.Is(err, context.DeadlineExceeded) {
		return false
	}

	root := Root(err)

	var pgErr *pgconn.PgError
	if stderrs.As(root, &pgErr) {
		switch pgErr.Code {
		case pgErrSerializationFailure, pgErrDeadlockDetected, pgErrLockNotAvailable:
			return true
		default:
			return false
		}
	}

	var sqErr *sqlite3.Error
	if stderrs.As(root, &sqErr) {
		switch sqErr.Code() {
		case sqliteErrBusy, sqliteErrLocked:
			return true
		default:
			return false
		}
	}

	s := strings.ToLower(root.Error())
	switch {
	case strings.Contains(s, "commit unexpectedly resulted in rollback"),
		strings.Contains(s, "deadlock detected"),
		strings.Contains(s, "could not serialize access"),
		strings.Contains(s, "database is locked"),
		strings.Contains(s, "database table is locked"):
		return true
	default:
		return false
	}
}

func rootText(err error) string {
	if err == nil {
		return ""
	}
	return Root(err).Error()
}
