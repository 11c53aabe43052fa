package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// SQLSTATE codes a transaction can be retried after.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsTransient reports whether err is a conflict that a fresh attempt of the
// same transaction may not hit: a serialization failure or deadlock on
// Postgres, or a busy database file on SQLite.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return transientCode(pgxErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return transientCode(string(pqErr.Code))
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func transientCode(code string) bool {
	return code == pgSerializationFailure || code == pgDeadlockDetected
}
