package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsUniqueViolation reports whether err is a unique constraint violation. When
// constraintName is provided the violation must reference that constraint.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}

	if code, constraint, ok := pgCode(err); ok {
		if code != pgUniqueViolation {
			return false
		}
		return constraintName == "" || constraint == constraintName || strings.Contains(err.Error(), constraintName)
	}

	return chainContains(err, func(msg string) bool {
		matched := strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
		return matched && (constraintName == "" || strings.Contains(msg, constraintName))
	})
}

// IsSerializationFailure reports whether the transaction lost a serialization
// conflict and can be re-run from the start.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	if code, _, ok := pgCode(err); ok {
		return code == pgSerializationFailure || code == pgDeadlockDetected
	}
	return chainContains(err, func(msg string) bool {
		return strings.Contains(msg, "could not serialize access") || strings.Contains(msg, "database is locked")
	})
}

// chainContains matches driver messages anywhere in the wrap chain, since
// typed application errors do not repeat their cause in Error().
func chainContains(err error, match func(string) bool) bool {
	for err != nil {
		if match(err.Error()) {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

func pgCode(err error) (string, string, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code, pgxErr.ConstraintName, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	return "", "", false
}
