package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	domainerrors "github.com/davidleathers/betting-risk-engine/internal/domain/errors"
)

// PostgreSQL error codes the repositories distinguish.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
)

// IsDuplicateKeyViolation checks if the error is a unique constraint violation
func IsDuplicateKeyViolation(err error) bool {
	return hasCode(err, codeUniqueViolation)
}

// IsForeignKeyViolation checks if the error is a foreign key constraint violation
func IsForeignKeyViolation(err error) bool {
	return hasCode(err, codeForeignKeyViolation)
}

func isSerializationFailure(err error) bool {
	return hasCode(err, codeSerializationFailure)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// IsConnectionError checks if the error is related to database connectivity
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "closed pool")
}

// wrapError maps driver errors onto domain errors. notFound is returned for
// pgx.ErrNoRows; races become ErrConcurrentUpdate; anything else becomes a
// retryable internal error with the driver error as cause.
func wrapError(err error, operation string, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) && notFound != nil {
		return notFound
	}
	if IsDuplicateKeyViolation(err) || isSerializationFailure(err) {
		return domainerrors.ErrConcurrentUpdate
	}
	if IsConnectionError(err) {
		return domainerrors.NewExternalError("postgres", operation).WithCause(err)
	}
	return domainerrors.NewInternalError(operation + " failed").WithCause(err)
}
