package errors

import (
	"context"
	"errors"
	"regexp"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// reKeyField extracts the column list from a unique violation detail:
// "Key (field)=(value) already exists.".
var reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)

// MapDBError maps database errors to AppError instances:
// - context timeouts/cancellations → Timeout/Canceled
// - pgx.ErrNoRows → NotFound
// - PostgreSQL errors → Storage, with sanitised messages
//
// The raw driver error stays attached as the cause for logging; only the
// sanitised message crosses the API boundary.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{
			Code:    ErrCodeTimeout,
			Message: "storage request timed out",
			Cause:   err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{
			Code:    ErrCodeCanceled,
			Message: "storage request was canceled",
			Cause:   err,
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return &AppError{
			Code:    ErrCodeNotFound,
			Message: "job not found",
			Cause:   err,
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	return err
}

// mapPgError maps PostgreSQL-specific errors to storage errors. The jobs
// table has no foreign keys, so the interesting classes are uniqueness,
// schema constraints, and connection health.
func mapPgError(pgErr *pgconn.PgError) error {
	switch {
	case pgErr.Code == pgerrcode.UniqueViolation:
		message := "storage rejected a conflicting row"
		if field := uniqueViolationField(pgErr); field != "" {
			return &AppError{
				Code:    ErrCodeStorage,
				Message: message,
				Field:   field,
				Cause:   pgErr,
			}
		}
		return &AppError{
			Code:    ErrCodeStorage,
			Message: message,
			Cause:   pgErr,
		}

	case pgErr.Code == pgerrcode.CheckViolation, pgErr.Code == pgerrcode.NotNullViolation:
		return &AppError{
			Code:    ErrCodeStorage,
			Message: "storage rejected a row that violates a schema constraint",
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}

	case pgerrcode.IsConnectionException(pgErr.Code):
		return &AppError{
			Code:    ErrCodeStorage,
			Message: "storage is unavailable",
			Cause:   pgErr,
		}

	default:
		return &AppError{
			Code:    ErrCodeStorage,
			Message: "a storage error occurred",
			Cause:   pgErr,
		}
	}
}

// uniqueViolationField parses the violated column from the error detail.
// ColumnName metadata is preferred when the server provides it.
func uniqueViolationField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if pgErr.Detail != "" {
		if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}
