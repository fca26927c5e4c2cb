package database

import (
	stderrors "errors"
	"strings"

	"github.com/lib/pq"

	"github.com/medflow/pharmacy-ledger/pkg/errors"
)

// PostgreSQL error codes the ledger reacts to
const (
	CodeNumericOutOfRange    = "22003"
	CodeCheckViolation       = "23514"
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeNotNullViolation     = "23502"
	CodeRaiseException       = "P0001"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
)

// AsPQError unwraps a *pq.Error from err
func AsPQError(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

// IsTransientConflict reports errors that disappear when the transaction is
// retried: serialization failures, deadlocks and lock timeouts.
func IsTransientConflict(err error) bool {
	pqErr, ok := AsPQError(err)
	if !ok {
		return false
	}
	switch pqErr.Code {
	case CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable:
		return true
	}
	return false
}

// IsCheckViolation reports a CHECK failure on the named constraint
func IsCheckViolation(err error, constraint string) bool {
	pqErr, ok := AsPQError(err)
	return ok && pqErr.Code == CodeCheckViolation && pqErr.Constraint == constraint
}

// IsUniqueViolation reports a unique failure on the named constraint
func IsUniqueViolation(err error, constraint string) bool {
	pqErr, ok := AsPQError(err)
	return ok && pqErr.Code == CodeUniqueViolation && pqErr.Constraint == constraint
}

// IsForeignKeyViolation reports a foreign key failure on the named constraint
func IsForeignKeyViolation(err error, constraint string) bool {
	pqErr, ok := AsPQError(err)
	return ok && pqErr.Code == CodeForeignKeyViolation && pqErr.Constraint == constraint
}

// IsNumericOutOfRange reports a value that does not fit its column type
func IsNumericOutOfRange(err error) bool {
	pqErr, ok := AsPQError(err)
	return ok && pqErr.Code == CodeNumericOutOfRange
}

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := AsPQError(err)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case CodeCheckViolation:
		return errors.BadRequest("data validation failed: " + pqErr.Constraint)

	// Unique constraint violation (23505)
	case CodeUniqueViolation:
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case CodeForeignKeyViolation:
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case CodeNotNullViolation:
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	// Numeric value out of range (22003)
	case CodeNumericOutOfRange:
		return errors.Validation(map[string]string{
			"quantity": "value out of range",
		})

	// Raised by the append-only trigger on movements
	case CodeRaiseException:
		return errors.Conflict(pqErr.Message)

	case CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable:
		return errors.Conflict("concurrent update, please retry").MarkRetryable()

	default:
		return nil
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "lot_code"):
		return "a batch with this lot code already exists for the medicine"
	case strings.Contains(constraint, "original_movement"):
		return "the movement has already been reversed"
	default:
		return "a record with these values already exists"
	}
}
