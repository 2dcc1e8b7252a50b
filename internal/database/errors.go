package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/canectors/flow/internal/errhandling"
)

// Error categories for database operations
const (
	CategoryConnection  = "connection"
	CategoryQuery       = "query"
	CategoryConstraint  = "constraint"
	CategoryTransaction = "transaction"
	CategoryBusy        = "busy"
	CategoryTimeout     = "timeout"
)

// DatabaseError is a categorized database error.
//
//nolint:revive // database.DatabaseError reads fine at call sites
type DatabaseError struct {
	Category    string
	Operation   string
	Message     string
	Query       string
	OriginalErr error
	Retryable   bool
}

func (e *DatabaseError) Error() string {
	msg := fmt.Sprintf("database %s error: %s", e.Category, e.Message)
	if e.Operation != "" {
		msg = fmt.Sprintf("database %s error in %s: %s", e.Category, e.Operation, e.Message)
	}
	if e.OriginalErr != nil {
		msg += fmt.Sprintf(" (original: %v)", e.OriginalErr)
	}
	return msg
}

func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// NewConnectionError creates a connection error. Connection errors are retryable.
func NewConnectionError(message string, originalErr error) *DatabaseError {
	return &DatabaseError{Category: CategoryConnection, Operation: "connect", Message: message, OriginalErr: originalErr, Retryable: true}
}

// Classify turns a driver error into a *DatabaseError. Errors that must not be
// retried are additionally marked permanent for the retry policy. A nil err
// yields nil.
func Classify(err error, operation, query string) error {
	if err == nil {
		return nil
	}
	dbErr := classify(err, operation, sanitizeQuery(query))
	if !dbErr.Retryable {
		return errhandling.Permanent(dbErr)
	}
	return dbErr
}

func classify(err error, operation, query string) *DatabaseError {
	de := &DatabaseError{Category: CategoryQuery, Operation: operation, Query: query, OriginalErr: err}

	if errors.Is(err, context.Canceled) {
		de.Category, de.Message = CategoryTimeout, "operation canceled"
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) {
		de.Category, de.Message, de.Retryable = CategoryTimeout, "operation timed out", true
		return de
	}

	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			de.Category, de.Message, de.Retryable = CategoryBusy, "database is locked", true
		case sqlite3.ErrConstraint:
			de.Category, de.Message = CategoryConstraint, constraintMessage(sqlErr)
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrFull:
			de.Category, de.Message = CategoryConnection, sqlErr.Code.Error()
			de.Retryable = sqlErr.Code == sqlite3.ErrIoErr
		case sqlite3.ErrReadonly, sqlite3.ErrPerm, sqlite3.ErrAuth:
			de.Category, de.Message = CategoryConnection, sqlErr.Code.Error()
		default:
			de.Message = sqlErr.Error()
		}
		return de
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax error"):
		de.Message = "SQL syntax error"
	case strings.Contains(msg, "database is locked"):
		de.Category, de.Message, de.Retryable = CategoryBusy, "database is locked", true
	default:
		de.Message = err.Error()
	}
	return de
}

func constraintMessage(err sqlite3.Error) string {
	switch err.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return "unique constraint violation: duplicate value exists"
	case sqlite3.ErrConstraintForeignKey:
		return "foreign key constraint violation"
	case sqlite3.ErrConstraintNotNull:
		return "not-null constraint violation: required field is null"
	case sqlite3.ErrConstraintCheck:
		return "check constraint violation"
	default:
		return "constraint violation"
	}
}

// sanitizeQuery truncates long queries for error messages.
func sanitizeQuery(query string) string {
	if len(query) > 500 {
		return query[:500] + "... (truncated)"
	}
	return query
}

// IsRetryableError reports whether err is a retryable database error.
func IsRetryableError(err error) bool {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr.Retryable && errhandling.IsRetryable(err)
	}
	return false
}
