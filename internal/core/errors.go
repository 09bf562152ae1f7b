package core

import (
	"errors"
	"fmt"
)

// The four error kinds every layer agrees on. Storage and services wrap
// these with context; handlers and the grid controller branch on them with
// errors.Is.
var (
	// ErrValidation marks malformed input. Recoverable locally; the
	// offending edit is rejected before storage is contacted.
	ErrValidation = errors.New("validation failed")

	// ErrConflict marks a uniqueness violation: a second entry for the same
	// (sheet, date, category) cell, or a category name collision.
	ErrConflict = errors.New("conflict")

	// ErrNotFound marks an operation against a sheet, category, entry or
	// annotation that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied marks a PIN rejection by the sheet access guard. The
	// message is deliberately generic: it must not reveal whether the sheet
	// exists.
	ErrAccessDenied = errors.New("access denied")
)

// ValidationErrorf wraps ErrValidation with a reason.
func ValidationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ConflictErrorf wraps ErrConflict with a reason.
func ConflictErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFoundErrorf wraps ErrNotFound with a reason.
func NotFoundErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// IsValidation reports whether err is a validation error, including the
// domain-level sentinels that predate the taxonomy.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrEmptyName) ||
		errors.Is(err, ErrNameTooLong) ||
		errors.Is(err, ErrInvalidPIN) ||
		errors.Is(err, ErrEmptyDescription)
}

// IsConflict reports whether err is a uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied reports whether err is a guard rejection.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
