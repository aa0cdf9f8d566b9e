package library

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the lending workflow wraps exactly one
// of these, so callers can branch with errors.Is without knowing the detail.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

var (
	ErrEmailTaken         = fmt.Errorf("%w: email already registered", ErrValidation)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	ErrAdminRequired      = fmt.Errorf("%w: only admin users may perform this action", ErrForbidden)
	ErrBookNotFound       = fmt.Errorf("%w: book not found", ErrNotFound)
	ErrUserNotFound       = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrAlreadyBorrowed    = fmt.Errorf("%w: book already borrowed", ErrConflict)
	ErrNotBorrower        = fmt.Errorf("%w: you are not the borrower of this book", ErrConflict)
)

var ErrNilDatabaseConnection = errors.New("nil database connection supplied")

// invalid builds a validation error carrying the offending field.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
