package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated indicates a missing, invalid or expired credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates an authenticated caller lacking the required grant.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrInvalid indicates malformed input or credential structure.
	ErrInvalid = errors.New("invalid")

	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", ErrUnauthenticated)
	// ErrAccountInactive indicates a deactivated principal attempted to sign in.
	ErrAccountInactive = fmt.Errorf("account inactive: %w", ErrForbidden)
)
