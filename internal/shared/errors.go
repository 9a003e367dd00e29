package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPrecondition indicates an invalid state transition or an empty
	// required collection. The caller gets the full reason via Precondition.
	ErrPrecondition = errors.New("precondition failed")
	// ErrDependency indicates the record store rejected a write. Opaque to
	// callers; the underlying cause stays wrapped for logs.
	ErrDependency = errors.New("dependency failure")
)

// Precondition wraps ErrPrecondition with a caller-facing reason.
func Precondition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// Dependency wraps a store error as ErrDependency, keeping the cause.
func Dependency(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrDependency, err)
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPrecondition reports whether err is a precondition failure.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPrecondition)
}
