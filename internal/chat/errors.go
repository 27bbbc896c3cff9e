package chat

import (
	"errors"
	"fmt"
)

// Sentinel errors for chat operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAuthRequired indicates no owner identity was available for a
	// session operation.
	ErrAuthRequired = errors.New("owner identity required")

	// ErrSessionNotFound indicates the store has no session with the given ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrClosed indicates the engine has been closed.
	ErrClosed = errors.New("engine closed")
)

// StoreError reports a failed gateway call.
type StoreError struct {
	Op        string // operation that failed, e.g. OpCreateSession
	SessionID string // empty for operations on an ephemeral session
	Err       error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// ValidationError reports input the engine refuses to act on.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// storeError wraps a gateway failure. Auth failures keep their own identity
// so callers can tell "sign in" apart from "try again".
func storeError(op, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuthRequired) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &StoreError{Op: op, SessionID: sessionID, Err: err}
}
