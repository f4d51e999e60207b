package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by operations that require an existing record
// (SetDefault, ClearDefault). Plain lookups report absence as an empty
// result instead so callers choose the response.
var ErrNotFound = errors.New("record not found")

// FieldError describes one schema violation on a named field.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidationError reports every offending field of a create/update input.
// It is raised before any disk mutation.
type ValidationError struct {
	Entity string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Entity, strings.Join(parts, "; "))
}

// LockTimeoutError indicates the exclusive file lock could not be acquired
// within its bound. The store never retries; retry policy belongs to the
// caller.
type LockTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock on %s not acquired within %s", e.Path, e.Timeout)
}

// MigrationError wraps a failed migration step. The data version marker is
// left at its pre-migration value so a retry resumes from the same state.
type MigrationError struct {
	From string
	To   string
	Err  error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s->%s failed: %v", e.From, e.To, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// IsLockTimeout reports whether err is (or wraps) a lock acquisition timeout.
func IsLockTimeout(err error) bool {
	var lt *LockTimeoutError
	return errors.As(err, &lt)
}

// IsValidation reports whether err is (or wraps) a schema validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
