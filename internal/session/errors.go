// ABOUTME: Typed errors for session creation and registration.
// ABOUTME: ValidationError maps to 400, ConflictError to 409 at the HTTP layer.

package session

import "fmt"

// ValidationError reports a bad or missing request field. No session is
// created when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// ConflictError reports a duplicate client-supplied session id while the
// first session is still active.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session id %q already active", e.ID)
}
