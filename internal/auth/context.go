// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithCaller/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// Caller holds the authenticated identity extracted from a request. It is
// populated by the HTTP middleware and retrieved from context in handlers.
type Caller struct {
	ID string
}

// callerKey is the key type for storing Caller in context.Context.
type callerKey struct{}

// WithCaller returns a new context with the Caller attached.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// FromContext retrieves the Caller from the context, returning nil if not present.
func FromContext(ctx context.Context) *Caller {
	val := ctx.Value(callerKey{})
	if val == nil {
		return nil
	}
	c, ok := val.(*Caller)
	if !ok {
		return nil
	}
	return c
}
