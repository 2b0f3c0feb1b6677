// ABOUTME: Engine interface and request type for starting agent turns.
// ABOUTME: The gateway treats the engine as an opaque async event producer.

package engine

import (
	"context"
	"errors"
)

// ErrEngineUnavailable indicates the engine could not be started at all
// (missing binary, bad configuration). Faults after startup are reported
// in-stream as an error event instead.
var ErrEngineUnavailable = errors.New("engine unavailable")

// Request describes one conversation turn to execute.
type Request struct {
	// Message is the user prompt for this turn.
	Message string

	// WorkDir is the working directory for command execution. Empty means
	// the engine's configured default.
	WorkDir string

	// BypassApprovalsAndSandbox forces approval_policy=never and
	// sandbox_mode=danger-full-access for this turn. Forwarded verbatim
	// from server configuration.
	BypassApprovalsAndSandbox bool
}

// Engine starts a session for a single turn and yields internal events
// until a terminal one. Implementations must honor ctx cancellation by
// stopping emission and closing the channel at their next checkpoint; the
// caller never force-kills agent work through any other mechanism.
//
// The returned channel is owned by the engine: it is the only writer and
// closes the channel when the turn ends, whether by terminal event,
// cancellation, or internal fault.
type Engine interface {
	Execute(ctx context.Context, req *Request) (<-chan Event, error)
}
