// ABOUTME: Session represents one conversation turn end-to-end.
// ABOUTME: Owns the engine handle, one-shot cancellation, and the outbound event queue.

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/seance-gateway/internal/engine"
)

// State is the session lifecycle state. Completed, Failed and Cancelled
// are terminal: once reached the state never changes again.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

// String returns the lowercase wire/storage name of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can occur.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Request is an inbound turn request after JSON decoding. Type must be one
// of the enumerated request types; only message-bearing types start a
// session.
type Request struct {
	Type    string
	Message string
	WorkDir string
	ID      string
}

// Request types accepted by the gateway. Both carry a prompt and execute a
// turn; the original protocol treats them identically.
const (
	TypeUserMessage  = "user_message"
	TypeAgentMessage = "agent_message"
)

// outboundBuffer is the outbound queue capacity. A full queue blocks the
// engine-side pump, which stalls the engine - backpressure, never a drop.
const outboundBuffer = 16

// Session is one isolated conversation turn. The outbound queue has a
// single writer (the pump goroutine feeding from the engine) and a single
// reader (the streaming responder); event order is preserved end to end.
type Session struct {
	ID        string
	Message   string
	WorkDir   string
	CreatedAt time.Time

	events   chan engine.Event
	done     chan struct{}
	cancelCh chan struct{}

	cancelOnce sync.Once
	cancelFn   context.CancelFunc

	mu        sync.Mutex
	state     State
	started   bool
	errorCode string
	endedAt   time.Time

	logger *slog.Logger
}

// New validates the request and allocates a session in StateCreated. A
// client-supplied id is kept verbatim (uniqueness is the registry's
// concern); otherwise a fresh uuid is generated.
func New(req *Request, logger *slog.Logger) (*Session, error) {
	switch req.Type {
	case TypeUserMessage, TypeAgentMessage:
	case "":
		return nil, &ValidationError{Field: "type", Reason: "is required"}
	default:
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("%q is not supported (expected %q or %q)", req.Type, TypeUserMessage, TypeAgentMessage)}
	}
	if req.Message == "" {
		return nil, &ValidationError{Field: "message", Reason: "is required"}
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		ID:        id,
		Message:   req.Message,
		WorkDir:   req.WorkDir,
		CreatedAt: time.Now().UTC(),
		events:    make(chan engine.Event, outboundBuffer),
		done:      make(chan struct{}),
		cancelCh:  make(chan struct{}),
		logger:    logger.With("session_id", id),
	}, nil
}

// Events is the outbound queue. It is read by exactly one consumer and
// closes when the session reaches a terminal state.
func (s *Session) Events() <-chan engine.Event {
	return s.events
}

// Done closes once the session has reached a terminal state and the
// outbound queue is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ErrorCode returns the stable error code for a Failed session, or "".
func (s *Session) ErrorCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorCode
}

// EndedAt returns when the session reached its terminal state, or the zero
// time while it is still live.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Start transitions Created -> Running and begins execution against the
// engine. It returns once the engine has accepted the turn; event delivery
// proceeds on the pump goroutine. The engine context is derived from ctx
// (the server's run context, not the HTTP request) so that in-flight turns
// survive request-scope teardown and stop via Cancel.
func (s *Session) Start(ctx context.Context, eng engine.Engine, bypass bool) error {
	engineCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.state != StateCreated {
		state := s.state
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("cannot start session in state %s", state)
	}
	// Marking started before Execute means a concurrent Cancel takes the
	// running path (cancel the engine context) rather than closing the
	// channels out from under the pump.
	s.state = StateRunning
	s.started = true
	s.cancelFn = cancel
	s.mu.Unlock()

	ch, err := eng.Execute(engineCtx, &engine.Request{
		Message:                   s.Message,
		WorkDir:                   s.WorkDir,
		BypassApprovalsAndSandbox: bypass,
	})
	if err != nil {
		cancel()
		s.mu.Lock()
		s.state = StateFailed
		s.errorCode = "engine_unavailable"
		s.endedAt = time.Now().UTC()
		s.mu.Unlock()
		close(s.events)
		close(s.done)
		return err
	}

	go s.pump(ch)
	return nil
}

// Cancel requests cooperative cancellation. Settable once; later calls are
// no-ops. A session that never started transitions to Cancelled
// immediately; a running one transitions when the engine acknowledges by
// closing its event channel.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancelCh)

		// cancelFn and started are written together under s.mu in Start, so
		// a started session is always observed with its cancel func in place.
		s.mu.Lock()
		cancel := s.cancelFn
		neverStarted := !s.started
		if neverStarted {
			s.state = StateCancelled
			s.endedAt = time.Now().UTC()
		}
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if neverStarted {
			close(s.events)
			close(s.done)
		}
	})
}

// cancelRequested reports whether Cancel has been called.
func (s *Session) cancelRequested() bool {
	select {
	case <-s.cancelCh:
		return true
	default:
		return false
	}
}

// pump forwards engine events into the outbound queue until the engine
// channel closes, then settles the terminal state. It is the only writer
// to s.events and always closes it exactly once.
func (s *Session) pump(ch <-chan engine.Event) {
	var terminal *engine.Event

	for ev := range ch {
		if terminal != nil || s.cancelRequested() {
			// Draining: the engine is shutting down, nothing more is delivered.
			continue
		}

		select {
		case s.events <- ev:
		case <-s.cancelCh:
			continue
		}

		if ev.Kind.Terminal() {
			t := ev
			terminal = &t
		}
	}

	s.settle(terminal)
}

// settle records the terminal state after the engine channel has closed,
// synthesizing one error event if the engine stopped without a terminal.
func (s *Session) settle(terminal *engine.Event) {
	s.mu.Lock()
	switch {
	case s.state.Terminal():
		// Cancel-before-start already settled; nothing to do.
		s.mu.Unlock()
		return
	case terminal != nil && terminal.Kind == engine.KindTaskComplete:
		s.state = StateCompleted
	case terminal != nil:
		s.state = StateFailed
		s.errorCode = "engine_error"
		if terminal.Err != nil && terminal.Err.Code != "" {
			s.errorCode = terminal.Err.Code
		}
	case s.cancelRequested():
		s.state = StateCancelled
	default:
		s.state = StateFailed
		s.errorCode = "engine_exit"
	}
	synthesize := s.state == StateFailed && terminal == nil
	s.endedAt = time.Now().UTC()
	state := s.state
	s.mu.Unlock()

	if synthesize {
		ev := engine.Event{Kind: engine.KindError, Err: &engine.ErrorInfo{
			Code:    "engine_exit",
			Message: "engine stopped before completing the turn",
		}}
		select {
		case s.events <- ev:
		case <-s.cancelCh:
		}
	}

	s.logger.Debug("session settled", "state", state.String())
	close(s.events)
	close(s.done)
}
