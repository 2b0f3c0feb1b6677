// ABOUTME: Scripted in-memory engine for tests and demo mode.
// ABOUTME: Emits a fixed event sequence with optional delay and honors cancellation.

package engine

import (
	"context"
	"sync"
	"time"
)

// Scripted is an Engine that replays a fixed event script. It is used by
// tests across packages and by the gateway's demo mode; like the store
// mock, it lives in the package it fakes.
type Scripted struct {
	// Script is the event sequence to emit, in order.
	Script []Event

	// Delay is an optional pause before each event, giving tests a window
	// to cancel mid-stream.
	Delay time.Duration

	// StartErr, when set, is returned from Execute before any events.
	StartErr error

	mu       sync.Mutex
	requests []*Request
}

// EchoScript returns a minimal successful turn: started, one message, complete.
func EchoScript(message string) []Event {
	return []Event{
		{Kind: KindTaskStarted},
		{Kind: KindAgentMessage, Message: message},
		{Kind: KindTaskComplete, LastAgentMessage: message},
	}
}

// Execute implements Engine.
func (s *Scripted) Execute(ctx context.Context, req *Request) (<-chan Event, error) {
	if s.StartErr != nil {
		return nil, s.StartErr
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	script := make([]Event, len(s.Script))
	copy(script, s.Script)
	s.mu.Unlock()

	out := make(chan Event, eventBufferSize)
	go func() {
		defer close(out)
		for _, ev := range script {
			if s.Delay > 0 {
				select {
				case <-time.After(s.Delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Kind.Terminal() {
				return
			}
		}
	}()
	return out, nil
}

// Requests returns the requests Execute has seen, in order.
func (s *Scripted) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Request, len(s.requests))
	copy(out, s.requests)
	return out
}
