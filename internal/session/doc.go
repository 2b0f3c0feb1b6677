// Package session implements the conversation-turn lifecycle, the live
// session registry, and the recently-terminated cache.
//
// # Lifecycle
//
// A session moves through a small state machine:
//
//	Created -> Running -> Completed | Failed | Cancelled
//
// Completed, Failed and Cancelled are terminal; once reached the state never
// changes. New allocates a session in Created, Start transitions it to
// Running and spawns the pump goroutine, and the pump settles the terminal
// state when the engine's event channel closes.
//
// # Event queue
//
// Each session owns one buffered outbound queue with a single writer (the
// pump) and a single reader (the streaming responder). A full queue blocks
// the pump, which in turn stalls the engine: backpressure, never a dropped
// or reordered event. The queue closes exactly once, after the terminal
// event has been delivered or the session was cancelled.
//
// # Cancellation
//
// Cancel is cooperative and one-shot. It cancels the engine context and
// unblocks a pump stuck on a queue whose reader has gone away. A session
// cancelled before Start settles to Cancelled immediately.
package session
