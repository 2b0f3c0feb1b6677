// Package engine is the boundary to the agent backend.
//
// An Engine executes one conversation turn and yields internal events on a
// channel until a terminal event (task_complete or error). ProcEngine is
// the production implementation: it spawns the configured agent CLI per
// turn, writes the request as one JSON line on stdin, and parses stdout as
// JSONL events. Scripted replays a fixed event sequence for tests and demo
// mode.
//
// Engines are opaque to the rest of the gateway: the session layer owns
// lifecycle and cancellation, the codec owns wire translation. Nothing
// above this package knows whether events came from a subprocess or a
// script.
package engine
