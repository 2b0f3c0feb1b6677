// Package gateway orchestrates the seance-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the seance-gateway
// server. It owns and manages the HTTP server, the agent engine, the data
// store, the live session registry, and the retention janitor.
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST /messages - Execute a turn (SSE streaming response)
//   - GET /sessions - List session records with aggregate usage totals
//   - GET /sessions/{id} - Inspect one session
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//   - GET /metrics - Prometheus metrics (when enabled)
//
// # SSE Streaming
//
// Engine events are streamed as Server-Sent Events:
//
//	event: started
//	data: {"session_id": "..."}
//
//	event: agent_message
//	data: {"message": "Hello!"}
//
//	event: task_complete
//	data: {"last_agent_message": "Hello!"}
//
// Event types: started, task_started, agent_message_delta, agent_message,
// agent_reasoning, tool_call_begin, tool_call_end, approval_request,
// token_count, task_complete, error.
//
// A comment ping (": ping") is written periodically to keep idle proxies
// from closing the stream. The stream ends after the terminal event;
// engine faults after headers are sent arrive as in-stream error events on
// an HTTP 200.
//
// # Cancellation
//
// Client disconnect cancels the running session cooperatively. The session
// settles to Cancelled and its record is updated like any other terminal
// state.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Graceful shutdown:
//
//	cancel()
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown
//   - api.go: HTTP handlers and session settlement
//   - stream.go: SSE streaming responder
//   - tailscale.go: tsnet listener setup
package gateway
