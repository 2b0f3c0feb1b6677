// ABOUTME: Translates internal engine events into wire events for SSE framing.
// ABOUTME: Pure and total over known kinds; unknown kinds fail loudly, never silently.

package codec

import (
	"fmt"

	"github.com/2389/seance-gateway/internal/engine"
)

// WireEvent is the JSON/SSE representation of one internal event. Type
// becomes the SSE event name and Data the JSON payload. Immutable once
// constructed.
type WireEvent struct {
	Type string
	Data any
}

// CodecError reports an internal event the codec cannot represent. The
// gateway treats it as an engine fault; it must never be swallowed.
type CodecError struct {
	Kind   engine.Kind
	Reason string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec: cannot encode event kind %q: %s", e.Kind, e.Reason)
}

// Encode maps an internal event to its single wire representation. Every
// kind the engine can emit has exactly one wire shape; an unknown or
// malformed event returns a *CodecError so protocol drift surfaces as a
// visible fault instead of a missing frame.
func Encode(ev engine.Event) (*WireEvent, error) {
	switch ev.Kind {
	case engine.KindTaskStarted:
		return &WireEvent{Type: "task_started", Data: map[string]any{}}, nil

	case engine.KindAgentMessageDelta:
		return &WireEvent{Type: "agent_message_delta", Data: map[string]string{"delta": ev.Message}}, nil

	case engine.KindAgentMessage:
		return &WireEvent{Type: "agent_message", Data: map[string]string{"message": ev.Message}}, nil

	case engine.KindAgentReasoning:
		return &WireEvent{Type: "agent_reasoning", Data: map[string]string{"text": ev.Message}}, nil

	case engine.KindToolCallBegin:
		if ev.ToolCall == nil {
			return nil, &CodecError{Kind: ev.Kind, Reason: "missing tool_call payload"}
		}
		data := map[string]any{
			"id":         ev.ToolCall.ID,
			"name":       ev.ToolCall.Name,
			"input_json": ev.ToolCall.InputJSON,
		}
		if ev.ToolCall.Cwd != "" {
			data["cwd"] = ev.ToolCall.Cwd
		}
		return &WireEvent{Type: "tool_call_begin", Data: data}, nil

	case engine.KindToolCallEnd:
		if ev.ToolResult == nil {
			return nil, &CodecError{Kind: ev.Kind, Reason: "missing tool_result payload"}
		}
		return &WireEvent{Type: "tool_call_end", Data: map[string]any{
			"id":       ev.ToolResult.ID,
			"output":   ev.ToolResult.Output,
			"is_error": ev.ToolResult.IsError,
		}}, nil

	case engine.KindApprovalRequest:
		if ev.Approval == nil {
			return nil, &CodecError{Kind: ev.Kind, Reason: "missing approval payload"}
		}
		return &WireEvent{Type: "approval_request", Data: map[string]string{
			"id":        ev.Approval.ID,
			"tool_name": ev.Approval.ToolName,
			"reason":    ev.Approval.Reason,
		}}, nil

	case engine.KindTokenCount:
		if ev.Usage == nil {
			return nil, &CodecError{Kind: ev.Kind, Reason: "missing usage payload"}
		}
		return &WireEvent{Type: "token_count", Data: map[string]int64{
			"input_tokens":  ev.Usage.InputTokens,
			"output_tokens": ev.Usage.OutputTokens,
			"cached_tokens": ev.Usage.CachedTokens,
		}}, nil

	case engine.KindTaskComplete:
		return &WireEvent{Type: "task_complete", Data: map[string]string{
			"last_agent_message": ev.LastAgentMessage,
		}}, nil

	case engine.KindError:
		code, message := "engine_error", "engine error"
		if ev.Err != nil {
			if ev.Err.Code != "" {
				code = ev.Err.Code
			}
			if ev.Err.Message != "" {
				message = ev.Err.Message
			}
		}
		return &WireEvent{Type: "error", Data: map[string]string{
			"code":  code,
			"error": message,
		}}, nil

	default:
		return nil, &CodecError{Kind: ev.Kind, Reason: "unknown event kind"}
	}
}
