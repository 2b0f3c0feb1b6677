// ABOUTME: Tests for the event codec.
// ABOUTME: Every engine kind has one wire shape; malformed events fail loudly.

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/seance-gateway/internal/engine"
)

func TestEncode_KnownKinds(t *testing.T) {
	tests := []struct {
		name     string
		event    engine.Event
		wantType string
		wantData any
	}{
		{
			name:     "task started",
			event:    engine.Event{Kind: engine.KindTaskStarted},
			wantType: "task_started",
			wantData: map[string]any{},
		},
		{
			name:     "message delta",
			event:    engine.Event{Kind: engine.KindAgentMessageDelta, Message: "par"},
			wantType: "agent_message_delta",
			wantData: map[string]string{"delta": "par"},
		},
		{
			name:     "message",
			event:    engine.Event{Kind: engine.KindAgentMessage, Message: "hello"},
			wantType: "agent_message",
			wantData: map[string]string{"message": "hello"},
		},
		{
			name:     "reasoning",
			event:    engine.Event{Kind: engine.KindAgentReasoning, Message: "thinking"},
			wantType: "agent_reasoning",
			wantData: map[string]string{"text": "thinking"},
		},
		{
			name: "tool call begin",
			event: engine.Event{Kind: engine.KindToolCallBegin, ToolCall: &engine.ToolCall{
				ID: "t1", Name: "shell", InputJSON: `{"cmd":"ls"}`, Cwd: "/tmp",
			}},
			wantType: "tool_call_begin",
			wantData: map[string]any{"id": "t1", "name": "shell", "input_json": `{"cmd":"ls"}`, "cwd": "/tmp"},
		},
		{
			name: "tool call end",
			event: engine.Event{Kind: engine.KindToolCallEnd, ToolResult: &engine.ToolResult{
				ID: "t1", Output: "file.txt", IsError: false,
			}},
			wantType: "tool_call_end",
			wantData: map[string]any{"id": "t1", "output": "file.txt", "is_error": false},
		},
		{
			name: "approval request",
			event: engine.Event{Kind: engine.KindApprovalRequest, Approval: &engine.ApprovalRequest{
				ID: "a1", ToolName: "shell", Reason: "writes outside workspace",
			}},
			wantType: "approval_request",
			wantData: map[string]string{"id": "a1", "tool_name": "shell", "reason": "writes outside workspace"},
		},
		{
			name: "token count",
			event: engine.Event{Kind: engine.KindTokenCount, Usage: &engine.TokenUsage{
				InputTokens: 100, OutputTokens: 20, CachedTokens: 5,
			}},
			wantType: "token_count",
			wantData: map[string]int64{"input_tokens": 100, "output_tokens": 20, "cached_tokens": 5},
		},
		{
			name:     "task complete",
			event:    engine.Event{Kind: engine.KindTaskComplete, LastAgentMessage: "all done"},
			wantType: "task_complete",
			wantData: map[string]string{"last_agent_message": "all done"},
		},
		{
			name: "error",
			event: engine.Event{Kind: engine.KindError, Err: &engine.ErrorInfo{
				Code: "model_overloaded", Message: "try later",
			}},
			wantType: "error",
			wantData: map[string]string{"code": "model_overloaded", "error": "try later"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := Encode(tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, wire.Type)
			assert.Equal(t, tt.wantData, wire.Data)
		})
	}
}

func TestEncode_ToolCallBeginOmitsEmptyCwd(t *testing.T) {
	wire, err := Encode(engine.Event{Kind: engine.KindToolCallBegin, ToolCall: &engine.ToolCall{
		ID: "t1", Name: "shell",
	}})
	require.NoError(t, err)

	data, ok := wire.Data.(map[string]any)
	require.True(t, ok)
	_, hasCwd := data["cwd"]
	assert.False(t, hasCwd)
}

func TestEncode_ErrorDefaults(t *testing.T) {
	wire, err := Encode(engine.Event{Kind: engine.KindError})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"code": "engine_error", "error": "engine error"}, wire.Data)
}

func TestEncode_MissingPayloads(t *testing.T) {
	tests := []struct {
		name  string
		event engine.Event
	}{
		{"tool call begin without tool_call", engine.Event{Kind: engine.KindToolCallBegin}},
		{"tool call end without tool_result", engine.Event{Kind: engine.KindToolCallEnd}},
		{"approval request without approval", engine.Event{Kind: engine.KindApprovalRequest}},
		{"token count without usage", engine.Event{Kind: engine.KindTokenCount}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.event)
			require.Error(t, err)
			var cerr *CodecError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.event.Kind, cerr.Kind)
		})
	}
}

func TestEncode_UnknownKind(t *testing.T) {
	_, err := Encode(engine.Event{Kind: engine.Kind("telepathy")})
	require.Error(t, err)
	var cerr *CodecError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Error(), "telepathy")
}
