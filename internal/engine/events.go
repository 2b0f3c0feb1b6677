// ABOUTME: Internal event model emitted by agent engines during a turn.
// ABOUTME: Kinds mirror the engine protocol; task_complete and error are terminal.

package engine

// Kind identifies the type of an internal engine event. The zero value is
// not a valid kind; unknown kinds are preserved so that protocol drift
// surfaces loudly at the codec instead of being dropped.
type Kind string

const (
	KindTaskStarted       Kind = "task_started"
	KindAgentMessageDelta Kind = "agent_message_delta"
	KindAgentMessage      Kind = "agent_message"
	KindAgentReasoning    Kind = "agent_reasoning"
	KindToolCallBegin     Kind = "tool_call_begin"
	KindToolCallEnd       Kind = "tool_call_end"
	KindApprovalRequest   Kind = "approval_request"
	KindTokenCount        Kind = "token_count"
	KindTaskComplete      Kind = "task_complete"
	KindError             Kind = "error"
)

// Terminal reports whether an event of this kind ends the session.
func (k Kind) Terminal() bool {
	return k == KindTaskComplete || k == KindError
}

// Event is one internal event from an engine. Exactly the payload field
// matching Kind is set; the rest are nil or empty. Events are immutable
// once constructed.
//
// The JSON shape doubles as the subprocess line protocol (one event per
// stdout line).
type Event struct {
	Kind Kind `json:"type"`

	// Message carries text for agent_message (complete message),
	// agent_message_delta (the delta) and agent_reasoning.
	Message string `json:"message,omitempty"`

	// ToolCall is set for tool_call_begin.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// ToolResult is set for tool_call_end.
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// Approval is set for approval_request.
	Approval *ApprovalRequest `json:"approval,omitempty"`

	// Usage is set for token_count.
	Usage *TokenUsage `json:"usage,omitempty"`

	// Err is set for error.
	Err *ErrorInfo `json:"error,omitempty"`

	// LastAgentMessage is set for task_complete.
	LastAgentMessage string `json:"last_agent_message,omitempty"`
}

// ToolCall represents a tool invocation started by the agent.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	InputJSON string `json:"input_json"`
	Cwd       string `json:"cwd,omitempty"`
}

// ToolResult represents the outcome of a tool invocation.
type ToolResult struct {
	ID      string `json:"id"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error"`
}

// ApprovalRequest asks the operator to approve a pending tool call. With
// approvals bypassed the engine never emits these.
type ApprovalRequest struct {
	ID       string `json:"id"`
	ToolName string `json:"tool_name"`
	Reason   string `json:"reason,omitempty"`
}

// TokenUsage reports token consumption for the turn so far.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	CachedTokens int64 `json:"cached_tokens"`
}

// ErrorInfo carries a stable error code plus a human-readable message.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
