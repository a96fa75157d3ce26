package providers

import "encoding/json"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"

	// RoleModel is Gemini's name for the assistant.
	RoleModel = "model"

	ToolTypeFunction = "function"

	// DefaultTemperature is used when the caller does not send one.
	DefaultTemperature = 0.3
)

// Turn is one entry of the provider-neutral conversation. Its JSON form is the
// OpenAI chat message shape the browser UI speaks.
type Turn struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is an assistant's request to invoke a tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDeclaration describes a callable tool supplied by the caller.
type ToolDeclaration struct {
	Name        string
	Description string
	// Parameters is the JSON schema object, nil when the caller omitted it.
	Parameters json.RawMessage
	// Raw is the declaration's function object exactly as received.
	Raw json.RawMessage
}

// ChatRequest is the browser's chat payload after lenient parsing.
type ChatRequest struct {
	Model       string
	Turns       []Turn
	Tools       []ToolDeclaration
	System      string
	Temperature *float64
	MaxTokens   int

	// RawMessages holds every object element of messages[] verbatim.
	RawMessages []json.RawMessage
	// Raw is the complete request body.
	Raw []byte
}

// Usage is token accounting in OpenAI field names.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is a native response normalized to the neutral shape.
type Completion struct {
	ID           string
	Model        string
	Message      Turn
	FinishReason string
	Usage        *Usage
}
