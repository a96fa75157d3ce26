package providers

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// OpenAIProvider serves OpenAI-compatible chat completion APIs. The neutral
// conversation already is this protocol's messages[], so requests are passed
// through and responses are relayed untouched.
type OpenAIProvider struct {
	name string
}

func NewOpenAIProvider() *OpenAIProvider {
	return &OpenAIProvider{
		name: "openai",
	}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) URL(apiBase, _ string) string {
	return apiBase
}

// TransformRequest keeps the caller's body and only normalizes what the
// upstream would reject: messages must be an array, tools must be wrapped
// function entries, and a top-level system field becomes a leading system
// message.
func (p *OpenAIProvider) TransformRequest(req ChatRequest) ([]byte, error) {
	body := req.Raw
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		body = []byte(`{}`)
	}

	messages := ToPassthroughMessages(req)

	var err error
	if body, err = sjson.SetBytes(body, "messages", messages); err != nil {
		return nil, fmt.Errorf("set messages: %w", err)
	}

	if body, err = sjson.DeleteBytes(body, "system"); err != nil {
		return nil, fmt.Errorf("delete system: %w", err)
	}

	if req.Model != "" {
		if body, err = sjson.SetBytes(body, "model", req.Model); err != nil {
			return nil, fmt.Errorf("set model: %w", err)
		}
	}

	if tools := ToPassthroughTools(req.Tools); len(tools) > 0 {
		body, err = sjson.SetBytes(body, "tools", tools)
	} else {
		body, err = sjson.DeleteBytes(body, "tools")
	}
	if err != nil {
		return nil, fmt.Errorf("set tools: %w", err)
	}

	return body, nil
}

// TransformResponse returns the upstream body unchanged.
func (p *OpenAIProvider) TransformResponse(body []byte) ([]byte, error) {
	return body, nil
}

// ToPassthroughMessages returns messages[] for an OpenAI-compatible upstream.
// The result is never nil so it always encodes as an array.
func ToPassthroughMessages(req ChatRequest) []json.RawMessage {
	messages := make([]json.RawMessage, 0, len(req.RawMessages)+1)

	if req.System != "" {
		system, err := json.Marshal(Turn{Role: RoleSystem, Content: req.System})
		if err == nil {
			messages = append(messages, system)
		}
	}

	return append(messages, req.RawMessages...)
}

// PassthroughTool is one tools[] entry of an OpenAI-compatible request.
type PassthroughTool struct {
	Type     string          `json:"type"`
	Function json.RawMessage `json:"function"`
}

// ToPassthroughTools wraps each declaration's function object, unchanged, in
// a tools[] entry.
func ToPassthroughTools(tools []ToolDeclaration) []PassthroughTool {
	wrapped := make([]PassthroughTool, 0, len(tools))

	for _, tool := range tools {
		function := tool.Raw
		if len(function) == 0 {
			function = functionObject(tool)
		}

		wrapped = append(wrapped, PassthroughTool{
			Type:     ToolTypeFunction,
			Function: function,
		})
	}

	return wrapped
}

func functionObject(tool ToolDeclaration) json.RawMessage {
	fn := map[string]any{"name": tool.Name}
	if tool.Description != "" {
		fn["description"] = tool.Description
	}
	if len(tool.Parameters) > 0 {
		fn["parameters"] = tool.Parameters
	}

	data, err := json.Marshal(fn)
	if err != nil {
		return json.RawMessage(`{}`)
	}

	return data
}
