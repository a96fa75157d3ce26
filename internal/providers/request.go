package providers

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseChatRequest extracts a ChatRequest from a browser payload. It never
// fails: absent or mistyped fields fall back to their zero values and a
// messages field that is not an array yields an empty conversation.
func ParseChatRequest(body []byte) ChatRequest {
	req := ChatRequest{Raw: body}
	if !gjson.ValidBytes(body) {
		return req
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return req
	}

	req.Model = strings.TrimSpace(root.Get("model").String())
	req.System = textOf(root.Get("system"))

	if t := root.Get("temperature"); t.Type == gjson.Number {
		temperature := t.Float()
		req.Temperature = &temperature
	}

	if m := root.Get("max_tokens"); m.Type == gjson.Number && m.Int() > 0 {
		req.MaxTokens = int(m.Int())
	}

	if messages := root.Get("messages"); messages.IsArray() {
		messages.ForEach(func(_, message gjson.Result) bool {
			if !message.IsObject() {
				return true
			}
			req.RawMessages = append(req.RawMessages, json.RawMessage(message.Raw))
			req.Turns = append(req.Turns, parseTurn(message))
			return true
		})
	}

	req.Tools = ParseToolDeclarations(root.Get("tools"))

	return req
}

// ParseToolDeclarations reads tools[] in either the wrapped form
// ({"type":"function","function":{...}}) or the bare form ({"name":...}).
// Declarations without a name are dropped.
func ParseToolDeclarations(tools gjson.Result) []ToolDeclaration {
	if !tools.IsArray() {
		return nil
	}

	var decls []ToolDeclaration
	tools.ForEach(func(_, tool gjson.Result) bool {
		fn := tool.Get("function")
		if !fn.IsObject() {
			fn = tool
		}
		if !fn.IsObject() {
			return true
		}

		name := strings.TrimSpace(fn.Get("name").String())
		if name == "" {
			return true
		}

		decl := ToolDeclaration{
			Name:        name,
			Description: fn.Get("description").String(),
			Raw:         json.RawMessage(fn.Raw),
		}
		if params := fn.Get("parameters"); params.IsObject() {
			decl.Parameters = json.RawMessage(params.Raw)
		}
		decls = append(decls, decl)
		return true
	})

	return decls
}

func parseTurn(message gjson.Result) Turn {
	turn := Turn{
		Role:       strings.ToLower(strings.TrimSpace(message.Get("role").String())),
		Content:    textOf(message.Get("content")),
		Name:       message.Get("name").String(),
		ToolCallID: message.Get("tool_call_id").String(),
	}

	if calls := message.Get("tool_calls"); calls.IsArray() {
		calls.ForEach(func(_, call gjson.Result) bool {
			if !call.IsObject() {
				return true
			}
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{
				ID:   call.Get("id").String(),
				Type: ToolTypeFunction,
				Function: FunctionCall{
					Name:      call.Get("function.name").String(),
					Arguments: textOf(call.Get("function.arguments")),
				},
			})
			return true
		})
	}

	return turn
}

// textOf flattens a content value to text. Arrays of {"type":"text"} parts
// are joined with newlines, other JSON values keep their raw encoding.
func textOf(value gjson.Result) string {
	switch {
	case !value.Exists(), value.Type == gjson.Null:
		return ""
	case value.Type == gjson.String:
		return value.String()
	case value.IsArray():
		var texts []string
		value.ForEach(func(_, part gjson.Result) bool {
			switch {
			case part.Type == gjson.String:
				texts = append(texts, part.String())
			case part.Get("type").String() == "text":
				texts = append(texts, part.Get("text").String())
			}
			return true
		})
		return strings.Join(texts, "\n")
	default:
		return value.Raw
	}
}
