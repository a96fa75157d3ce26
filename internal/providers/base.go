package providers

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Finish reason values in OpenAI's vocabulary.
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonToolCalls     = "tool_calls"
	FinishReasonContentFilter = "content_filter"
)

// defaultParameters is the schema used for declarations that carry none.
// Gemini rejects a function declaration without a parameters object.
var defaultParameters = json.RawMessage(`{"type":"object","properties":{}}`)

// NewToolCallID returns a fresh id for a tool call.
func NewToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ConvertStopReason maps a Gemini finish reason to OpenAI's vocabulary.
func ConvertStopReason(reason string) string {
	mapping := map[string]string{
		"STOP":                      FinishReasonStop,
		"MAX_TOKENS":                FinishReasonLength,
		"SAFETY":                    FinishReasonContentFilter,
		"RECITATION":                FinishReasonContentFilter,
		"LANGUAGE":                  FinishReasonContentFilter,
		"BLOCKLIST":                 FinishReasonContentFilter,
		"PROHIBITED_CONTENT":        FinishReasonContentFilter,
		"SPII":                      FinishReasonContentFilter,
		"IMAGE_SAFETY":              FinishReasonContentFilter,
		"MALFORMED_FUNCTION_CALL":   FinishReasonToolCalls,
		"OTHER":                     FinishReasonStop,
		"FINISH_REASON_UNSPECIFIED": FinishReasonStop,
	}

	if converted, ok := mapping[reason]; ok {
		return converted
	}

	return FinishReasonStop
}

// parseArguments decodes a tool call's JSON arguments into an object.
// Anything that is not a JSON object becomes an empty object.
func parseArguments(arguments string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil || args == nil {
		return map[string]any{}
	}

	return args
}

// toolResultPayload turns tool output into the object Gemini expects as a
// function response. Output that is not a JSON object is wrapped under
// "content"; unparseable output is wrapped as the original string.
func toolResultPayload(content string) map[string]any {
	var value any
	if err := json.Unmarshal([]byte(content), &value); err != nil {
		return map[string]any{"content": content}
	}

	if object, ok := value.(map[string]any); ok {
		return object
	}

	return map[string]any{"content": value}
}

// encodeArguments serializes function call arguments, "{}" when absent.
func encodeArguments(args map[string]any) string {
	if args == nil {
		return "{}"
	}

	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}

	return string(data)
}
