package providers

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"google.golang.org/genai"
)

// GeminiProvider speaks the generateContent protocol and converts between it
// and the neutral conversation.
type GeminiProvider struct {
	name string
}

func NewGeminiProvider() *GeminiProvider {
	return &GeminiProvider{
		name: "gemini",
	}
}

func (p *GeminiProvider) Name() string {
	return p.name
}

// URL appends "<model>:generateContent" to the API base unless the base
// already names a method.
func (p *GeminiProvider) URL(apiBase, model string) string {
	if strings.Contains(apiBase, ":generateContent") {
		return apiBase
	}

	model = strings.TrimPrefix(strings.TrimSpace(model), "models/")

	return strings.TrimRight(apiBase, "/") + "/" + url.PathEscape(model) + ":generateContent"
}

func (p *GeminiProvider) TransformRequest(req ChatRequest) ([]byte, error) {
	native := ToNativeRequest(req.Turns, req.Tools, req.System, req.Temperature)
	if req.MaxTokens > 0 {
		native.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}

	data, err := json.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	return data, nil
}

// TransformResponse renders a generateContent response as an OpenAI
// chat.completion object.
func (p *GeminiProvider) TransformResponse(body []byte) ([]byte, error) {
	completion := ParseGeminiResponse(body)

	id := completion.ID
	if id == "" {
		id = "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	resp := chatCompletion{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   completion.Model,
		Choices: []chatChoice{{
			Index:        0,
			Message:      completion.Message,
			FinishReason: completion.FinishReason,
		}},
		Usage: completion.Usage,
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal chat completion: %w", err)
	}

	return data, nil
}

// Gemini request structures
type GeminiRequest struct {
	Contents          []GeminiContent        `json:"contents"`
	SystemInstruction *GeminiContent         `json:"systemInstruction,omitempty"`
	Tools             []GeminiTool           `json:"tools,omitempty"`
	GenerationConfig  GeminiGenerationConfig `json:"generationConfig"`
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text             *string                 `json:"text,omitempty"`
	FunctionCall     *GeminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFunctionResponse `json:"functionResponse,omitempty"`
}

type GeminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type GeminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations"`
}

type GeminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type GeminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// OpenAI-compatible response rendering
type chatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model,omitempty"`
	Choices []chatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int    `json:"index"`
	Message      Turn   `json:"message"`
	FinishReason string `json:"finish_reason"`
}

func textPart(text string) GeminiPart {
	return GeminiPart{Text: &text}
}

// ToNativeRequest builds a generateContent request from a neutral
// conversation.
//
// System turns are lifted out of the sequence into systemInstruction; the
// last one wins and a non-empty systemText overrides them all. Every other
// turn keeps its relative position.
func ToNativeRequest(turns []Turn, tools []ToolDeclaration, systemText string, temperature *float64) GeminiRequest {
	req := GeminiRequest{
		Contents: make([]GeminiContent, 0, len(turns)),
		GenerationConfig: GeminiGenerationConfig{
			Temperature: DefaultTemperature,
		},
	}

	if temperature != nil {
		req.GenerationConfig.Temperature = *temperature
	}

	system := ""
	callNames := make(map[string]string)

	for _, turn := range turns {
		switch turn.Role {
		case RoleSystem:
			system = turn.Content
		case RoleAssistant:
			req.Contents = append(req.Contents, assistantContent(turn))
			for _, call := range turn.ToolCalls {
				if call.ID != "" {
					callNames[call.ID] = call.Function.Name
				}
			}
		case RoleTool:
			req.Contents = append(req.Contents, toolContent(turn, callNames))
		default:
			req.Contents = append(req.Contents, GeminiContent{
				Role:  RoleUser,
				Parts: []GeminiPart{textPart(turn.Content)},
			})
		}
	}

	if systemText != "" {
		system = systemText
	}

	if system != "" {
		req.SystemInstruction = &GeminiContent{
			Parts: []GeminiPart{textPart(system)},
		}
	}

	if decls := convertToolDeclarations(tools); len(decls) > 0 {
		req.Tools = []GeminiTool{{FunctionDeclarations: decls}}
	}

	return req
}

func assistantContent(turn Turn) GeminiContent {
	content := GeminiContent{Role: RoleModel}

	if turn.Content != "" || len(turn.ToolCalls) == 0 {
		content.Parts = append(content.Parts, textPart(turn.Content))
	}

	for _, call := range turn.ToolCalls {
		content.Parts = append(content.Parts, GeminiPart{
			FunctionCall: &GeminiFunctionCall{
				Name: call.Function.Name,
				Args: parseArguments(call.Function.Arguments),
			},
		})
	}

	return content
}

func toolContent(turn Turn, callNames map[string]string) GeminiContent {
	name := turn.Name
	if name == "" {
		name = callNames[turn.ToolCallID]
	}

	return GeminiContent{
		Role: RoleUser,
		Parts: []GeminiPart{{
			FunctionResponse: &GeminiFunctionResponse{
				Name:     name,
				Response: toolResultPayload(turn.Content),
			},
		}},
	}
}

func convertToolDeclarations(tools []ToolDeclaration) []GeminiFunctionDeclaration {
	decls := make([]GeminiFunctionDeclaration, 0, len(tools))

	for _, tool := range tools {
		params := tool.Parameters
		if !json.Valid(params) || !gjson.ParseBytes(params).IsObject() {
			params = defaultParameters
		}

		decls = append(decls, GeminiFunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  params,
		})
	}

	return decls
}

// FromNativeResponse normalizes a generateContent response into an assistant
// turn. Malformed or empty responses yield an empty assistant turn.
func FromNativeResponse(body []byte) Turn {
	return ParseGeminiResponse(body).Message
}

// ParseGeminiResponse reads the first candidate of a generateContent
// response along with its finish reason and usage. Each field is read on its
// own so a malformed one falls back to its default without losing the rest.
func ParseGeminiResponse(body []byte) Completion {
	completion := Completion{
		Message:      Turn{Role: RoleAssistant},
		FinishReason: FinishReasonStop,
	}

	resp := gjson.ParseBytes(body)
	if !json.Valid(body) || !resp.IsObject() {
		return completion
	}

	completion.ID = resp.Get("responseId").String()
	completion.Model = resp.Get("modelVersion").String()
	completion.Usage = parseUsage(resp.Get("usageMetadata"))

	candidate := resp.Get("candidates.0")
	if !candidate.IsObject() {
		return completion
	}

	if reason := candidate.Get("finishReason"); reason.Type == gjson.String {
		completion.FinishReason = ConvertStopReason(reason.String())
	}

	parts := candidate.Get("content.parts")
	if !parts.IsArray() {
		return completion
	}

	var texts []string
	parts.ForEach(func(_, part gjson.Result) bool {
		if !part.IsObject() || part.Get("thought").Bool() {
			return true
		}

		if text := part.Get("text"); text.Type == gjson.String && text.String() != "" {
			texts = append(texts, text.String())
		}

		if call, ok := parseFunctionCall(part.Get("functionCall")); ok {
			completion.Message.ToolCalls = append(completion.Message.ToolCalls, call)
		}

		return true
	})

	completion.Message.Content = strings.Join(texts, "\n")
	if len(completion.Message.ToolCalls) > 0 {
		completion.FinishReason = FinishReasonToolCalls
	}

	return completion
}

func parseUsage(raw gjson.Result) *Usage {
	if !raw.IsObject() {
		return nil
	}

	var usage genai.GenerateContentResponseUsageMetadata
	if err := json.Unmarshal([]byte(raw.Raw), &usage); err != nil {
		return nil
	}

	return &Usage{
		PromptTokens:     int(usage.PromptTokenCount),
		CompletionTokens: int(usage.CandidatesTokenCount),
		TotalTokens:      int(usage.TotalTokenCount),
	}
}

// parseFunctionCall keeps the call name even when its args are unusable.
func parseFunctionCall(raw gjson.Result) (ToolCall, bool) {
	if !raw.IsObject() {
		return ToolCall{}, false
	}

	var fn genai.FunctionCall
	if err := json.Unmarshal([]byte(raw.Raw), &fn); err != nil {
		fn = genai.FunctionCall{Name: raw.Get("name").String()}
	}

	return ToolCall{
		ID:   NewToolCallID(),
		Type: ToolTypeFunction,
		Function: FunctionCall{
			Name:      fn.Name,
			Arguments: encodeArguments(fn.Args),
		},
	}, true
}
