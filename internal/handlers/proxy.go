package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mihaisavezi/chat-proxy/internal/config"
	"github.com/mihaisavezi/chat-proxy/internal/gateway"
	"github.com/mihaisavezi/chat-proxy/internal/providers"
)

// maxRequestBytes bounds inbound request bodies.
const maxRequestBytes = 4 << 20

// ProxyHandler serves chat completions through a configured provider. The
// provider comes from the {provider} path value, else default_provider.
type ProxyHandler struct {
	config   *config.Manager
	registry *providers.Registry
	gateway  *gateway.Gateway
	tokens   TokenCounter
	logger   *slog.Logger
}

func NewProxyHandler(config *config.Manager, registry *providers.Registry, gw *gateway.Gateway, tokens TokenCounter, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		config:   config,
		registry: registry,
		gateway:  gw,
		tokens:   tokens,
		logger:   logger,
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.Get()

	name := r.PathValue("provider")
	if name == "" {
		name = cfg.DefaultProvider
	}

	endpoint, ok := cfg.Provider(name)
	if !ok {
		writeError(w, http.StatusNotFound, ErrTypeNotFound, "unknown provider: "+name)
		return
	}

	provider, err := h.registry.Resolve(endpoint.Dialect, endpoint.APIBase)
	if err != nil {
		h.logger.Error("Failed to resolve provider", "provider", name, "error", err)
		writeError(w, http.StatusInternalServerError, ErrTypeAPI, err.Error())
		return
	}

	body, ok := readJSONBody(w, r)
	if !ok {
		return
	}

	req := providers.ParseChatRequest(body)
	if req.Model == "" {
		req.Model = endpoint.Model
	}

	inputTokens := h.tokens.Count(requestText(req))

	payload, err := provider.TransformRequest(req)
	if err != nil {
		h.logger.Error("Request transformation failed", "provider", name, "error", err)
		writeError(w, http.StatusInternalServerError, ErrTypeAPI, "failed to build upstream request")
		return
	}

	upstreamURL := ""
	if endpoint.APIBase != "" {
		upstreamURL = provider.URL(endpoint.APIBase, req.Model)
	} else if payload, err = sjson.SetBytes(payload, "input", simulationInput(body, req)); err != nil {
		writeError(w, http.StatusInternalServerError, ErrTypeAPI, "failed to build simulated request")
		return
	}

	cred := credentialFor(endpoint, r)
	diag := cred.Diagnostics()

	h.logger.Info("Proxying request",
		"provider", name,
		"dialect", provider.Name(),
		"model", req.Model,
		"turns", len(req.Turns),
		"tools", len(req.Tools),
		"input_tokens", inputTokens,
		"auth_mode", diag.AuthMode,
	)

	result, err := h.gateway.Forward(r.Context(), gateway.Request{
		URL:         upstreamURL,
		Credential:  cred,
		RequireAuth: endpoint.RequireAuth,
		Payload:     payload,
	})
	if err != nil {
		diag.WriteHeaders(w.Header(), gateway.ModeProxy)
		writeGatewayError(w, h.logger, err)
		return
	}

	diag.WriteHeaders(w.Header(), result.Mode)
	relayHeaders(w.Header(), result.Header)

	out := []byte(result.Body)
	if result.Mode == gateway.ModeProxy {
		if out, err = provider.TransformResponse(result.Body); err != nil {
			h.logger.Error("Response transformation failed", "provider", name, "error", err)
			writeError(w, http.StatusBadGateway, ErrTypeAPI, "failed to convert upstream response")
			return
		}
	}

	h.logResponseTokens(out, result.Status, inputTokens)
	writeJSON(w, result.Status, out)
}

func (h *ProxyHandler) logResponseTokens(respBody []byte, statusCode int, inputTokens int) {
	logFields := []any{
		"status", statusCode,
		"input_tokens", inputTokens,
	}

	if usage := gjson.GetBytes(respBody, "usage"); usage.IsObject() {
		logFields = append(logFields,
			"prompt_tokens", usage.Get("prompt_tokens").Int(),
			"completion_tokens", usage.Get("completion_tokens").Int(),
		)
	}

	h.logger.Info("Successful response", logFields...)
}

// readJSONBody reads a bounded request body and rejects anything that is not
// a JSON value, writing the error response itself.
func readJSONBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrTypeInvalidRequest, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, "failed to read request body")
		return nil, false
	}

	if !gjson.ValidBytes(body) {
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, "invalid JSON payload")
		return nil, false
	}

	return body, true
}

func credentialFor(endpoint config.Endpoint, r *http.Request) gateway.Credential {
	return gateway.ResolveCredential(
		endpoint.APIKey,
		r.Header.Get(gateway.HeaderUpstreamToken),
		gateway.AuthType(endpoint.AuthType),
		endpoint.AuthHeader,
	)
}

// simulationInput is what the offline simulation echoes: the caller's
// "input" when given, otherwise the last user turn.
func simulationInput(body []byte, req providers.ChatRequest) string {
	if input := gjson.GetBytes(body, "input"); input.Type == gjson.String {
		return input.String()
	}

	for i := len(req.Turns) - 1; i >= 0; i-- {
		if req.Turns[i].Role == providers.RoleUser {
			return req.Turns[i].Content
		}
	}

	return ""
}
