package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mihaisavezi/chat-proxy/internal/config"
	"github.com/mihaisavezi/chat-proxy/internal/gateway"
)

const (
	toolSearch = "search"
	toolPipe   = "pipe"
)

// ToolHandler forwards a tool call from the browser to the search or pipe
// API and relays the answer unchanged.
type ToolHandler struct {
	config  *config.Manager
	gateway *gateway.Gateway
	logger  *slog.Logger
	tool    string
}

// NewSearchHandler serves web searches. The body must carry a non-empty
// "query".
func NewSearchHandler(config *config.Manager, gw *gateway.Gateway, logger *slog.Logger) *ToolHandler {
	return &ToolHandler{config: config, gateway: gw, logger: logger, tool: toolSearch}
}

// NewPipeHandler serves workflow transforms. With no pipe endpoint configured
// the gateway answers with a local simulation.
func NewPipeHandler(config *config.Manager, gw *gateway.Gateway, logger *slog.Logger) *ToolHandler {
	return &ToolHandler{config: config, gateway: gw, logger: logger, tool: toolPipe}
}

func (h *ToolHandler) endpoint(cfg *config.Config) config.Endpoint {
	if h.tool == toolSearch {
		return cfg.Tools.Search
	}
	return cfg.Tools.Pipe
}

func (h *ToolHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSONBody(w, r)
	if !ok {
		return
	}

	if h.tool == toolSearch {
		query := strings.TrimSpace(gjson.GetBytes(body, "query").String())
		if query == "" {
			writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, "query is required")
			return
		}

		var err error
		if body, err = sjson.SetBytes(body, "query", query); err != nil {
			writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, "invalid search payload")
			return
		}
	}

	endpoint := h.endpoint(h.config.Get())
	cred := credentialFor(endpoint, r)
	diag := cred.Diagnostics()

	h.logger.Info("Forwarding tool request",
		"tool", h.tool,
		"configured", endpoint.APIBase != "",
		"auth_mode", diag.AuthMode,
	)

	result, err := h.gateway.Forward(r.Context(), gateway.Request{
		URL:         endpoint.APIBase,
		Credential:  cred,
		RequireAuth: endpoint.RequireAuth,
		Payload:     body,
	})
	if err != nil {
		diag.WriteHeaders(w.Header(), gateway.ModeProxy)
		writeGatewayError(w, h.logger, err)
		return
	}

	diag.WriteHeaders(w.Header(), result.Mode)
	relayHeaders(w.Header(), result.Header)
	writeJSON(w, result.Status, result.Body)
}
