package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/chat-proxy/internal/config"
	"github.com/mihaisavezi/chat-proxy/internal/providers"
)

type providerInfo struct {
	Name       string `json:"name"`
	Dialect    string `json:"dialect"`
	Model      string `json:"model,omitempty"`
	Configured bool   `json:"configured"`
}

type providerList struct {
	Default   string         `json:"default"`
	Providers []providerInfo `json:"providers"`
}

// ProvidersHandler lists the configured chat providers without exposing
// their credentials.
type ProvidersHandler struct {
	config   *config.Manager
	registry *providers.Registry
	logger   *slog.Logger
}

func NewProvidersHandler(config *config.Manager, registry *providers.Registry, logger *slog.Logger) *ProvidersHandler {
	return &ProvidersHandler{
		config:   config,
		registry: registry,
		logger:   logger,
	}
}

func (h *ProvidersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.Get()

	list := providerList{
		Default:   cfg.DefaultProvider,
		Providers: make([]providerInfo, 0, len(cfg.Providers)),
	}

	for _, name := range cfg.ProviderNames() {
		endpoint := cfg.Providers[name]

		dialect := endpoint.Dialect
		if provider, err := h.registry.Resolve(endpoint.Dialect, endpoint.APIBase); err == nil {
			dialect = provider.Name()
		}

		list.Providers = append(list.Providers, providerInfo{
			Name:       name,
			Dialect:    dialect,
			Model:      endpoint.Model,
			Configured: endpoint.APIKey != "" || !endpoint.RequireAuth,
		})
	}

	body, err := json.Marshal(list)
	if err != nil {
		h.logger.Error("Failed to encode provider list", "error", err)
		writeError(w, http.StatusInternalServerError, ErrTypeAPI, "failed to encode response")
		return
	}

	writeJSON(w, http.StatusOK, body)
}
