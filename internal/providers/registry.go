package providers

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Provider converts between the neutral chat request and one upstream
// protocol.
type Provider interface {
	Name() string
	// URL returns the upstream endpoint for the configured API base and model.
	URL(apiBase, model string) string
	TransformRequest(req ChatRequest) ([]byte, error)
	// TransformResponse renders a successful upstream body as an OpenAI
	// chat.completion object.
	TransformResponse(body []byte) ([]byte, error)
}

// Registry manages provider instances
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry
func (r *Registry) Register(provider Provider) {
	r.providers[provider.Name()] = provider
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, bool) {
	provider, exists := r.providers[name]
	return provider, exists
}

// GetByDomain returns a provider based on the API base URL domain
func (r *Registry) GetByDomain(apiBase string) (Provider, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}

	domain := strings.ToLower(u.Hostname())

	domainProviderMap := map[string]string{
		"api.openai.com":                    "openai",
		"openai.com":                        "openai",
		"openrouter.ai":                     "openai",
		"aipipe.org":                        "openai",
		"generativelanguage.googleapis.com": "gemini",
	}

	if providerName, exists := domainProviderMap[domain]; exists {
		if provider, found := r.Get(providerName); found {
			return provider, nil
		}
	}

	return nil, fmt.Errorf("no provider found for domain: %s", domain)
}

// Resolve picks the provider for an endpoint: the explicit dialect when set,
// otherwise the one matching the API base domain, otherwise openai.
func (r *Registry) Resolve(dialect, apiBase string) (Provider, error) {
	if dialect != "" {
		provider, ok := r.Get(dialect)
		if !ok {
			return nil, fmt.Errorf("unknown dialect: %s", dialect)
		}
		return provider, nil
	}

	if provider, err := r.GetByDomain(apiBase); err == nil {
		return provider, nil
	}

	provider, ok := r.Get("openai")
	if !ok {
		return nil, fmt.Errorf("no provider for %s", apiBase)
	}

	return provider, nil
}

// List returns all registered provider names, sorted
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Initialize registers all built-in providers
func (r *Registry) Initialize() {
	r.Register(NewOpenAIProvider())
	r.Register(NewGeminiProvider())
}
