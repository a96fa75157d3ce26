package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Built-in endpoints.
const (
	DefaultOpenAIURL = "https://api.openai.com/v1/chat/completions"
	DefaultAIPipeURL = "https://aipipe.org/openrouter/v1/chat/completions"
	DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta/models"
	DefaultSearchURL = "https://api.tavily.com/search"

	DefaultOpenAIModel = "gpt-4.1-nano"
	DefaultAIPipeModel = "openai/gpt-4.1-nano"
	DefaultGeminiModel = "gemini-2.0-flash"

	GeminiAuthHeader = "x-goog-api-key"
)

// wellKnownEnv maps config keys to the unprefixed variables commonly used
// for them. The prefixed form always takes precedence.
var wellKnownEnv = map[string]string{
	"providers.openai.api_key": "OPENAI_API_KEY",
	"providers.aipipe.api_key": "AIPIPE_TOKEN",
	"providers.gemini.api_key": "GEMINI_API_KEY",
	"tools.search.api_key":     "SEARCH_API_KEY",
	"tools.pipe.api_base":      "PIPE_API_URL",
	"tools.pipe.api_key":       "PIPE_API_KEY",
}

// NewDefaultConfig returns the configuration used when no file is present.
func NewDefaultConfig() *Config {
	return &Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		DefaultProvider: "aipipe",
		Gateway: GatewayConfig{
			Timeout:     7 * time.Second,
			MaxAttempts: 2,
			Backoff:     300 * time.Millisecond,
		},
		Providers: map[string]Endpoint{
			"openai": {
				Dialect:     DialectOpenAI,
				APIBase:     DefaultOpenAIURL,
				Model:       DefaultOpenAIModel,
				AuthType:    AuthTypeBearer,
				RequireAuth: true,
			},
			"aipipe": {
				Dialect:     DialectOpenAI,
				APIBase:     DefaultAIPipeURL,
				Model:       DefaultAIPipeModel,
				AuthType:    AuthTypeBearer,
				RequireAuth: true,
			},
			"gemini": {
				Dialect:     DialectGemini,
				APIBase:     DefaultGeminiURL,
				Model:       DefaultGeminiModel,
				AuthType:    AuthTypeHeader,
				AuthHeader:  GeminiAuthHeader,
				RequireAuth: true,
			},
		},
		Tools: ToolsConfig{
			Search: Endpoint{
				APIBase:     DefaultSearchURL,
				AuthType:    AuthTypeBearer,
				RequireAuth: true,
			},
			Pipe: Endpoint{
				AuthType: AuthTypeBearer,
			},
		},
	}
}

// setViperDefaults registers d under dotted keys so file and environment
// values merge over it key by key.
func setViperDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("api_key", d.APIKey)
	v.SetDefault("static_dir", d.StaticDir)
	v.SetDefault("default_provider", d.DefaultProvider)

	v.SetDefault("gateway.timeout", d.Gateway.Timeout)
	v.SetDefault("gateway.max_attempts", d.Gateway.MaxAttempts)
	v.SetDefault("gateway.backoff", d.Gateway.Backoff)

	for name, ep := range d.Providers {
		setEndpointDefaults(v, "providers."+name, ep)
	}

	setEndpointDefaults(v, "tools.search", d.Tools.Search)
	setEndpointDefaults(v, "tools.pipe", d.Tools.Pipe)
}

func setEndpointDefaults(v *viper.Viper, prefix string, ep Endpoint) {
	v.SetDefault(prefix+".dialect", ep.Dialect)
	v.SetDefault(prefix+".api_base", ep.APIBase)
	v.SetDefault(prefix+".api_key", ep.APIKey)
	v.SetDefault(prefix+".model", ep.Model)
	v.SetDefault(prefix+".auth_type", ep.AuthType)
	v.SetDefault(prefix+".auth_header", ep.AuthHeader)
	v.SetDefault(prefix+".require_auth", ep.RequireAuth)
}

func bindWellKnownEnv(v *viper.Viper) error {
	for key, env := range wellKnownEnv {
		prefixed := EnvPrefix + "_" + envKey(key)
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

func envKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
