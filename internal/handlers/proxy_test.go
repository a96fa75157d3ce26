package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/chat-proxy/internal/config"
	"github.com/mihaisavezi/chat-proxy/internal/gateway"
	"github.com/mihaisavezi/chat-proxy/internal/providers"
)

type fixedCounter int

func (c fixedCounter) Count(string) int {
	return int(c)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestMux wires the handlers the way the server does, over cfg.
func newTestMux(t *testing.T, cfg *config.Config, opts gateway.Options) http.Handler {
	t.Helper()

	mgr := config.NewManager(t.TempDir())
	require.NoError(t, mgr.Save(cfg))

	registry := providers.NewRegistry()
	registry.Initialize()

	logger := testLogger()
	gw := gateway.New(nil, opts, logger)

	mux := http.NewServeMux()
	proxy := NewProxyHandler(mgr, registry, gw, fixedCounter(42), logger)
	mux.Handle("POST /api/chat", proxy)
	mux.Handle("POST /api/chat/{provider}", proxy)
	mux.Handle("POST /api/search", NewSearchHandler(mgr, gw, logger))
	mux.Handle("POST /api/pipe", NewPipeHandler(mgr, gw, logger))
	mux.Handle("GET /api/providers", NewProvidersHandler(mgr, registry, logger))
	mux.Handle("GET /health", NewHealthHandler(logger))

	return mux
}

func fastOptions() gateway.Options {
	return gateway.Options{Timeout: time.Second, MaxAttempts: 1, Backoff: time.Millisecond}
}

func baseConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Providers = map[string]config.Endpoint{}
	cfg.Tools.Search.APIBase = ""
	return cfg
}

func post(t *testing.T, h http.Handler, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestProxyHandler_GeminiRoundTrip(t *testing.T) {
	var gotPath, gotKey string
	var gotBody []byte

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Goog-Api-Key")
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"responseId": "resp-9",
			"candidates": [{
				"content": {"role": "model", "parts": [
					{"text": "Checking."},
					{"functionCall": {"name": "get_weather", "args": {"city": "Oslo"}}}
				]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15}
		}`))
	}))
	defer upstream.Close()

	cfg := baseConfig()
	cfg.Providers["gemini"] = config.Endpoint{
		Dialect:     config.DialectGemini,
		APIBase:     upstream.URL + "/v1beta/models",
		APIKey:      "g-key",
		Model:       "gemini-2.0-flash",
		AuthType:    config.AuthTypeHeader,
		AuthHeader:  config.GeminiAuthHeader,
		RequireAuth: true,
	}

	rec := post(t, newTestMux(t, cfg, fastOptions()), "/api/chat/gemini", `{
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "weather in Oslo?"}
		],
		"tools": [{"type": "function", "function": {"name": "get_weather"}}]
	}`, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", gotPath)
	assert.Equal(t, "g-key", gotKey)

	native := gjson.ParseBytes(gotBody)
	assert.Equal(t, "be brief", native.Get("systemInstruction.parts.0.text").String())
	assert.Equal(t, "user", native.Get("contents.0.role").String())
	assert.Equal(t, "get_weather", native.Get("tools.0.functionDeclarations.0.name").String())

	resp := gjson.Parse(rec.Body.String())
	assert.Equal(t, "resp-9", resp.Get("id").String())
	assert.Equal(t, "chat.completion", resp.Get("object").String())
	assert.Equal(t, "Checking.", resp.Get("choices.0.message.content").String())
	assert.Equal(t, "tool_calls", resp.Get("choices.0.finish_reason").String())
	assert.Equal(t, "get_weather", resp.Get("choices.0.message.tool_calls.0.function.name").String())
	assert.JSONEq(t, `{"city":"Oslo"}`, resp.Get("choices.0.message.tool_calls.0.function.arguments").String())
	assert.Equal(t, int64(15), resp.Get("usage.total_tokens").Int())

	assert.Equal(t, "proxy", rec.Header().Get(gateway.HeaderMode))
	assert.Equal(t, "env", rec.Header().Get(gateway.HeaderAuthMode))
	assert.Equal(t, "false", rec.Header().Get(gateway.HeaderAuthBearer))
	assert.Equal(t, "5", rec.Header().Get(gateway.HeaderAuthLen))
	assert.Len(t, rec.Header().Get(gateway.HeaderAuthHash), 12)
}

func TestProxyHandler_GeminiNonObjectBodies(t *testing.T) {
	for _, body := range []string{`null`, `true`, `"x"`, `[]`} {
		t.Run(body, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(body))
			}))
			defer upstream.Close()

			cfg := baseConfig()
			cfg.DefaultProvider = "gemini"
			cfg.Providers["gemini"] = config.Endpoint{
				Dialect:     config.DialectGemini,
				APIBase:     upstream.URL + "/v1beta/models",
				APIKey:      "g-key",
				Model:       "gemini-2.0-flash",
				AuthType:    config.AuthTypeHeader,
				AuthHeader:  config.GeminiAuthHeader,
				RequireAuth: true,
			}

			rec := post(t, newTestMux(t, cfg, fastOptions()), "/api/chat",
				`{"messages":[{"role":"user","content":"hi"}]}`, nil)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			out := gjson.Parse(rec.Body.String())
			assert.Equal(t, "assistant", out.Get("choices.0.message.role").String())
			assert.Equal(t, "", out.Get("choices.0.message.content").String())
			assert.False(t, out.Get("choices.0.message.tool_calls").Exists())
		})
	}
}

func TestProxyHandler_OpenAIPassthrough(t *testing.T) {
	const upstreamBody = `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"x_extra":1}`

	var gotAuth string
	var gotBody []byte

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Ratelimit-Remaining-Requests", "99")
		w.Header().Set("X-Upstream-Internal", "hidden")
		_, _ = w.Write([]byte(upstreamBody))
	}))
	defer upstream.Close()

	cfg := baseConfig()
	cfg.DefaultProvider = "aipipe"
	cfg.Providers["aipipe"] = config.Endpoint{
		Dialect:     config.DialectOpenAI,
		APIBase:     upstream.URL + "/openrouter/v1/chat/completions",
		APIKey:      "pipe-token",
		Model:       "openai/gpt-4.1-nano",
		RequireAuth: true,
	}

	rec := post(t, newTestMux(t, cfg, fastOptions()), "/api/chat",
		`{"messages":[{"role":"user","content":"hi"}],"temperature":0.2}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, upstreamBody, rec.Body.String(), "OpenAI-compatible bodies are relayed verbatim")
	assert.Equal(t, "Bearer pipe-token", gotAuth)

	sent := gjson.ParseBytes(gotBody)
	assert.Equal(t, "openai/gpt-4.1-nano", sent.Get("model").String(), "configured model fills in a missing one")
	assert.Equal(t, 0.2, sent.Get("temperature").Float())
	assert.Equal(t, "hi", sent.Get("messages.0.content").String())
	assert.Equal(t, "true", rec.Header().Get(gateway.HeaderAuthBearer))
	assert.Equal(t, "99", rec.Header().Get("X-Ratelimit-Remaining-Requests"))
	assert.Empty(t, rec.Header().Get("X-Upstream-Internal"))
}

func TestProxyHandler_RelaysUpstreamRejection(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer upstream.Close()

	cfg := baseConfig()
	cfg.DefaultProvider = "openai"
	cfg.Providers["openai"] = config.Endpoint{APIBase: upstream.URL, APIKey: "sk", RequireAuth: true}

	rec := post(t, newTestMux(t, cfg, fastOptions()), "/api/chat", `{"messages":[]}`, nil)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":{"message":"rate limited","type":"rate_limit"}}`, rec.Body.String())
	assert.Equal(t, "7", rec.Header().Get("Retry-After"))
}

func TestProxyHandler_MissingCredential(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	cfg := baseConfig()
	cfg.DefaultProvider = "openai"
	cfg.Providers["openai"] = config.Endpoint{APIBase: upstream.URL, RequireAuth: true}
	mux := newTestMux(t, cfg, fastOptions())

	rec := post(t, mux, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ErrTypeAuthentication, gjson.Get(rec.Body.String(), "error.type").String())
	assert.Equal(t, "none", rec.Header().Get(gateway.HeaderAuthMode))
	assert.Equal(t, int32(0), calls.Load(), "no upstream call without a credential")

	t.Run("caller override supplies the credential", func(t *testing.T) {
		rec := post(t, mux, "/api/chat", `{"messages":[]}`, http.Header{
			gateway.HeaderUpstreamToken: []string{"Bearer caller-token"},
		})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "header", rec.Header().Get(gateway.HeaderAuthMode))
		assert.Equal(t, "12", rec.Header().Get(gateway.HeaderAuthLen))
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestProxyHandler_TransportFailures(t *testing.T) {
	t.Run("unreachable upstream is a bad gateway", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		deadURL := dead.URL
		dead.Close()

		cfg := baseConfig()
		cfg.DefaultProvider = "openai"
		cfg.Providers["openai"] = config.Endpoint{APIBase: deadURL}

		rec := post(t, newTestMux(t, cfg, fastOptions()), "/api/chat", `{"messages":[]}`, nil)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, ErrTypeAPI, gjson.Get(rec.Body.String(), "error.type").String())
	})

	t.Run("slow upstream is a gateway timeout", func(t *testing.T) {
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer slow.Close()

		cfg := baseConfig()
		cfg.DefaultProvider = "openai"
		cfg.Providers["openai"] = config.Endpoint{APIBase: slow.URL}

		opts := gateway.Options{Timeout: 50 * time.Millisecond, MaxAttempts: 1, Backoff: time.Millisecond}
		rec := post(t, newTestMux(t, cfg, opts), "/api/chat", `{"messages":[]}`, nil)

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Equal(t, ErrTypeTimeout, gjson.Get(rec.Body.String(), "error.type").String())
	})
}

func TestProxyHandler_RequestErrors(t *testing.T) {
	cfg := baseConfig()
	cfg.DefaultProvider = "openai"
	cfg.Providers["openai"] = config.Endpoint{}
	mux := newTestMux(t, cfg, fastOptions())

	rec := post(t, mux, "/api/chat/cohere", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrTypeNotFound, gjson.Get(rec.Body.String(), "error.type").String())

	rec = post(t, mux, "/api/chat", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid JSON payload", gjson.Get(rec.Body.String(), "error.message").String())
}

func TestProxyHandler_UnconfiguredEndpointSimulates(t *testing.T) {
	cfg := baseConfig()
	cfg.DefaultProvider = "local"
	cfg.Providers["local"] = config.Endpoint{Dialect: config.DialectGemini}

	rec := post(t, newTestMux(t, cfg, fastOptions()), "/api/chat", `{"input":"hello","messages":[]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mock", rec.Header().Get(gateway.HeaderMode))
	assert.Equal(t, "mock", gjson.Get(rec.Body.String(), "engine").String())
	assert.Equal(t, "hello", gjson.Get(rec.Body.String(), "received_input").String())
}

func TestProxyHandler_SimulationEchoesLastUserTurn(t *testing.T) {
	cfg := baseConfig()
	cfg.DefaultProvider = "local"
	cfg.Providers["local"] = config.Endpoint{Dialect: config.DialectOpenAI}

	body := `{"messages":[
		{"role":"user","content":"first question"},
		{"role":"assistant","content":"an answer"},
		{"role":"user","content":"follow up"}
	]}`
	rec := post(t, newTestMux(t, cfg, fastOptions()), "/api/chat", body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	out := gjson.Parse(rec.Body.String())
	assert.Equal(t, "follow up", out.Get("received_input").String())
	assert.Equal(t, `AI Pipe mock processed: "follow up"`, out.Get("summary").String())
}

func TestToolHandlers(t *testing.T) {
	var gotSearch []byte
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSearch, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"title":"Go"}]}`))
	}))
	defer search.Close()

	cfg := baseConfig()
	cfg.Providers["openai"] = config.Endpoint{}
	cfg.DefaultProvider = "openai"
	cfg.Tools.Search = config.Endpoint{APIBase: search.URL, APIKey: "tvly-key", RequireAuth: true}
	cfg.Tools.Pipe = config.Endpoint{}
	mux := newTestMux(t, cfg, fastOptions())

	t.Run("search requires a query", func(t *testing.T) {
		rec := post(t, mux, "/api/search", `{"query":"   "}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "query is required", gjson.Get(rec.Body.String(), "error.message").String())
	})

	t.Run("search forwards the trimmed query", func(t *testing.T) {
		rec := post(t, mux, "/api/search", `{"query":"  golang  ","max_results":3}`, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"results":[{"title":"Go"}]}`, rec.Body.String())
		assert.Equal(t, "golang", gjson.GetBytes(gotSearch, "query").String())
		assert.Equal(t, int64(3), gjson.GetBytes(gotSearch, "max_results").Int())
	})

	t.Run("pipe without endpoint simulates", func(t *testing.T) {
		rec := post(t, mux, "/api/pipe", `{"input":"hello"}`, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "mock", rec.Header().Get(gateway.HeaderMode))

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "hello", body["received_input"])
		assert.Equal(t, `AI Pipe mock processed: "hello"`, body["summary"])
	})
}

func TestProvidersHandler(t *testing.T) {
	cfg := baseConfig()
	cfg.DefaultProvider = "gemini"
	cfg.Providers["gemini"] = config.Endpoint{APIBase: config.DefaultGeminiURL, Model: "gemini-2.0-flash", APIKey: "secret-key", RequireAuth: true}
	cfg.Providers["openai"] = config.Endpoint{APIBase: config.DefaultOpenAIURL, RequireAuth: true}

	req := httptest.NewRequest(http.MethodGet, "/api/providers", nil)
	rec := httptest.NewRecorder()
	newTestMux(t, cfg, fastOptions()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-key")
	assert.JSONEq(t, `{
		"default": "gemini",
		"providers": [
			{"name": "gemini", "dialect": "gemini", "model": "gemini-2.0-flash", "configured": true},
			{"name": "openai", "dialect": "openai", "configured": false}
		]
	}`, rec.Body.String())
}

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	NewHealthHandler(testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
