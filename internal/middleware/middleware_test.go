package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mihaisavezi/chat-proxy/internal/config"
	"github.com/mihaisavezi/chat-proxy/internal/middleware"
)

func newManager(apiKey string) *config.Manager {
	mgr := config.NewManager(GinkgoT().TempDir())
	cfg := config.NewDefaultConfig()
	cfg.APIKey = apiKey
	Expect(mgr.Save(cfg)).To(Succeed())
	return mgr
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Seen-Request-Id", middleware.RequestIDFromContext(r.Context()))
	_, _ = w.Write([]byte("ok"))
})

var _ = Describe("Chain", func() {
	It("runs middleware outermost first", func() {
		var order []string
		mark := func(name string) middleware.Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		h := middleware.New(mark("a"), mark("b")).Then(mark("c")).Handler(ok)
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(order).To(Equal([]string{"a", "b", "c"}))
	})
})

var _ = Describe("Auth", func() {
	var handler http.Handler

	BeforeEach(func() {
		handler = middleware.NewAuthMiddleware(newManager("proxy-secret"), slog.New(slog.DiscardHandler))(ok)
	})

	It("rejects requests without a key", func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		Expect(rec.Body.String()).To(ContainSubstring("authentication_error"))
	})

	It("rejects a wrong key", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.Header.Set("X-API-Key", "nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	It("accepts a bearer token", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.Header.Set("Authorization", "Bearer proxy-secret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("lets health checks and preflights through", func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/chat", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("is open when no key is configured", func() {
		open := middleware.NewAuthMiddleware(newManager(""), slog.New(slog.DiscardHandler))(ok)
		rec := httptest.NewRecorder()
		open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})

var _ = Describe("CORS", func() {
	handler := middleware.NewCORSMiddleware()(ok)

	It("answers preflights without calling the handler", func() {
		req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		Expect(rec.Header().Get("Access-Control-Allow-Headers")).To(ContainSubstring("X-Upstream-Token"))
		Expect(rec.Body.Len()).To(BeZero())
	})

	It("exposes the diagnostic headers", func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

		Expect(rec.Body.String()).To(Equal("ok"))
		Expect(rec.Header().Get("Access-Control-Expose-Headers")).To(ContainSubstring("X-Proxy-Auth-Hash"))
	})
})

var _ = Describe("RequestID", func() {
	handler := middleware.NewRequestIDMiddleware()(ok)

	It("assigns an id when none is given", func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		id := rec.Header().Get(middleware.HeaderRequestID)
		Expect(id).To(HaveLen(36))
		Expect(rec.Header().Get("X-Seen-Request-Id")).To(Equal(id))
	})

	It("keeps the caller's id", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.HeaderRequestID, "abc-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		Expect(rec.Header().Get(middleware.HeaderRequestID)).To(Equal("abc-123"))
	})
})

var _ = Describe("Logging", func() {
	It("logs method, path, status and request id", func() {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		h := middleware.New(
			middleware.NewRequestIDMiddleware(),
			middleware.NewLoggingMiddleware(logger),
		).Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.Header.Set(middleware.HeaderRequestID, "req-1")
		h.ServeHTTP(httptest.NewRecorder(), req)

		out := buf.String()
		Expect(out).To(ContainSubstring("method=POST"))
		Expect(out).To(ContainSubstring("path=/api/chat"))
		Expect(out).To(ContainSubstring("status=418"))
		Expect(out).To(ContainSubstring("request_id=req-1"))
	})
})
