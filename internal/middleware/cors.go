package middleware

import (
	"net/http"
	"strings"
)

var corsAllowHeaders = []string{
	"Authorization",
	"Content-Type",
	"X-API-Key",
	"X-Upstream-Token",
}

var corsExposeHeaders = []string{
	"X-Request-Id",
	"X-Proxy-Mode",
	"X-Proxy-Auth-Mode",
	"X-Proxy-Auth-Bearer",
	"X-Proxy-Auth-Len",
	"X-Proxy-Auth-Hash",
}

// NewCORSMiddleware lets the browser UI call the API from any origin and
// read the diagnostic headers. Preflight requests end here.
func NewCORSMiddleware() func(http.Handler) http.Handler {
	allowHeaders := strings.Join(corsAllowHeaders, ", ")
	exposeHeaders := strings.Join(corsExposeHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Expose-Headers", exposeHeaders)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
