package middleware

import (
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/chat-proxy/internal/config"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares[:len(c.middlewares):len(c.middlewares)], middlewares...)}
}

// Handler applies all middleware in the chain to the given handler. The
// first middleware is the outermost.
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition
type MiddlewareSet struct {
	RequestID Middleware
	CORS      Middleware
	Logging   Middleware
	Auth      Middleware
}

// NewMiddlewareSet creates a complete set of middleware with proper dependencies
func NewMiddlewareSet(config *config.Manager, logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{
		RequestID: NewRequestIDMiddleware(),
		CORS:      NewCORSMiddleware(),
		Logging:   NewLoggingMiddleware(logger),
		Auth:      NewAuthMiddleware(config, logger),
	}
}

// APIChain guards the /api routes the browser calls.
func (ms MiddlewareSet) APIChain() Chain {
	return New(
		ms.RequestID,
		ms.CORS, // before auth so preflights succeed
		ms.Logging,
		ms.Auth,
	)
}

// HealthChain returns the middleware chain for health endpoints (no auth)
func (ms MiddlewareSet) HealthChain() Chain {
	return New(
		ms.RequestID,
		ms.Logging,
	)
}

// PublicChain serves static files: no auth, no request logging.
func (ms MiddlewareSet) PublicChain() Chain {
	return New(
		ms.RequestID,
	)
}
