package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mihaisavezi/chat-proxy/internal/config"
	"github.com/mihaisavezi/chat-proxy/internal/gateway"
	"github.com/mihaisavezi/chat-proxy/internal/handlers"
	"github.com/mihaisavezi/chat-proxy/internal/middleware"
	"github.com/mihaisavezi/chat-proxy/internal/providers"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	config   *config.Manager
	registry *providers.Registry
	gateway  *gateway.Gateway
	tokens   handlers.TokenCounter
	logger   *slog.Logger
	server   *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) *Server {
	registry := providers.NewRegistry()
	registry.Initialize()

	gw := configManager.Get().Gateway

	return &Server{
		config:   configManager,
		registry: registry,
		gateway: gateway.New(nil, gateway.Options{
			Timeout:     gw.Timeout,
			MaxAttempts: gw.MaxAttempts,
			Backoff:     gw.Backoff,
		}, logger),
		tokens: handlers.NewTokenCounter(logger),
		logger: logger,
	}
}

// WithGateway replaces the upstream gateway, mainly for tests.
func (s *Server) WithGateway(gw *gateway.Gateway) *Server {
	s.gateway = gw
	return s
}

// WithTokenCounter replaces the token counter.
func (s *Server) WithTokenCounter(tokens handlers.TokenCounter) *Server {
	s.tokens = tokens
	return s
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.config.Get()
	if cfg == nil {
		return errors.New("configuration not loaded")
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting server",
		"address", listener.Addr().String(),
		"default_provider", s.config.Get().DefaultProvider,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	proxyHandler := handlers.NewProxyHandler(s.config, s.registry, s.gateway, s.tokens, s.logger)
	healthHandler := handlers.NewHealthHandler(s.logger)

	api := http.NewServeMux()
	api.Handle("POST /api/chat", proxyHandler)
	api.Handle("POST /api/chat/{provider}", proxyHandler)
	api.Handle("POST /api/search", handlers.NewSearchHandler(s.config, s.gateway, s.logger))
	api.Handle("POST /api/pipe", handlers.NewPipeHandler(s.config, s.gateway, s.logger))
	api.Handle("GET /api/providers", handlers.NewProvidersHandler(s.config, s.registry, s.logger))

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)

	mux := http.NewServeMux()
	mux.Handle("GET /health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("/api/", middlewareSet.APIChain().Handler(api))

	if dir := s.config.Get().StaticDir; dir != "" {
		mux.Handle("GET /", middlewareSet.PublicChain().Handler(http.FileServer(http.Dir(dir))))
	}

	return mux
}
