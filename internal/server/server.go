package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kuria-ai/kuria/internal/agent"
	"github.com/kuria-ai/kuria/internal/auth"
	"github.com/kuria-ai/kuria/internal/executor"
	"github.com/kuria-ai/kuria/internal/ops"
	"github.com/kuria-ai/kuria/internal/ratelimit"
)

// Server is the Kuria operator HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	Store    Store
	Executor *executor.Executor
	Resolver *ops.Resolver
	Runtime  *agent.Runtime
	Registry *agent.Registry
	JWTMgr   *auth.JWTManager
	Logger   *slog.Logger

	AdminKeyHash string

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// OpenAPISpec, when non-empty, is served at GET /openapi.yaml.
	OpenAPISpec []byte

	// AuthLimiter throttles token exchange attempts per client IP.
	// Nil disables throttling.
	AuthLimiter ratelimit.Limiter
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		Executor:            cfg.Executor,
		Resolver:            cfg.Resolver,
		Runtime:             cfg.Runtime,
		Registry:            cfg.Registry,
		JWTMgr:              cfg.JWTMgr,
		AdminKeyHash:        cfg.AdminKeyHash,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Token exchange (no auth required, throttled per client IP to slow
	// down API key brute force).
	authLimit := ratelimit.Middleware(cfg.AuthLimiter, ratelimit.IPKeyFunc, func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	})
	mux.Handle("POST /auth/token", authLimit(http.HandlerFunc(h.HandleAuthToken)))

	// Approval workflow (admin-only mutations).
	mux.Handle("POST /v1/actions/{id}/approve", requireAdmin(http.HandlerFunc(h.HandleApproveAction)))
	mux.Handle("POST /v1/actions/{id}/reject", requireAdmin(http.HandlerFunc(h.HandleRejectAction)))

	// Listings (any authenticated operator).
	mux.HandleFunc("GET /v1/actions/pending", h.HandleListPending)
	mux.HandleFunc("GET /v1/audit", h.HandleListAudit)
	mux.HandleFunc("GET /v1/runs", h.HandleListRuns)

	// On-demand agent run (admin-only).
	mux.Handle("POST /v1/agents/run", requireAdmin(http.HandlerFunc(h.HandleRunAgent)))

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// API spec (no auth).
	if len(cfg.OpenAPISpec) > 0 {
		mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(cfg.OpenAPISpec)
		})
	}

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
