package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kotae-ai/kotae/internal/ratelimit"
	"github.com/kotae-ai/kotae/internal/recall"
	"github.com/kotae-ai/kotae/internal/speech"
	"github.com/kotae-ai/kotae/internal/storage"
)

// Server is the Kotae HTTP server.
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
// Optional fields (nil-safe): DB, Recaller, Limiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Engine Interviewer
	TTS    speech.Synthesizer
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	DB        *storage.DB
	Recaller  recall.Recaller
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Engine:   cfg.Engine,
		TTS:      cfg.TTS,
		DB:       cfg.DB,
		Recaller: cfg.Recaller,
		Logger:   cfg.Logger,
		Version:  cfg.Version,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	userKeyFunc := func(r *http.Request) string {
		return UserIDFromContext(r.Context())
	}
	rl := ratelimit.Middleware(cfg.Limiter, userKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Session lifecycle (rate limited per user).
	mux.Handle("POST /v1/sessions", rl(http.HandlerFunc(h.HandleCreateSession)))
	mux.Handle("POST /v1/sessions/{session_id}/start", rl(http.HandlerFunc(h.HandleStart)))
	mux.Handle("POST /v1/sessions/{session_id}/turn", rl(http.HandlerFunc(h.HandleTurn)))

	// Read endpoints (no rate limit).
	mux.HandleFunc("GET /v1/sessions/{session_id}/report", h.HandleReport)
	mux.HandleFunc("GET /v1/sessions/{session_id}/history", h.HandleHistory)
	mux.HandleFunc("GET /v1/sessions/{session_id}/technical-problems", h.HandleTechnicalProblems)

	// Speech endpoints (rate limited per user).
	mux.Handle("POST /v1/tts", rl(http.HandlerFunc(h.HandleSynthesize)))
	mux.HandleFunc("POST /v1/tts/interrupt", h.HandleInterrupt)

	// MCP StreamableHTTP transport (identity required).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → identity → body limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	if cfg.MaxRequestBodyBytes > 0 {
		handler = bodyLimitMiddleware(cfg.MaxRequestBodyBytes, handler)
	}
	handler = identityMiddleware(handler)
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

// bodyLimitMiddleware caps request body size before any handler reads it.
func bodyLimitMiddleware(limit int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
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
