// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"cifleet/internal/controller/handlers"
	"cifleet/internal/controller/middleware"
)

// Options configures the middleware around the API.
type Options struct {
	Logger *slog.Logger
	// TokenHash guards /api. Empty disables the check.
	TokenHash      string
	RateLimit      float64
	RateLimitBurst int
	// Metrics is served on /metrics when set.
	Metrics http.Handler
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(addr string, h *handlers.Handlers, opts Options) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(h, opts),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 70 * time.Second,
		},
	}
}

// NewRouter wires the middleware chain in front of the API routes.
func NewRouter(h *handlers.Handlers, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()
	h.Register(mux)

	r := chi.NewRouter()

	// Order matters: the request id must exist before it is logged.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.UserHeader},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Identity)

	// Probes and metrics are not authenticated or rate limited.
	r.Handle("/healthz", mux)
	r.Handle("/readyz", mux)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	limiter := middleware.NewRateLimiter(opts.RateLimit, opts.RateLimitBurst)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireToken(opts.TokenHash))
		r.Use(limiter.Middleware())
		r.Handle("/api/*", mux)
	})
	return r
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
