// Package httpserver provides the HTTP REST API for the paper search service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-search-service/internal/domain"
)

const readinessTimeout = 2 * time.Second

// Searcher is the pipeline served by the API.
type Searcher interface {
	Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error)
	PaperDetail(ctx context.Context, paperID, language string) (*domain.PaperDetail, error)
	Fulltext(ctx context.Context, paperID, language, difficulty string) (*domain.FulltextTranslation, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check ReadinessCheck
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	searcher   Searcher
	validate   *validator.Validate
	logger     zerolog.Logger

	corsOrigins    []string
	metricsPath    string
	metricsHandler http.Handler
	checks         []namedCheck
}

// Config holds HTTP server configuration.
type Config struct {
	Address            string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	CORSAllowedOrigins []string
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler mounts h at path, typically promhttp.HandlerFor.
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metricsHandler = h
	}
}

// WithReadinessCheck adds a dependency check to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(s *Server) {
		if check != nil {
			s.checks = append(s.checks, namedCheck{name: name, check: check})
		}
	}
}

// NewServer creates a new HTTP server over searcher.
func NewServer(cfg Config, searcher Searcher, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		searcher:    searcher,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With().Str("component", "http-server").Logger(),
		corsOrigins: cfg.CORSAllowedOrigins,
	}
	s.validate.RegisterTagNameFunc(jsonTagName)
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if len(s.corsOrigins) > 0 {
		r.Use(corsMiddleware(s.corsOrigins))
	}

	r.Group(func(r chi.Router) {
		r.Use(jsonContentTypeMiddleware)
		r.Get("/healthz", s.healthHandler)
		r.Get("/readyz", s.readinessHandler)
	})

	if s.metricsHandler != nil {
		r.Method(http.MethodGet, s.metricsPath, s.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jsonContentTypeMiddleware)
		r.Use(credentialsMiddleware)

		r.Post("/search", s.handleSearch)
		r.Get("/papers/{paperID}", s.handlePaperDetail)
		r.Get("/papers/{paperID}/fulltext", s.handleFulltext)
	})

	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler runs every registered dependency check.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	resp := readinessResponse{Status: "ready", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK

	for _, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		err := c.check(ctx)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("check", c.name).Msg("readiness check failed")
			resp.Checks[c.name] = err.Error()
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.name] = "ok"
	}

	writeJSON(w, status, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message, Code: code})
}
