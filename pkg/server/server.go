// Package server exposes the router and rate limiter over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/zen-systems/hybridgate/pkg/adapter"
	"github.com/zen-systems/hybridgate/pkg/logging"
	"github.com/zen-systems/hybridgate/pkg/config"
	"github.com/zen-systems/hybridgate/pkg/router"
)

// Router routes a single request to a backend.
type Router interface {
	Route(ctx context.Context, req router.Request) (*router.Outcome, error)
}

// Admitter admits or rejects a request for an identity.
type Admitter interface {
	Admit(ctx context.Context, identity string) error
}

// LocalInfo describes the local backend for the status endpoint.
type LocalInfo interface {
	Available(ctx context.Context) bool
	Model() string
	BaseURL() string
}

// Server is the HTTP API in front of the router.
type Server struct {
	cfg          config.ServerConfig
	router       Router
	limiter      Admitter
	local        LocalInfo
	remote       adapter.Adapter
	resolveModel func(string) string
	jwtSecret    []byte
	logger       zerolog.Logger
	httpServer   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLocal sets the local backend description.
func WithLocal(l LocalInfo) Option {
	return func(s *Server) {
		s.local = l
	}
}

// WithRemote sets the remote adapter reported by the status endpoint.
func WithRemote(a adapter.Adapter) Option {
	return func(s *Server) {
		s.remote = a
	}
}

// WithModelResolver sets the function that maps model aliases to names.
func WithModelResolver(fn func(string) string) Option {
	return func(s *Server) {
		if fn != nil {
			s.resolveModel = fn
		}
	}
}

// WithJWTSecret enables bearer-token identity resolution.
func WithJWTSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.jwtSecret = []byte(secret)
		}
	}
}

// WithLogger sets the access logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a server. Call Start to listen.
func New(cfg config.ServerConfig, r Router, limiter Admitter, opts ...Option) *Server {
	s := &Server{
		cfg:          cfg,
		router:       r,
		limiter:      limiter,
		resolveModel: func(m string) string { return m },
		logger:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /api/analyze", s.rateLimited(http.HandlerFunc(s.handleAnalyze)))
	mux.Handle("POST /api/generate", s.rateLimited(http.HandlerFunc(s.handleGenerate)))
	mux.HandleFunc("GET /api/models/status", s.handleModelsStatus)

	var h http.Handler = mux
	h = s.cors(h)
	h = s.accessLog(h)
	h = requestID(h)
	h = s.recoverPanics(h)
	return h
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
