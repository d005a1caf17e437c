// Package server exposes an inference pipeline over HTTP: GET / answers with
// a fixed welcome string and POST /predict runs one JSON record through the
// pipeline.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/modelserver/internal/config"
	"github.com/tjfontaine/modelserver/internal/core/ports"
)

const (
	defaultMaxBodyBytes = 1 << 20
	readHeaderTimeout   = 10 * time.Second
)

type Server struct {
	Router *chi.Mux
	Port   int

	runner       ports.Runner
	maxBodyBytes int64
	logger       *slog.Logger
	httpServer   *http.Server
}

// New wires runner behind the router. The rate limiter and request timeout
// apply to /predict only, so the welcome route always answers.
func New(cfg config.ServerConfig, runner ports.Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	s := &Server{
		Router:       chi.NewRouter(),
		Port:         cfg.Port,
		runner:       runner,
		maxBodyBytes: maxBody,
		logger:       logger,
	}

	r := s.Router
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "modelserver")
	})
	if cfg.Compress {
		r.Use(func(next http.Handler) http.Handler {
			return gzhttp.GzipHandler(next)
		})
	}

	s.httpServer = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	r.Get("/", s.handleWelcome)
	r.With(
		RateLimitMiddleware(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		TimeoutMiddleware(cfg.RequestTimeoutDuration()),
	).Post("/predict", s.handlePredict)

	return s
}

// ServeHTTP makes the server usable as a plain http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Start listens on the configured port and blocks until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.Port, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting server", slog.String("addr", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}
