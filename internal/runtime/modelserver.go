// Package runtime assembles a model, its stages, the inference pipeline and
// the HTTP server into one process-level unit with a start/stop lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/tjfontaine/modelserver/internal/config"
	"github.com/tjfontaine/modelserver/internal/core/ports"
	"github.com/tjfontaine/modelserver/internal/model"
	"github.com/tjfontaine/modelserver/internal/pipeline"
	"github.com/tjfontaine/modelserver/internal/server"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("model server already started")

// ModelServer serves one model over HTTP. It can run standalone (Start and
// Shutdown) or be mounted in a larger application through Handler.
type ModelServer struct {
	// Dependencies (injected via options)
	cfg      *config.Config
	model    ports.Model
	pre      ports.PreStage
	post     ports.PostStage
	logger   *slog.Logger
	listener net.Listener

	// Built on first use
	server  *server.Server
	errCh   chan error
	started bool

	mu sync.Mutex
}

// New creates a ModelServer. Without WithConfig or WithConfigFile the
// configuration is loaded from the default location.
func New(opts ...Option) (*ModelServer, error) {
	s := &ModelServer{
		logger: slog.Default(),
		errCh:  make(chan error, 1),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if s.cfg == nil {
		cfg, err := config.Load("")
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		s.cfg = cfg
	}

	return s, nil
}

// Config returns the effective configuration.
func (s *ModelServer) Config() *config.Config {
	return s.cfg
}

// Handler builds the pipeline and returns the HTTP handler without
// listening. ctx bounds model loading.
func (s *ModelServer) Handler(ctx context.Context) (http.Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.build(ctx); err != nil {
		return nil, err
	}
	return s.server, nil
}

// Start builds the pipeline and begins serving in the background. Errors
// that stop the listener later are delivered on Err. A ModelServer can be
// started once.
func (s *ModelServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	if err := s.build(ctx); err != nil {
		return err
	}

	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Server.Port))
		if err != nil {
			return fmt.Errorf("listen on port %d: %w", s.cfg.Server.Port, err)
		}
		s.listener = ln
	}

	s.started = true
	go func() {
		if err := s.server.Serve(ln); err != nil {
			s.logger.Error("server stopped", slog.String("error", err.Error()))
			s.errCh <- err
		}
	}()

	s.logger.Info("model server started",
		slog.String("addr", ln.Addr().String()),
		slog.String("model", s.cfg.Model.Name),
		slog.Int("pre_stages", len(s.cfg.Pipeline.Pre)),
		slog.Int("post_stages", len(s.cfg.Pipeline.Post)))

	return nil
}

// Addr returns the listening address once started.
func (s *ModelServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Err reports a listener failure after Start.
func (s *ModelServer) Err() <-chan error {
	return s.errCh
}

// Shutdown gracefully stops the HTTP server.
func (s *ModelServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		return err
	}

	s.logger.Info("model server shutdown complete")
	return nil
}

func (s *ModelServer) build(ctx context.Context) error {
	if s.server != nil {
		return nil
	}

	if s.model == nil {
		m, err := model.New(ctx, s.cfg.Model, s.logger)
		if err != nil {
			return fmt.Errorf("init model: %w", err)
		}
		s.model = m
	}

	if s.pre == nil {
		pre, err := pipeline.NewPreStageFromConfig(s.cfg.Pipeline.Pre, s.logger)
		if err != nil {
			return fmt.Errorf("init pre stages: %w", err)
		}
		s.pre = pre
	}
	if s.post == nil {
		post, err := pipeline.NewPostStageFromConfig(s.cfg.Pipeline.Post)
		if err != nil {
			return fmt.Errorf("init post stages: %w", err)
		}
		s.post = post
	}

	p, err := pipeline.New(s.model,
		pipeline.WithPreStage(s.pre),
		pipeline.WithPostStage(s.post),
		pipeline.WithModelName(s.cfg.Model.Name),
		pipeline.WithLogger(s.logger),
	)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	s.server = server.New(s.cfg.Server, p, s.logger)
	return nil
}
