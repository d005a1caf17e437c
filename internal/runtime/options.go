package runtime

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/tjfontaine/modelserver/internal/config"
	"github.com/tjfontaine/modelserver/internal/core/ports"
)

// Option is a functional option for configuring a ModelServer.
type Option func(*ModelServer) error

// WithConfigFile loads configuration from path plus MODELSERVER_* overrides.
// An empty path uses $MODELSERVER_CONFIG, then config.yaml.
func WithConfigFile(path string) Option {
	return func(s *ModelServer) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		s.cfg = cfg
		return nil
	}
}

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *ModelServer) error {
		if cfg == nil {
			return fmt.Errorf("config must not be nil")
		}
		s.cfg = cfg
		return nil
	}
}

// WithModel serves m instead of building the model from configuration.
func WithModel(m ports.Model) Option {
	return func(s *ModelServer) error {
		if m == nil {
			return fmt.Errorf("model must not be nil")
		}
		s.model = m
		return nil
	}
}

// WithPreStage replaces the configured pre stages.
func WithPreStage(stage ports.PreStage) Option {
	return func(s *ModelServer) error {
		s.pre = stage
		return nil
	}
}

// WithPostStage replaces the configured post stages.
func WithPostStage(stage ports.PostStage) Option {
	return func(s *ModelServer) error {
		s.post = stage
		return nil
	}
}

// WithLogger sets the logger used by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(s *ModelServer) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithListener serves on ln instead of listening on the configured port.
func WithListener(ln net.Listener) Option {
	return func(s *ModelServer) error {
		s.listener = ln
		return nil
	}
}
