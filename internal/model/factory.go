package model

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tjfontaine/modelserver/internal/config"
	"github.com/tjfontaine/modelserver/internal/core/ports"
)

// New builds the model described by cfg, wrapped in a Guarded when
// cfg.MaxConcurrency is set.
func New(ctx context.Context, cfg config.ModelConfig, logger *slog.Logger) (ports.Model, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		m   ports.Model
		err error
	)
	switch cfg.Type {
	case "linear":
		m, err = loadLinear(ctx, cfg)
	case "http":
		m, err = NewHTTP(HTTPConfig{
			URL:     cfg.HTTP.URL,
			Timeout: cfg.HTTP.TimeoutDuration(),
			Retries: cfg.HTTP.Retries,
			Headers: cfg.HTTP.Headers,
		}, WithHTTPLogger(logger))
	default:
		return nil, fmt.Errorf("invalid model type %q (must be 'linear' or 'http')", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("model loaded", "name", cfg.Name, "type", cfg.Type, "max_concurrency", cfg.MaxConcurrency)

	if cfg.MaxConcurrency > 0 {
		m = NewGuarded(m, cfg.MaxConcurrency)
	}
	return m, nil
}

func loadLinear(ctx context.Context, cfg config.ModelConfig) (*Linear, error) {
	rc, err := OpenArtifact(ctx, cfg.Artifact, cfg.S3)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	m, err := LoadLinear(rc)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cfg.Artifact, err)
	}
	return m, nil
}
