package pipeline

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/modelserver/internal/config"
	"github.com/tjfontaine/modelserver/internal/core/domain"
	"github.com/tjfontaine/modelserver/internal/core/ports"
)

// NewPreStageFromConfig builds the single pre stage from an ordered list of
// stage configs. No configs yields the identity stage. logger receives the
// stages' runtime diagnostics; nil means slog.Default().
func NewPreStageFromConfig(cfgs []config.StageConfig, logger *slog.Logger) (ports.PreStage, error) {
	stages := make([]ports.Stage[*domain.Record], 0, len(cfgs))
	for i, cfg := range cfgs {
		s, err := NewPreStage(withDefaultName(cfg, i), logger)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return Chain(stages...), nil
}

// NewPostStageFromConfig builds the single post stage from an ordered list of
// stage configs. No configs yields the identity stage.
func NewPostStageFromConfig(cfgs []config.StageConfig) (ports.PostStage, error) {
	stages := make([]ports.Stage[domain.Prediction], 0, len(cfgs))
	for i, cfg := range cfgs {
		s, err := NewPostStage(withDefaultName(cfg, i))
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return Chain(stages...), nil
}

// NewPreStage creates one built-in pre stage.
func NewPreStage(cfg config.StageConfig, logger *slog.Logger) (ports.PreStage, error) {
	switch cfg.Type {
	case "identity":
		return Identity[*domain.Record](), nil
	case "cel":
		return NewCELStage(cfg.Name, cfg.Fields)
	case "scale":
		if cfg.Factor == 0 {
			return nil, fmt.Errorf("stage %s: scale needs a non-zero factor", cfg.Name)
		}
		return NewScaleStage(cfg.Name, cfg.Factor, cfg.Columns...), nil
	case "select":
		if len(cfg.Columns) == 0 {
			return nil, fmt.Errorf("stage %s: select needs columns", cfg.Name)
		}
		return NewSelectStage(cfg.Name, cfg.Columns...), nil
	case "drop":
		if len(cfg.Columns) == 0 {
			return nil, fmt.Errorf("stage %s: drop needs columns", cfg.Name)
		}
		return NewDropStage(cfg.Name, cfg.Columns...), nil
	case "tokens":
		return NewTokenCountStage(cfg.Name, tokenizer.Encoding(cfg.Encoding), cfg.Columns...)
	case "webhook":
		return NewWebhookStage(WebhookStageConfig{
			Name:        cfg.Name,
			URL:         cfg.URL,
			Timeout:     cfg.TimeoutDuration(),
			Retries:     cfg.Retries,
			OnError:     cfg.OnError,
			Headers:     cfg.Headers,
			DenyPrivate: cfg.DenyPrivate,
			Logger:      logger,
		})
	default:
		return nil, fmt.Errorf("stage %s: invalid pre stage type %q (must be one of identity, cel, scale, select, drop, tokens, webhook)", cfg.Name, cfg.Type)
	}
}

// NewPostStage creates one built-in post stage.
func NewPostStage(cfg config.StageConfig) (ports.PostStage, error) {
	switch cfg.Type {
	case "identity":
		return Identity[domain.Prediction](), nil
	case "labels":
		if len(cfg.Labels) == 0 {
			return nil, fmt.Errorf("stage %s: labels needs at least one label", cfg.Name)
		}
		return NewLabelsStage(cfg.Name, cfg.Labels), nil
	case "wrap":
		return NewWrapStage(cfg.Name), nil
	case "round":
		if cfg.Digits < 0 {
			return nil, fmt.Errorf("stage %s: round digits must not be negative", cfg.Name)
		}
		return NewRoundStage(cfg.Name, cfg.Digits), nil
	case "cel":
		return NewCELPostStage(cfg.Name, cfg.Expression)
	default:
		return nil, fmt.Errorf("stage %s: invalid post stage type %q (must be one of identity, labels, wrap, round, cel)", cfg.Name, cfg.Type)
	}
}

func withDefaultName(cfg config.StageConfig, i int) config.StageConfig {
	if cfg.Name == "" {
		cfg.Name = cfg.Type + "-" + strconv.Itoa(i)
	}
	return cfg
}
