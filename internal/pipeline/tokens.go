package pipeline

import (
	"context"
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/modelserver/internal/core/domain"
)

// DefaultTokenEncoding is used when a tokens stage names no encoding.
const DefaultTokenEncoding = tokenizer.Cl100kBase

// TokenCountStage replaces text columns with their token counts so models
// trained on text length features can consume raw strings.
type TokenCountStage struct {
	name    string
	columns []string
	codec   tokenizer.Codec
}

// NewTokenCountStage loads the tiktoken encoding once at construction.
func NewTokenCountStage(name string, encoding tokenizer.Encoding, columns ...string) (*TokenCountStage, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("tokens stage %s: no columns configured", name)
	}
	if encoding == "" {
		encoding = DefaultTokenEncoding
	}
	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}
	return &TokenCountStage{name: name, columns: columns, codec: codec}, nil
}

func (s *TokenCountStage) Name() string { return s.name }

func (s *TokenCountStage) Transform(_ context.Context, in *domain.Record) (*domain.Record, error) {
	out := in.Clone()
	for _, c := range s.columns {
		v, ok := in.Get(c)
		if !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
		text, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("column %q is %s, not a string", c, typeName(v))
		}
		ids, _, err := s.codec.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("tokenize column %q: %w", c, err)
		}
		out.Set(c, float64(len(ids)))
	}
	return out, nil
}
