package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/tjfontaine/modelserver/internal/core/domain"
	"github.com/tjfontaine/modelserver/internal/core/ports"
)

type identity[T any] struct{}

// Identity returns a stage whose output is its input.
func Identity[T any]() ports.Stage[T] {
	return identity[T]{}
}

func (identity[T]) Name() string { return "identity" }

func (identity[T]) Transform(_ context.Context, in T) (T, error) {
	return in, nil
}

// StageFunc adapts a plain function to the Stage interface.
type StageFunc[T any] struct {
	name string
	fn   func(ctx context.Context, in T) (T, error)
}

// NewStageFunc names fn as a stage.
func NewStageFunc[T any](name string, fn func(ctx context.Context, in T) (T, error)) *StageFunc[T] {
	return &StageFunc[T]{name: name, fn: fn}
}

func (s *StageFunc[T]) Name() string { return s.name }

func (s *StageFunc[T]) Transform(ctx context.Context, in T) (T, error) {
	return s.fn(ctx, in)
}

type chain[T any] struct {
	stages []ports.Stage[T]
}

// Chain composes stages into one that runs them in order, each receiving the
// previous stage's output. An empty chain is the identity.
func Chain[T any](stages ...ports.Stage[T]) ports.Stage[T] {
	switch len(stages) {
	case 0:
		return Identity[T]()
	case 1:
		return stages[0]
	}
	return &chain[T]{stages: stages}
}

func (c *chain[T]) Name() string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return strings.Join(names, ",")
}

func (c *chain[T]) Transform(ctx context.Context, in T) (T, error) {
	current := in
	for _, s := range c.stages {
		out, err := s.Transform(ctx, current)
		if err != nil {
			var zero T
			var stageErr *domain.StageError
			if !errors.As(err, &stageErr) {
				err = &domain.StageError{Stage: s.Name(), Err: err}
			}
			return zero, err
		}
		current = out
	}
	return current, nil
}
