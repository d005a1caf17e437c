package model

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/tjfontaine/modelserver/internal/core/domain"
	"github.com/tjfontaine/modelserver/internal/core/ports"
)

// Guarded bounds the number of concurrent Predict calls into a model that is
// not safe for unrestricted concurrent use. A limit of 1 serializes calls.
type Guarded struct {
	model ports.Model
	sem   *semaphore.Weighted
}

var _ ports.Model = (*Guarded)(nil)

// NewGuarded wraps m. limit must be positive.
func NewGuarded(m ports.Model, limit int) *Guarded {
	if limit < 1 {
		limit = 1
	}
	return &Guarded{model: m, sem: semaphore.NewWeighted(int64(limit))}
}

// Predict waits for a free slot or for ctx to end.
func (g *Guarded) Predict(ctx context.Context, in *domain.Record) (domain.Prediction, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return domain.Prediction{}, err
	}
	defer g.sem.Release(1)
	return g.model.Predict(ctx, in)
}
