// Package model provides the inference models the server can host: a linear
// model loaded from a JSON artifact, a client for a remote HTTP inference
// endpoint, and a wrapper that bounds concurrent calls into either.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/tjfontaine/modelserver/internal/core/domain"
	"github.com/tjfontaine/modelserver/internal/core/ports"
)

// Link functions applied to the raw linear scores.
const (
	LinkIdentity = "identity"
	LinkLogistic = "logistic"
	LinkSoftmax  = "softmax"
)

// LinearArtifact is the on-disk form of a linear model. Coefficients holds
// one row per output, each with one weight per feature.
type LinearArtifact struct {
	Features     []string    `json:"features"`
	Coefficients [][]float64 `json:"coefficients"`
	Intercepts   []float64   `json:"intercepts,omitempty"`
	Classes      []any       `json:"classes,omitempty"`
	Link         string      `json:"link,omitempty"`
}

// Linear scores a record as intercept + coefficients . features per output.
//
// With classes it predicts a single class: argmax over the outputs, or for a
// single output a threshold (0.5 after the logistic link, 0 otherwise).
// Without classes it returns the raw score, or the list of scores when there
// is more than one output. Either way the prediction is a one-element list.
type Linear struct {
	artifact LinearArtifact
}

var _ ports.Model = (*Linear)(nil)

// NewLinear validates a and returns a model that is safe for concurrent use.
func NewLinear(a LinearArtifact) (*Linear, error) {
	if a.Link == "" {
		a.Link = LinkIdentity
	}
	switch a.Link {
	case LinkIdentity, LinkLogistic, LinkSoftmax:
	default:
		return nil, fmt.Errorf("invalid link %q (must be identity, logistic or softmax)", a.Link)
	}

	if len(a.Features) == 0 {
		return nil, fmt.Errorf("linear model has no features")
	}
	outputs := len(a.Coefficients)
	if outputs == 0 {
		return nil, fmt.Errorf("linear model has no coefficients")
	}
	for i, row := range a.Coefficients {
		if len(row) != len(a.Features) {
			return nil, fmt.Errorf("coefficient row %d has %d weights for %d features", i, len(row), len(a.Features))
		}
	}
	if a.Intercepts == nil {
		a.Intercepts = make([]float64, outputs)
	}
	if len(a.Intercepts) != outputs {
		return nil, fmt.Errorf("%d intercepts for %d outputs", len(a.Intercepts), outputs)
	}

	if len(a.Classes) > 0 {
		want := outputs
		if outputs == 1 {
			want = 2
		}
		if len(a.Classes) != want {
			return nil, fmt.Errorf("%d classes for %d outputs (want %d)", len(a.Classes), outputs, want)
		}
	}

	return &Linear{artifact: a}, nil
}

// LoadLinear decodes a JSON artifact from r.
func LoadLinear(r io.Reader) (*Linear, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var a LinearArtifact
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("decode linear artifact: %w", err)
	}
	return NewLinear(a)
}

// Features returns the feature names the model reads, in weight order.
func (m *Linear) Features() []string {
	return append([]string(nil), m.artifact.Features...)
}

func (m *Linear) Predict(ctx context.Context, in *domain.Record) (domain.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Prediction{}, err
	}

	x := make([]float64, len(m.artifact.Features))
	for i, f := range m.artifact.Features {
		v, ok := in.Get(f)
		if !ok {
			return domain.Prediction{}, fmt.Errorf("missing feature %q", f)
		}
		n, ok := domain.ToFloat(v)
		if !ok {
			return domain.Prediction{}, fmt.Errorf("feature %q is not a number", f)
		}
		x[i] = n
	}

	scores := make([]float64, len(m.artifact.Coefficients))
	for j, row := range m.artifact.Coefficients {
		z := m.artifact.Intercepts[j]
		for i, w := range row {
			z += w * x[i]
		}
		scores[j] = z
	}
	scores = m.applyLink(scores)

	if len(m.artifact.Classes) == 0 {
		if len(scores) == 1 {
			return domain.NewPrediction([]any{scores[0]}), nil
		}
		out := make([]any, len(scores))
		for i, s := range scores {
			out[i] = s
		}
		return domain.NewPrediction([]any{out}), nil
	}

	return domain.NewPrediction([]any{m.artifact.Classes[m.classIndex(scores)]}), nil
}

func (m *Linear) classIndex(scores []float64) int {
	if len(scores) == 1 {
		threshold := 0.0
		if m.artifact.Link == LinkLogistic {
			threshold = 0.5
		}
		if scores[0] > threshold {
			return 1
		}
		return 0
	}

	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return best
}

func (m *Linear) applyLink(scores []float64) []float64 {
	switch m.artifact.Link {
	case LinkLogistic:
		for i, z := range scores {
			scores[i] = 1 / (1 + math.Exp(-z))
		}
	case LinkSoftmax:
		peak := scores[0]
		for _, z := range scores {
			peak = math.Max(peak, z)
		}
		sum := 0.0
		for i, z := range scores {
			scores[i] = math.Exp(z - peak)
			sum += scores[i]
		}
		for i := range scores {
			scores[i] /= sum
		}
	}
	return scores
}
