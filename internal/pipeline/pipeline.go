package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/modelserver/internal/core/domain"
	"github.com/tjfontaine/modelserver/internal/core/ports"
)

const tracerName = "github.com/tjfontaine/modelserver/internal/pipeline"

// Pipeline runs pre -> predict -> post for one record at a time.
// It holds no per-request state and is safe for concurrent use as long as
// its stages and model are.
type Pipeline struct {
	model     ports.Model
	modelName string
	pre       ports.PreStage
	post      ports.PostStage
	tracer    trace.Tracer
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPreStage sets the stage applied to the decoded record. Nil keeps identity.
func WithPreStage(s ports.PreStage) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.pre = s
		}
	}
}

// WithPostStage sets the stage applied to the raw prediction. Nil keeps identity.
func WithPostStage(s ports.PostStage) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.post = s
		}
	}
}

// WithModelName sets the name reported in model errors and spans.
func WithModelName(name string) Option {
	return func(p *Pipeline) {
		p.modelName = name
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a pipeline around model.
func New(model ports.Model, opts ...Option) (*Pipeline, error) {
	if model == nil {
		return nil, errors.New("pipeline: model is required")
	}

	p := &Pipeline{
		model:     model,
		modelName: "model",
		pre:       Identity[*domain.Record](),
		post:      Identity[domain.Prediction](),
		tracer:    otel.Tracer(tracerName),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Run executes post(predict(pre(in))).
func (p *Pipeline) Run(ctx context.Context, in *domain.Record) (domain.Prediction, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("model.name", p.modelName),
			attribute.Int("record.fields", in.Len()),
		))
	defer span.End()

	// Stages and models may ignore ctx, so the deadline is checked after
	// every phase as well as by the phases themselves.
	rec, err := p.runPre(ctx, in)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return domain.Prediction{}, fail(span, err)
	}

	raw, err := p.predict(ctx, rec)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return domain.Prediction{}, fail(span, err)
	}

	out, err := p.runPost(ctx, raw)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return domain.Prediction{}, fail(span, err)
	}

	return out, nil
}

func (p *Pipeline) runPre(ctx context.Context, in *domain.Record) (*domain.Record, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.pre", trace.WithAttributes(attribute.String("stage.name", p.pre.Name())))
	defer span.End()

	out, err := p.pre.Transform(ctx, in)
	if err != nil {
		return nil, fail(span, asStageError(domain.PhasePre, p.pre.Name(), err))
	}
	p.logger.DebugContext(ctx, "pre stage done",
		slog.String("stage", p.pre.Name()),
		slog.Int("fields", out.Len()))
	return out, nil
}

func (p *Pipeline) predict(ctx context.Context, in *domain.Record) (domain.Prediction, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.predict", trace.WithAttributes(attribute.String("model.name", p.modelName)))
	defer span.End()

	out, err := p.model.Predict(ctx, in)
	if err != nil {
		var modelErr *domain.ModelError
		if !errors.As(err, &modelErr) {
			err = &domain.ModelError{Model: p.modelName, Err: err}
		}
		return domain.Prediction{}, fail(span, err)
	}
	return out, nil
}

func (p *Pipeline) runPost(ctx context.Context, in domain.Prediction) (domain.Prediction, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.post", trace.WithAttributes(attribute.String("stage.name", p.post.Name())))
	defer span.End()

	out, err := p.post.Transform(ctx, in)
	if err != nil {
		return domain.Prediction{}, fail(span, asStageError(domain.PhasePost, p.post.Name(), err))
	}
	return out, nil
}

// asStageError tags err with the phase. Errors raised inside a Chain already
// name the failing stage; they are copied rather than updated because a stage
// may return the same error value to concurrent requests.
func asStageError(phase domain.Phase, name string, err error) error {
	var stageErr *domain.StageError
	if errors.As(err, &stageErr) {
		if stageErr.Phase != "" {
			return err
		}
		return &domain.StageError{Phase: phase, Stage: stageErr.Stage, Err: stageErr.Err}
	}
	return &domain.StageError{Phase: phase, Stage: name, Err: err}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Ensure Pipeline implements the interface.
var _ ports.Runner = (*Pipeline)(nil)
