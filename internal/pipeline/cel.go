package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/tjfontaine/modelserver/internal/core/domain"
)

// celInterruptFrequency is how many comprehension iterations run between
// context checks.
const celInterruptFrequency = 100

type celField struct {
	name    string
	program cel.Program
}

// CELStage derives record fields from CEL expressions over the variable
// `input`. Every expression sees the incoming record, not the fields derived
// by its siblings; results are written in field-name order.
type CELStage struct {
	name   string
	fields []celField
}

// NewCELStage compiles one expression per output field.
func NewCELStage(name string, fields map[string]string) (*CELStage, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("cel stage %s: no fields configured", name)
	}

	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	names := make([]string, 0, len(fields))
	for field := range fields {
		names = append(names, field)
	}
	sort.Strings(names)

	s := &CELStage{name: name}
	for _, field := range names {
		prg, err := compile(env, fields[field])
		if err != nil {
			return nil, fmt.Errorf("cel stage %s: field %q: %w", name, field, err)
		}
		s.fields = append(s.fields, celField{name: field, program: prg})
	}
	return s, nil
}

func (s *CELStage) Name() string { return s.name }

func (s *CELStage) Transform(ctx context.Context, in *domain.Record) (*domain.Record, error) {
	vars := map[string]any{"input": celValue(in)}
	out := in.Clone()
	for _, f := range s.fields {
		v, err := eval(ctx, f.program, vars)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.name, err)
		}
		out.Set(f.name, v)
	}
	return out, nil
}

// CELPostStage replaces the prediction with the result of a CEL expression
// over the variable `prediction`.
type CELPostStage struct {
	name    string
	program cel.Program
}

// NewCELPostStage compiles expression.
func NewCELPostStage(name, expression string) (*CELPostStage, error) {
	env, err := cel.NewEnv(
		cel.Variable("prediction", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	prg, err := compile(env, expression)
	if err != nil {
		return nil, fmt.Errorf("cel stage %s: %w", name, err)
	}
	return &CELPostStage{name: name, program: prg}, nil
}

func (s *CELPostStage) Name() string { return s.name }

func (s *CELPostStage) Transform(ctx context.Context, in domain.Prediction) (domain.Prediction, error) {
	v, err := eval(ctx, s.program, map[string]any{"prediction": celValue(in.Value)})
	if err != nil {
		return domain.Prediction{}, err
	}
	return domain.NewPrediction(v), nil
}

func compile(env *cel.Env, expression string) (cel.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("empty expression")
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, issues.Err())
	}
	prg, err := env.Program(ast, cel.InterruptCheckFrequency(celInterruptFrequency))
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expression, err)
	}
	return prg, nil
}

func eval(ctx context.Context, prg cel.Program, vars map[string]any) (any, error) {
	out, _, err := prg.ContextEval(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return fromCEL(out)
}

// celValue converts records into plain maps the CEL type adapter understands.
func celValue(v any) any {
	switch val := v.(type) {
	case *domain.Record:
		m := val.Map()
		for k, fv := range m {
			m[k] = celValue(fv)
		}
		return m
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = celValue(e)
		}
		return out
	default:
		return v
	}
}

// fromCEL converts a CEL result to the JSON-shaped values used in records.
// Integers become float64 to match decoded request numbers.
func fromCEL(v ref.Val) (any, error) {
	switch val := v.(type) {
	case types.Null:
		return nil, nil
	case types.Bool:
		return bool(val), nil
	case types.Int:
		return float64(val), nil
	case types.Uint:
		return float64(val), nil
	case types.Double:
		return float64(val), nil
	case types.String:
		return string(val), nil
	case *types.Err:
		return nil, val
	}

	if l, ok := v.(traits.Lister); ok {
		var out []any
		it := l.Iterator()
		for it.HasNext() == types.True {
			e, err := fromCEL(it.Next())
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		if out == nil {
			out = []any{}
		}
		return out, nil
	}

	if m, ok := v.(traits.Mapper); ok {
		out := make(map[string]any)
		it := m.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			key, ok := k.(types.String)
			if !ok {
				return nil, fmt.Errorf("map key %v is not a string", k.Value())
			}
			e, err := fromCEL(m.Get(k))
			if err != nil {
				return nil, err
			}
			out[string(key)] = e
		}
		return out, nil
	}

	return v.Value(), nil
}
