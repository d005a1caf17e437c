package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"strconv"

	"github.com/tjfontaine/modelserver/internal/core/domain"
	"github.com/tjfontaine/modelserver/internal/core/ports"
)

// NewScaleStage multiplies numeric fields by factor. With no columns every
// numeric field is scaled and other fields are left alone; listed columns
// must exist and be numeric.
func NewScaleStage(name string, factor float64, columns ...string) ports.PreStage {
	return NewStageFunc(name, func(_ context.Context, in *domain.Record) (*domain.Record, error) {
		out := in.Clone()
		if len(columns) == 0 {
			for _, k := range out.Keys() {
				v, _ := out.Get(k)
				if f, ok := domain.ToFloat(v); ok {
					out.Set(k, f*factor)
				}
			}
			return out, nil
		}

		for _, c := range columns {
			v, ok := out.Get(c)
			if !ok {
				return nil, fmt.Errorf("missing column %q", c)
			}
			f, ok := domain.ToFloat(v)
			if !ok {
				return nil, fmt.Errorf("column %q is %s, not a number", c, typeName(v))
			}
			out.Set(c, f*factor)
		}
		return out, nil
	})
}

// NewSelectStage keeps only columns, in the listed order.
func NewSelectStage(name string, columns ...string) ports.PreStage {
	return NewStageFunc(name, func(_ context.Context, in *domain.Record) (*domain.Record, error) {
		out := domain.NewRecord()
		for _, c := range columns {
			v, ok := in.Get(c)
			if !ok {
				return nil, fmt.Errorf("missing column %q", c)
			}
			out.Set(c, v)
		}
		return out, nil
	})
}

// NewDropStage removes columns. Absent columns are ignored.
func NewDropStage(name string, columns ...string) ports.PreStage {
	return NewStageFunc(name, func(_ context.Context, in *domain.Record) (*domain.Record, error) {
		out := in.Clone()
		for _, c := range columns {
			out.Delete(c)
		}
		return out, nil
	})
}

// NewLabelsStage maps integer class indices to labels. Lists are mapped
// element by element.
func NewLabelsStage(name string, labels []string) ports.PostStage {
	return NewStageFunc(name, func(_ context.Context, in domain.Prediction) (domain.Prediction, error) {
		v, err := mapValues(in.Value, func(x any) (any, error) {
			f, ok := domain.ToFloat(x)
			if !ok {
				return nil, fmt.Errorf("class %v is %s, not an index", x, typeName(x))
			}
			i := int(f)
			if float64(i) != f || i < 0 || i >= len(labels) {
				return nil, fmt.Errorf("class index %v out of range [0, %d)", x, len(labels))
			}
			return labels[i], nil
		})
		if err != nil {
			return domain.Prediction{}, err
		}
		return domain.NewPrediction(v), nil
	})
}

// NewWrapStage turns a scalar prediction into a one-element list.
func NewWrapStage(name string) ports.PostStage {
	return NewStageFunc(name, func(_ context.Context, in domain.Prediction) (domain.Prediction, error) {
		if isList(in.Value) {
			return in, nil
		}
		return domain.NewPrediction([]any{in.Value}), nil
	})
}

// NewRoundStage rounds numeric values to digits decimal places.
func NewRoundStage(name string, digits int) ports.PostStage {
	return NewStageFunc(name, func(_ context.Context, in domain.Prediction) (domain.Prediction, error) {
		v, err := mapValues(in.Value, func(x any) (any, error) {
			f, ok := domain.ToFloat(x)
			if !ok {
				return x, nil
			}
			return roundFloat(f, digits), nil
		})
		if err != nil {
			return domain.Prediction{}, err
		}
		return domain.NewPrediction(v), nil
	})
}

// roundFloat rounds the exact binary value of f, so 2.675 becomes 2.67 the
// way Python's round does. Scaling by 10^digits first would round twice.
func roundFloat(f float64, digits int) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(f, 'f', digits, 64), 64)
	if err != nil {
		return f
	}
	return r
}

// mapValues applies fn to v, or to every leaf when v is a (nested) list.
func mapValues(v any, fn func(any) (any, error)) (any, error) {
	if !isList(v) {
		return fn(v)
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		mapped, err := mapValues(rv.Index(i).Interface(), fn)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = mapped
	}
	return out, nil
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case []any:
		return "a list"
	case map[string]any:
		return "an object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
