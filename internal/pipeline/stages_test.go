package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/modelserver/internal/config"
	"github.com/tjfontaine/modelserver/internal/core/domain"
)

func TestIdentity(t *testing.T) {
	in := record("a", 1.0)
	out, err := Identity[*domain.Record]().Transform(context.Background(), in)
	require.NoError(t, err)
	assert.Same(t, in, out)
	assert.Equal(t, "identity", Identity[domain.Prediction]().Name())
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	t.Run("empty is identity", func(t *testing.T) {
		s := Chain[*domain.Record]()
		assert.Equal(t, "identity", s.Name())
	})

	t.Run("single stage returned as-is", func(t *testing.T) {
		scale := NewScaleStage("double", 2)
		assert.Same(t, scale, Chain(scale))
	})

	t.Run("runs in order", func(t *testing.T) {
		s := Chain(NewScaleStage("double", 2), NewSelectStage("pick", "b", "a"), NewDropStage("drop", "a"))
		assert.Equal(t, "double,pick,drop", s.Name())

		out, err := s.Transform(ctx, record("a", 1.0, "b", 2.0, "c", 3.0))
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, out.Keys())
		v, _ := out.Get("b")
		assert.Equal(t, 4.0, v)
	})
}

func TestScaleStage(t *testing.T) {
	ctx := context.Background()

	out, err := NewScaleStage("s", 10).Transform(ctx, record("x", 1.5, "name", "n", "flag", true))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "name", "flag"}, out.Keys())
	x, _ := out.Get("x")
	name, _ := out.Get("name")
	assert.Equal(t, 15.0, x)
	assert.Equal(t, "n", name)

	_, err = NewScaleStage("s", 2, "name").Transform(ctx, record("name", "n"))
	assert.ErrorContains(t, err, "not a number")

	_, err = NewScaleStage("s", 2, "missing").Transform(ctx, record("x", 1.0))
	assert.ErrorContains(t, err, `missing column "missing"`)
}

func TestSelectStage(t *testing.T) {
	out, err := NewSelectStage("s", "c", "a").Transform(context.Background(), record("a", 1.0, "b", 2.0, "c", 3.0))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, out.Keys())

	_, err = NewSelectStage("s", "z").Transform(context.Background(), record("a", 1.0))
	assert.Error(t, err)
}

func TestLabelsStage(t *testing.T) {
	s := NewLabelsStage("labels", []string{"setosa", "versicolor", "virginica"})
	ctx := context.Background()

	tests := []struct {
		name    string
		in      any
		want    string
		wantErr string
	}{
		{"list", []any{2.0}, "['virginica']", ""},
		{"scalar", 1.0, "versicolor", ""},
		{"int slice", []int{0, 1}, "['setosa' 'versicolor']", ""},
		{"out of range", []any{3.0}, "", "out of range"},
		{"fractional", 0.5, "", "out of range"},
		{"negative", -1.0, "", "out of range"},
		{"not a number", "setosa", "", "not an index"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := s.Transform(ctx, domain.NewPrediction(tt.in))
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestWrapStage(t *testing.T) {
	s := NewWrapStage("wrap")
	ctx := context.Background()

	out, err := s.Transform(ctx, domain.NewPrediction(6.0))
	require.NoError(t, err)
	assert.Equal(t, []any{6.0}, out.Value)

	list := []any{1.0, 2.0}
	out, err = s.Transform(ctx, domain.NewPrediction(list))
	require.NoError(t, err)
	assert.Equal(t, list, out.Value)

	out, err = s.Transform(ctx, domain.NewPrediction(nil))
	require.NoError(t, err)
	assert.Equal(t, "[None]", out.String())
}

func TestRoundStage(t *testing.T) {
	out, err := NewRoundStage("round", 2).Transform(context.Background(),
		domain.NewPrediction([]any{0.12345, "label", []float64{2.005, 1.0 / 3}}))
	require.NoError(t, err)
	assert.Equal(t, "[0.12 'label' [2 0.33]]", out.String())
}

func TestRoundStage_ExactBinaryValue(t *testing.T) {
	tests := []struct {
		in     float64
		digits int
		want   float64
	}{
		{2.675, 2, 2.67},
		{1.005, 2, 1},
		{0.125, 2, 0.12},
		{2.5, 0, 2},
		{-1.2345, 3, -1.234},
		{1234.5678, 1, 1234.6},
	}
	for _, tt := range tests {
		out, err := NewRoundStage("round", tt.digits).Transform(context.Background(), domain.NewPrediction(tt.in))
		require.NoError(t, err)
		assert.Equal(t, tt.want, out.Value, "round(%v, %d)", tt.in, tt.digits)
	}
}

func TestCELStage(t *testing.T) {
	s, err := NewCELStage("derive", map[string]string{
		"area":  "input.width * input.height",
		"big":   "input.width > 2.0",
		"label": `input.kind + "-x"`,
	})
	require.NoError(t, err)

	out, err := s.Transform(context.Background(), record("width", 3.0, "height", 2.0, "kind", "k"))
	require.NoError(t, err)

	assert.Equal(t, []string{"width", "height", "kind", "area", "big", "label"}, out.Keys())
	area, _ := out.Get("area")
	big, _ := out.Get("big")
	label, _ := out.Get("label")
	assert.Equal(t, 6.0, area)
	assert.Equal(t, true, big)
	assert.Equal(t, "k-x", label)
}

func TestCELStage_IntegerResultsAreFloats(t *testing.T) {
	s, err := NewCELStage("count", map[string]string{"n": "size(input)", "xs": "[1, 2]"})
	require.NoError(t, err)

	out, err := s.Transform(context.Background(), record("a", 1.0, "b", 2.0))
	require.NoError(t, err)
	n, _ := out.Get("n")
	xs, _ := out.Get("xs")
	assert.Equal(t, 2.0, n)
	assert.Equal(t, []any{1.0, 2.0}, xs)
}

func TestCELStage_Errors(t *testing.T) {
	_, err := NewCELStage("bad", map[string]string{"x": "input.a +"})
	assert.ErrorContains(t, err, "compile")

	_, err = NewCELStage("empty", nil)
	assert.Error(t, err)

	s, err := NewCELStage("missing", map[string]string{"x": "input.nope * 2.0"})
	require.NoError(t, err)
	_, err = s.Transform(context.Background(), record("a", 1.0))
	assert.ErrorContains(t, err, `field "x"`)
}

func TestCELPostStage(t *testing.T) {
	s, err := NewCELPostStage("threshold", "prediction[0] > 0.5 ? 'yes' : 'no'")
	require.NoError(t, err)

	out, err := s.Transform(context.Background(), domain.NewPrediction([]any{0.7}))
	require.NoError(t, err)
	assert.Equal(t, "yes", out.Value)

	echo, err := NewCELPostStage("field", "prediction.a")
	require.NoError(t, err)
	out, err = echo.Transform(context.Background(), domain.NewPrediction(record("a", "v")))
	require.NoError(t, err)
	assert.Equal(t, "v", out.Value)
}

func TestTokenCountStage(t *testing.T) {
	s, err := NewTokenCountStage("tokens", "", "text")
	require.NoError(t, err)

	out, err := s.Transform(context.Background(), record("text", "hello world", "n", 1.0))
	require.NoError(t, err)
	v, _ := out.Get("text")
	assert.Equal(t, 2.0, v)

	_, err = s.Transform(context.Background(), record("text", 5.0))
	assert.ErrorContains(t, err, "not a string")

	_, err = NewTokenCountStage("tokens", "")
	assert.Error(t, err)
}

func TestStagesFromConfig(t *testing.T) {
	pre, err := NewPreStageFromConfig([]config.StageConfig{
		{Type: "scale", Factor: 2},
		{Name: "pick", Type: "select", Columns: []string{"x"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "scale-0,pick", pre.Name())

	post, err := NewPostStageFromConfig([]config.StageConfig{
		{Type: "wrap"},
		{Type: "labels", Labels: []string{"a", "b", "c", "d", "e", "f", "g"}},
	})
	require.NoError(t, err)

	p, err := New(&mockModel{fn: func(in *domain.Record) (domain.Prediction, error) {
		v, _ := in.Get("x")
		return domain.NewPrediction(v), nil
	}}, WithPreStage(pre), WithPostStage(post))
	require.NoError(t, err)

	got, err := p.Run(context.Background(), record("x", 3.0, "y", 9.0))
	require.NoError(t, err)
	assert.Equal(t, "['g']", got.String())

	empty, err := NewPreStageFromConfig(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "identity", empty.Name())
}

func TestStagesFromConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		pre  bool
		cfg  config.StageConfig
	}{
		{"unknown pre", true, config.StageConfig{Type: "pca"}},
		{"scale without factor", true, config.StageConfig{Type: "scale"}},
		{"select without columns", true, config.StageConfig{Type: "select"}},
		{"drop without columns", true, config.StageConfig{Type: "drop"}},
		{"cel compile error", true, config.StageConfig{Type: "cel", Fields: map[string]string{"x": "1 +"}}},
		{"unknown encoding", true, config.StageConfig{Type: "tokens", Encoding: "nope", Columns: []string{"t"}}},
		{"unknown post", false, config.StageConfig{Type: "argmax"}},
		{"labels without labels", false, config.StageConfig{Type: "labels"}},
		{"negative digits", false, config.StageConfig{Type: "round", Digits: -1}},
		{"post cel without expression", false, config.StageConfig{Type: "cel"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.pre {
				_, err = NewPreStageFromConfig([]config.StageConfig{tt.cfg}, nil)
			} else {
				_, err = NewPostStageFromConfig([]config.StageConfig{tt.cfg})
			}
			assert.Error(t, err)
		})
	}
}
