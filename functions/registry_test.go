package functions

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefault(t *testing.T) *Registry {
	t.Helper()
	r, err := NewDefaultRegistry(shared.NewNopLogger())
	require.NoError(t, err)
	return r
}

func TestCalculateSum(t *testing.T) {
	r := newDefault(t)
	tests := []struct {
		name string
		a, b float64
	}{
		{name: "small integers", a: 4, b: 6},
		{name: "zeros", a: 0, b: 0},
		{name: "negative zero", a: math.Copysign(0, -1), b: 0},
		{name: "negatives", a: -2.5, b: -7.25},
		{name: "mixed signs", a: 1e308, b: -1e308},
		{name: "overflow to infinity", a: math.MaxFloat64, b: math.MaxFloat64},
		{name: "positive infinity", a: math.Inf(1), b: 3},
		{name: "opposite infinities", a: math.Inf(1), b: math.Inf(-1)},
		{name: "nan", a: math.NaN(), b: 1},
		{name: "fractions", a: 0.1, b: 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Invoke(context.Background(), SumToolName, map[string]any{"a": tt.a, "b": tt.b})
			require.NoError(t, err)
			want := tt.a + tt.b
			if math.IsNaN(want) {
				assert.True(t, math.IsNaN(got.(float64)))
				return
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestCalculateSumAcceptsIntegerKinds(t *testing.T) {
	got, err := Sum(context.Background(), map[string]any{"a": 4, "b": int64(6)})
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)
}

func TestCalculateSumRejectsNonNumbers(t *testing.T) {
	_, err := newDefault(t).Invoke(context.Background(), SumToolName, map[string]any{"a": "4", "b": 6})
	assert.ErrorIs(t, err, shared.ErrArgument)
}

func TestInvokeUnknownTool(t *testing.T) {
	r := newDefault(t)
	called := false
	require.NoError(t, r.Register(Descriptor{Name: "spy"}, func(context.Context, map[string]any) (any, error) {
		called = true
		return nil, nil
	}))

	_, err := r.Invoke(context.Background(), "calculate_product", map[string]any{"a": 1, "b": 2})
	assert.ErrorIs(t, err, shared.ErrUnknownTool)
	assert.False(t, called)
}

func TestInvokeMissingRequiredParameter(t *testing.T) {
	r, err := NewRegistry(shared.NewNopLogger())
	require.NoError(t, err)
	calls := 0
	require.NoError(t, r.Register(SumDescriptor, func(ctx context.Context, args map[string]any) (any, error) {
		calls++
		return Sum(ctx, args)
	}))

	for _, args := range []map[string]any{{"a": 1.0}, {"b": 1.0}, {}, nil} {
		_, err := r.Invoke(context.Background(), SumToolName, args)
		assert.ErrorIs(t, err, shared.ErrArgument)
	}
	assert.Zero(t, calls)
}

func TestInvokeSurfacesApplicationErrors(t *testing.T) {
	r, err := NewRegistry(shared.NewNopLogger())
	require.NoError(t, err)
	boom := errors.New("boom")
	require.NoError(t, r.Register(Descriptor{Name: "fails"}, func(context.Context, map[string]any) (any, error) {
		return nil, boom
	}))

	_, err = r.Invoke(context.Background(), "fails", nil)
	assert.ErrorIs(t, err, boom)
}

func TestRegisterValidation(t *testing.T) {
	_, err := NewRegistry(nil)
	assert.ErrorIs(t, err, shared.ErrNoLogger)

	r := newDefault(t)
	assert.Error(t, r.Register(SumDescriptor, Sum), "duplicate name")
	assert.Error(t, r.Register(Descriptor{Name: "nil_fn"}, nil))
	assert.Error(t, r.Register(Descriptor{}, Sum))
	assert.Error(t, r.Register(Descriptor{
		Name:       "dup_param",
		Parameters: []Parameter{{Name: "x", Type: "number"}, {Name: "x", Type: "string"}},
	}, Sum))

	assert.Equal(t, []string{SumToolName}, r.Names())
}

func TestDescriptorJSONShape(t *testing.T) {
	data, err := sonic.Marshal(SumDescriptor)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, sonic.Unmarshal(data, &got))
	assert.Equal(t, map[string]any{
		"type":        "function",
		"name":        "calculate_sum",
		"description": SumDescriptor.Description,
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []any{"a", "b"},
		},
	}, got)
}

func TestDescriptorsKeepRegistrationOrder(t *testing.T) {
	r := newDefault(t)
	noop := func(context.Context, map[string]any) (any, error) { return nil, nil }
	require.NoError(t, r.Register(Descriptor{Name: "zeta"}, noop))
	require.NoError(t, r.Register(Descriptor{Name: "alpha"}, noop))

	var names []string
	for _, d := range r.Descriptors() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{SumToolName, "zeta", "alpha"}, names)
}
