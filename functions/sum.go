package functions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bt-bridge/realtime-voice/shared"
)

const SumToolName = "calculate_sum"

var SumDescriptor = Descriptor{
	Name:        SumToolName,
	Description: "Use this function when asked to add numbers together, for example when asked 'What's 4 + 6'?.",
	Parameters: []Parameter{
		{Name: "a", Type: "number", Required: true},
		{Name: "b", Type: "number", Required: true},
	},
}

// Sum adds a and b with plain float64 addition, so NaN and infinities
// propagate the IEEE way.
func Sum(_ context.Context, args map[string]any) (any, error) {
	a, ok := asFloat64(args["a"])
	if !ok {
		return nil, fmt.Errorf("%w: a is not a number: %v", shared.ErrArgument, args["a"])
	}
	b, ok := asFloat64(args["b"])
	if !ok {
		return nil, fmt.Errorf("%w: b is not a number: %v", shared.ErrArgument, args["b"])
	}
	return a + b, nil
}

// NewDefaultRegistry returns a registry holding the built-in tools.
func NewDefaultRegistry(logger shared.LoggerAdapter) (*Registry, error) {
	r, err := NewRegistry(logger)
	if err != nil {
		return nil, err
	}
	if err := r.Register(SumDescriptor, Sum); err != nil {
		return nil, err
	}
	return r, nil
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}
