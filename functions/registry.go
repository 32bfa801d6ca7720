// Package functions holds the tools the remote model may call during a
// session, described in the realtime function-tool format.
package functions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Parameter is one argument of a tool. Type is a JSON schema type name.
type Parameter struct {
	Name     string
	Type     string
	Required bool
}

// Descriptor is what the model sees of a tool.
type Descriptor struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// Required lists required parameter names in declaration order.
func (d Descriptor) Required() []string {
	required := make([]string, 0, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return required
}

func (d Descriptor) Json() map[string]any {
	properties := make(map[string]any, len(d.Parameters))
	for _, p := range d.Parameters {
		properties[p.Name] = map[string]any{"type": p.Type}
	}
	return map[string]any{
		"type":        "function",
		"name":        d.Name,
		"description": d.Description,
		"parameters": map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   d.Required(),
		},
	}
}

func (d Descriptor) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(d.Json())
}

// Func is a tool implementation. Returned errors reach the session unchanged.
type Func func(ctx context.Context, args map[string]any) (any, error)

type entry struct {
	desc Descriptor
	fn   Func
}

// Registry maps tool names to implementations. Build one per session.
type Registry struct {
	logger shared.LoggerAdapter

	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

func NewRegistry(logger shared.LoggerAdapter) (*Registry, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &Registry{
		logger:  logger,
		entries: make(map[string]entry),
	}, nil
}

func (r *Registry) Register(desc Descriptor, fn Func) error {
	if desc.Name == "" {
		return errors.New("tool name is required")
	}
	if fn == nil {
		return fmt.Errorf("tool %q: implementation is required", desc.Name)
	}
	seen := make(map[string]struct{}, len(desc.Parameters))
	for _, p := range desc.Parameters {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("tool %q: duplicate parameter %q", desc.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[desc.Name]; exists {
		return fmt.Errorf("tool %q already registered", desc.Name)
	}
	// Callers keep their slice; the registry keeps its own copy.
	desc.Parameters = append([]Parameter(nil), desc.Parameters...)
	r.entries[desc.Name] = entry{desc: desc, fn: fn}
	r.order = append(r.order, desc.Name)
	r.logger.Debug("registered tool", zap.String("name", desc.Name))
	return nil
}

// Descriptors returns every registered tool in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descs := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		descs = append(descs, r.entries[name].desc)
	}
	return descs
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Invoke validates args against the descriptor and runs the tool.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", shared.ErrUnknownTool, name, r.Names())
	}
	for _, p := range e.desc.Required() {
		if _, present := args[p]; !present {
			return nil, fmt.Errorf("%w: %s: missing required parameter %q", shared.ErrArgument, name, p)
		}
	}
	result, err := e.fn(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return result, nil
}
