// Package tools holds the functions the remote service may call during a session.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

type entry struct {
	desc Descriptor
	fn   Func
}

// Registry maps tool names to functions. It is safe for concurrent use, and
// tools may be registered while a session is active.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]entry
	validator *SchemaValidator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]entry),
		validator: NewSchemaValidator(),
	}
}

// Register adds or replaces the tool called name.
func (r *Registry) Register(name string, fn Func, opts ...Option) error {
	if name == "" {
		return ErrToolNameRequired
	}
	if fn == nil {
		return ErrToolFuncRequired
	}
	desc := Descriptor{Name: name}
	for _, opt := range opts {
		opt(&desc)
	}
	if len(desc.Parameters) > 0 {
		if err := r.validator.Compile(desc.Parameters); err != nil {
			return fmt.Errorf("tool %s: invalid parameter schema: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = entry{desc: desc, fn: fn}
	return nil
}

// Unregister removes a tool. It reports whether the tool existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	return ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.desc, ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the function definitions for session configuration, sorted by name.
func (r *Registry) Definitions() []Definition {
	names := r.List()
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		e, ok := r.tools[name]
		if !ok {
			continue
		}
		params := e.desc.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		defs = append(defs, Definition{
			Type:        "function",
			Name:        name,
			Description: e.desc.Description,
			Parameters:  params,
		})
	}
	return defs
}

// Invoke validates args and calls the tool. It returns ErrToolNotFound for
// unknown names. Failures inside the tool, including panics, are returned as
// *InvocationError.
func (r *Registry) Invoke(ctx context.Context, name, callID string, args json.RawMessage) (result any, err error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	if err := r.validator.ValidateArgs(&e.desc, args); err != nil {
		return nil, &InvocationError{Tool: name, CallID: callID, Err: err}
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = &InvocationError{Tool: name, CallID: callID, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	out, ferr := e.fn(ctx, args)
	if ferr != nil {
		return nil, &InvocationError{Tool: name, CallID: callID, Err: ferr}
	}
	return out, nil
}
