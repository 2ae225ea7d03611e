// Package tools maps assistant-declared function names onto backend
// business operations and dispatches paused-run tool calls through the
// authorization boundary.
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/platewise/platewise/assistant"
	"github.com/platewise/platewise/assistant/platform"
)

// Handler executes one named backend function on behalf of a paused run.
type Handler interface {
	// Name is the function name the assistant uses.
	Name() string

	// RequiresAuth reports whether the function expects an authenticated
	// principal. Guests invoking such a function are served through the
	// guest-scoped backend variant; the check is made on every call.
	RequiresAuth() bool

	// Invoke runs the function. call.Arguments already carry the caller
	// context injected by the dispatcher. The returned string is the
	// JSON-serialized output, produced exactly once.
	Invoke(ctx context.Context, call platform.ToolCallRequest, caller assistant.Caller) (string, error)
}

// Registry is the typed map from function name to handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Registering the same name twice is a wiring
// bug and fails.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[h.Name()]; ok {
		return errors.Errorf("tool %q already registered", h.Name())
	}
	r.handlers[h.Name()] = h
	return nil
}

// Lookup resolves a function name. Unknown names return ok=false rather
// than a runtime failure.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns all registered function names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
