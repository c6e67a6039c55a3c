package actions

import (
	"sort"
	"sync"

	"github.com/btnflow/btnflow/pkg/schema"
)

// Registry is a thread-safe handler lookup keyed by action ID. The plugin
// manager rebuilds it on reload and swaps it in atomically, so readers
// always see a consistent snapshot.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler. Returns CONFLICT on a duplicate action ID.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	id := h.Definition().ID
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "handler action ID is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", id)
	}

	r.handlers[id] = h
	return nil
}

// Replace adds or overwrites a handler. Used on registry reload where user
// edits to an action must win over the previous version.
func (r *Registry) Replace(h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	id := h.Definition().ID
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "handler action ID is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[id] = h
	return nil
}

// Resolve retrieves a handler by action ID.
func (r *Registry) Resolve(id string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %q not registered", id)
	}
	return h, nil
}

// Has checks if an action is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[id]
	return ok
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// List returns the definitions of all registered handlers, sorted by ID.
func (r *Registry) List() []schema.ActionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]schema.ActionDefinition, 0, len(r.handlers))
	for _, h := range r.handlers {
		defs = append(defs, h.Definition())
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].ID < defs[j].ID
	})
	return defs
}
