package tools

import (
	"sync"

	"github.com/pkg/errors"
)

// BackendRegistry is a thread-safe, ordered collection of tool backends.
// Registration order is preserved: it defines the enumeration order used
// when aggregating tools and the default-backend choice for unscoped names.
type BackendRegistry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	order    []string
}

// NewBackendRegistry creates an empty registry.
func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{
		backends: make(map[string]Backend),
	}
}

// Register adds a backend under its ID. Registering a duplicate ID is an
// error; use Remove first to replace a backend.
func (r *BackendRegistry) Register(backend Backend) error {
	if backend == nil {
		return errors.New("backend cannot be nil")
	}
	id := backend.ID()
	if id == "" {
		return errors.New("backend ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[id]; exists {
		return errors.Errorf("backend already registered: %s", id)
	}
	r.backends[id] = backend
	r.order = append(r.order, id)
	return nil
}

// Get retrieves a backend by ID.
func (r *BackendRegistry) Get(id string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	backend, exists := r.backends[id]
	if !exists {
		return nil, errors.Errorf("backend not found: %s", id)
	}
	return backend, nil
}

// List returns all backends in registration order.
func (r *BackendRegistry) List() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Backend, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.backends[id])
	}
	return out
}

// Remove deletes a backend from the registry.
func (r *BackendRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[id]; !exists {
		return errors.Errorf("backend not found: %s", id)
	}
	delete(r.backends, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// First returns the first registered backend, the default target for
// unscoped tool names.
func (r *BackendRegistry) First() (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return nil, false
	}
	return r.backends[r.order[0]], true
}

// Len returns the number of registered backends.
func (r *BackendRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}
