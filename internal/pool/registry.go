package pool

import "sync"

// Registry is the ordered failover list of pool endpoints plus the active
// index. Rotation is strictly round-robin over insertion order. Safe for
// concurrent use.
type Registry struct {
	mu        sync.Mutex
	endpoints []Endpoint
	active    int
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends an endpoint to the end of the failover list
func (r *Registry) Add(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = append(r.endpoints, ep)
}

// Clear empties the list and resets the active index
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = nil
	r.active = 0
}

// Len returns the number of registered endpoints
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.endpoints)
}

// Active returns the current endpoint. ok is false when the registry is
// empty.
func (r *Registry) Active() (Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.endpoints) == 0 {
		return Endpoint{}, false
	}
	return r.endpoints[r.active], true
}

// ActiveIndex returns the index of the active endpoint
func (r *Registry) ActiveIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Rotate advances the active index by one, wrapping to the head of the
// list, and returns the new active endpoint.
func (r *Registry) Rotate() (Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.endpoints) == 0 {
		return Endpoint{}, false
	}
	r.active++
	if r.active >= len(r.endpoints) {
		r.active = 0
	}
	return r.endpoints[r.active], true
}

// List returns a copy of the registered endpoints
func (r *Registry) List() []Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}
