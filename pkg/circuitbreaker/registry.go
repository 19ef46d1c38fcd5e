package circuitbreaker

import "sync"

// Registry hands out named breakers, creating one lazily on first use
// so call sites never need an explicit init step for a new MCP server
// name or quota tier.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Config
}

// NewRegistry creates a Registry whose lazily-created breakers start
// from defaults (with Name overridden per call).
func NewRegistry(defaults Config) *Registry {
	defaults.SetDefaults()
	return &Registry{breakers: make(map[string]*Breaker), defaults: defaults}
}

// Get returns the named breaker, creating it from the registry's
// defaults if it doesn't exist yet.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg := r.defaults
	cfg.Name = name
	b = New(cfg)
	r.breakers[name] = b
	return b
}

// Stats returns a snapshot of every breaker currently tracked.
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Stats())
	}
	return out
}

// OpenCircuits returns the names of every breaker currently OPEN.
func (r *Registry) OpenCircuits() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var open []string
	for name, b := range r.breakers {
		if b.State() == Open {
			open = append(open, name)
		}
	}
	return open
}

// ResetAll forces every tracked breaker back to CLOSED.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
