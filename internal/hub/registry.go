package hub

import (
	"sync"

	"github.com/banshee-data/shared.frame/internal/eventbus"
	"github.com/banshee-data/shared.frame/internal/transport"
)

// Registry enforces one live Hub per scope. The first Open wins; later
// Opens return the existing hub until it is closed.
type Registry struct {
	mu     sync.Mutex
	active *Hub
}

// DefaultRegistry is the process-wide registry used by Open.
var DefaultRegistry = &Registry{}

// Open returns a hub over t. If the registry already has a live hub, the
// arguments are ignored, a warning is logged and the existing hub returned.
func (r *Registry) Open(t transport.Transport, bus *eventbus.Bus, opts Options) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		logf("WARNING: hub already open, ignoring second instance")
		return r.active
	}
	r.active = newHub(r, t, bus, opts)
	return r.active
}

// Current returns the live hub, or nil.
func (r *Registry) Current() *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Registry) release(h *Hub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == h {
		r.active = nil
	}
}

// Open opens a hub on DefaultRegistry.
func Open(t transport.Transport, bus *eventbus.Bus, opts Options) *Hub {
	return DefaultRegistry.Open(t, bus, opts)
}
