package orchestrator

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ab1355/ModuMind/internal/registry"
)

// Router picks one agent for a capability. Healthy agents are preferred;
// degraded agents are used only when no healthy one exists; unreachable
// agents are never selected. Ties are broken round-robin with one counter
// per capability.
type Router struct {
	store    *registry.Store
	counters sync.Map // capability -> *atomic.Uint64
}

// NewRouter creates a Router reading from store.
func NewRouter(store *registry.Store) *Router {
	return &Router{store: store}
}

// Select returns the next agent for capability.
func (r *Router) Select(capability string) (registry.Descriptor, error) {
	capability = strings.ToLower(strings.TrimSpace(capability))

	candidates := r.store.List(capability)
	if len(candidates) == 0 {
		return registry.Descriptor{}, fmt.Errorf("%w: %q", ErrNoCapableAgent, capability)
	}

	pool := filterHealth(candidates, registry.HealthHealthy)
	if len(pool) == 0 {
		pool = filterHealth(candidates, registry.HealthDegraded)
	}
	if len(pool) == 0 {
		return registry.Descriptor{}, fmt.Errorf("%w: %q (%d registered, all unreachable)",
			ErrNoHealthyAgent, capability, len(candidates))
	}

	n := r.counter(capability).Add(1) - 1
	return pool[n%uint64(len(pool))], nil
}

func (r *Router) counter(capability string) *atomic.Uint64 {
	if c, ok := r.counters.Load(capability); ok {
		return c.(*atomic.Uint64)
	}
	c, _ := r.counters.LoadOrStore(capability, new(atomic.Uint64))
	return c.(*atomic.Uint64)
}

func filterHealth(in []registry.Descriptor, h registry.Health) []registry.Descriptor {
	var out []registry.Descriptor
	for _, d := range in {
		if d.Health == h {
			out = append(out, d)
		}
	}
	return out
}
