// Package registry holds the set of known agents, their addresses, declared
// capabilities and last-known health.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Registry errors.
var (
	ErrDuplicateAgent    = errors.New("registry: duplicate agent")
	ErrUnknownAgent      = errors.New("registry: unknown agent")
	ErrInvalidDescriptor = errors.New("registry: invalid descriptor")
)

// Health is the last-known liveness of an agent.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthDegraded    Health = "degraded"
	HealthUnreachable Health = "unreachable"
)

// Valid reports whether h is one of the known health states.
func (h Health) Valid() bool {
	switch h {
	case HealthHealthy, HealthDegraded, HealthUnreachable:
		return true
	}
	return false
}

// Descriptor describes one agent endpoint.
type Descriptor struct {
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	Capabilities []string  `json:"capabilities"`
	Health       Health    `json:"health"`
	LastProbe    time.Time `json:"last_probe,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// HasCapability reports whether the descriptor advertises capability.
func (d Descriptor) HasCapability(capability string) bool {
	capability = normalizeCapability(capability)
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Store is a concurrency-safe in-memory agent store. Descriptors are kept
// in a map keyed by name with a separate slice holding registration order,
// so List results are stable.
type Store struct {
	mu     sync.RWMutex
	agents map[string]*Descriptor
	order  []string
	now    func() time.Time
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		agents: make(map[string]*Descriptor),
		now:    time.Now,
	}
}

// Register adds a descriptor. Capabilities are lower-cased and de-duplicated
// in order. A descriptor without a health state starts healthy.
func (s *Store) Register(d Descriptor) error {
	d.Name = strings.TrimSpace(d.Name)
	d.Address = strings.TrimRight(strings.TrimSpace(d.Address), "/")
	d.Capabilities = normalizeCapabilities(d.Capabilities)

	switch {
	case d.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	case d.Address == "":
		return fmt.Errorf("%w: agent %q has no address", ErrInvalidDescriptor, d.Name)
	case len(d.Capabilities) == 0:
		return fmt.Errorf("%w: agent %q declares no capabilities", ErrInvalidDescriptor, d.Name)
	}
	if d.Health == "" {
		d.Health = HealthHealthy
	}
	if !d.Health.Valid() {
		return fmt.Errorf("%w: agent %q has unknown health %q", ErrInvalidDescriptor, d.Name, d.Health)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[d.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateAgent, d.Name)
	}
	if d.RegisteredAt.IsZero() {
		d.RegisteredAt = s.now()
	}
	s.agents[d.Name] = &d
	s.order = append(s.order, d.Name)
	return nil
}

// Deregister removes the named agent.
func (s *Store) Deregister(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	delete(s.agents, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns a copy of the named descriptor.
func (s *Store) Get(name string) (Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.agents[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return copyDescriptor(d), nil
}

// List returns every descriptor advertising capability, in registration
// order. Priority is left to the caller.
func (s *Store) List(capability string) []Descriptor {
	capability = normalizeCapability(capability)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Descriptor
	for _, name := range s.order {
		d := s.agents[name]
		if d.HasCapability(capability) {
			out = append(out, copyDescriptor(d))
		}
	}
	return out
}

// All returns every descriptor in registration order.
func (s *Store) All() []Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Descriptor, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, copyDescriptor(s.agents[name]))
	}
	return out
}

// UpdateHealth sets the health of a known agent and stamps the probe time.
// Applying the same status twice is harmless.
func (s *Store) UpdateHealth(name string, status Health) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown health %q", ErrInvalidDescriptor, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.agents[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	d.Health = status
	d.LastProbe = s.now()
	return nil
}

// Len returns the number of registered agents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func copyDescriptor(src *Descriptor) Descriptor {
	dst := *src
	if src.Capabilities != nil {
		dst.Capabilities = make([]string, len(src.Capabilities))
		copy(dst.Capabilities, src.Capabilities)
	}
	return dst
}

func normalizeCapability(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

func normalizeCapabilities(caps []string) []string {
	seen := make(map[string]bool, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		c = normalizeCapability(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
