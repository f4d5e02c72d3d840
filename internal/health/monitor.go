// Package health periodically probes registered agents and records their
// liveness in the agent store.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ab1355/ModuMind/internal/registry"
)

// Prober checks whether one agent is alive. dispatch.Client satisfies it.
type Prober interface {
	Probe(ctx context.Context, agent registry.Descriptor, timeout time.Duration) error
}

// Config controls probe cadence.
type Config struct {
	Interval     time.Duration `mapstructure:"interval"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	Concurrency  int           `mapstructure:"concurrency"`

	// UnreachableAfter is the number of consecutive failures that mark an
	// agent unreachable. A single failure only degrades it.
	UnreachableAfter int `mapstructure:"unreachable_after"`
}

// DefaultConfig returns a 10s interval, 2s probe timeout, 8 concurrent
// probes and demotion to unreachable after two failures.
func DefaultConfig() Config {
	return Config{
		Interval:         10 * time.Second,
		ProbeTimeout:     2 * time.Second,
		Concurrency:      8,
		UnreachableAfter: 2,
	}
}

// Monitor owns the consecutive-failure counters and is the only writer of
// agent health.
type Monitor struct {
	cfg    Config
	store  *registry.Store
	prober Prober
	logger *zap.SugaredLogger

	mu       sync.Mutex
	failures map[string]int
}

// NewMonitor creates a Monitor. A nil logger discards output.
func NewMonitor(cfg Config, store *registry.Store, prober Prober, logger *zap.SugaredLogger) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.UnreachableAfter < 1 {
		cfg.UnreachableAfter = def.UnreachableAfter
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Monitor{
		cfg:      cfg,
		store:    store,
		prober:   prober,
		logger:   logger,
		failures: make(map[string]int),
	}
}

// Run probes immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Infow("health_monitor_started", "interval", m.cfg.Interval, "probe_timeout", m.cfg.ProbeTimeout)
	for {
		if err := m.ProbeOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warnw("health_round_failed", "error", err)
		}
		select {
		case <-ctx.Done():
			m.logger.Infow("health_monitor_stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProbeOnce probes every registered agent concurrently and applies the
// results. It returns only when every probe has finished.
func (m *Monitor) ProbeOnce(ctx context.Context) error {
	agents := m.store.All()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for _, a := range agents {
		g.Go(func() error {
			err := m.prober.Probe(gctx, a, m.cfg.ProbeTimeout)
			if gctx.Err() != nil {
				// Shutting down; a cancelled probe says nothing about the agent.
				return nil
			}
			m.apply(a, err)
			return nil
		})
	}
	_ = g.Wait()

	m.prune()
	return ctx.Err()
}

// Failures returns the consecutive failure count for name.
func (m *Monitor) Failures(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[name]
}

func (m *Monitor) apply(a registry.Descriptor, probeErr error) {
	m.mu.Lock()
	next := registry.HealthHealthy
	if probeErr == nil {
		delete(m.failures, a.Name)
	} else {
		m.failures[a.Name]++
		next = registry.HealthDegraded
		if m.failures[a.Name] >= m.cfg.UnreachableAfter {
			next = registry.HealthUnreachable
		}
	}
	fails := m.failures[a.Name]
	m.mu.Unlock()

	if err := m.store.UpdateHealth(a.Name, next); err != nil {
		// Deregistered while the probe was in flight.
		return
	}

	switch {
	case a.Health == next:
	case next == registry.HealthHealthy:
		m.logger.Infow("agent_restored", "agent", a.Name, "from", a.Health)
	default:
		m.logger.Warnw("agent_demoted",
			"agent", a.Name,
			"from", a.Health,
			"to", next,
			"consecutive_failures", fails,
			"error", probeErr,
		)
	}
}

// prune drops counters of agents that are no longer registered.
func (m *Monitor) prune() {
	live := make(map[string]bool)
	for _, d := range m.store.All() {
		live[d.Name] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.failures {
		if !live[name] {
			delete(m.failures, name)
		}
	}
}
