package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ab1355/ModuMind/internal/dispatch"
	"github.com/ab1355/ModuMind/internal/registry"
)

// mockProber answers probes from a per-agent switch.
type mockProber struct {
	mu    sync.Mutex
	down  map[string]bool
	calls atomic.Int32
}

func newMockProber() *mockProber {
	return &mockProber{down: make(map[string]bool)}
}

func (p *mockProber) set(name string, down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down[name] = down
}

func (p *mockProber) Probe(ctx context.Context, agent registry.Descriptor, timeout time.Duration) error {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down[agent.Name] {
		return errors.New("connection refused")
	}
	return nil
}

func storeWith(t *testing.T, names ...string) *registry.Store {
	t.Helper()
	s := registry.NewStore()
	for _, n := range names {
		require.NoError(t, s.Register(registry.Descriptor{Name: n, Address: "http://" + n, Capabilities: []string{"research"}}))
	}
	return s
}

func healthOf(t *testing.T, s *registry.Store, name string) registry.Health {
	t.Helper()
	d, err := s.Get(name)
	require.NoError(t, err)
	return d.Health
}

func TestMonitor_DemotionAndRestore(t *testing.T) {
	store := storeWith(t, "researcher-1")
	prober := newMockProber()
	m := NewMonitor(Config{}, store, prober, nil)
	ctx := context.Background()

	prober.set("researcher-1", true)
	require.NoError(t, m.ProbeOnce(ctx))
	assert.Equal(t, registry.HealthDegraded, healthOf(t, store, "researcher-1"), "one failure degrades")
	assert.Equal(t, 1, m.Failures("researcher-1"))

	require.NoError(t, m.ProbeOnce(ctx))
	assert.Equal(t, registry.HealthUnreachable, healthOf(t, store, "researcher-1"), "two consecutive failures")

	require.NoError(t, m.ProbeOnce(ctx))
	assert.Equal(t, registry.HealthUnreachable, healthOf(t, store, "researcher-1"))

	prober.set("researcher-1", false)
	require.NoError(t, m.ProbeOnce(ctx))
	assert.Equal(t, registry.HealthHealthy, healthOf(t, store, "researcher-1"), "one success restores")
	assert.Zero(t, m.Failures("researcher-1"))
}

func TestMonitor_SuccessResetsConsecutiveCount(t *testing.T) {
	store := storeWith(t, "r1")
	prober := newMockProber()
	m := NewMonitor(Config{}, store, prober, nil)
	ctx := context.Background()

	prober.set("r1", true)
	require.NoError(t, m.ProbeOnce(ctx))
	prober.set("r1", false)
	require.NoError(t, m.ProbeOnce(ctx))
	prober.set("r1", true)
	require.NoError(t, m.ProbeOnce(ctx))

	assert.Equal(t, registry.HealthDegraded, healthOf(t, store, "r1"), "failures were not consecutive")
}

func TestMonitor_ResearcherScenario(t *testing.T) {
	store := storeWith(t, "researcher-1", "researcher-2")
	prober := newMockProber()
	prober.set("researcher-2", true)
	m := NewMonitor(Config{}, store, prober, nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, m.ProbeOnce(context.Background()))
	}
	assert.Equal(t, registry.HealthHealthy, healthOf(t, store, "researcher-1"))
	assert.Equal(t, registry.HealthUnreachable, healthOf(t, store, "researcher-2"))
}

func TestMonitor_DropsCountersForDeregisteredAgents(t *testing.T) {
	store := storeWith(t, "r1", "r2")
	prober := newMockProber()
	prober.set("r2", true)
	m := NewMonitor(Config{}, store, prober, nil)

	require.NoError(t, m.ProbeOnce(context.Background()))
	assert.Equal(t, 1, m.Failures("r2"))

	require.NoError(t, store.Deregister("r2"))
	require.NoError(t, m.ProbeOnce(context.Background()))
	assert.Zero(t, m.Failures("r2"))
}

func TestMonitor_RunProbesImmediatelyAndOnTick(t *testing.T) {
	store := storeWith(t, "r1")
	prober := newMockProber()
	m := NewMonitor(Config{Interval: 20 * time.Millisecond}, store, prober, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return prober.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMonitor_WithHTTPProber(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	store := registry.NewStore()
	require.NoError(t, store.Register(registry.Descriptor{Name: "live", Address: ts.URL, Capabilities: []string{"execute"}}))
	m := NewMonitor(Config{ProbeTimeout: time.Second}, store, dispatch.NewHTTPClient(), nil)

	require.NoError(t, m.ProbeOnce(context.Background()))
	assert.Equal(t, registry.HealthHealthy, healthOf(t, store, "live"))

	up.Store(false)
	require.NoError(t, m.ProbeOnce(context.Background()))
	assert.Equal(t, registry.HealthDegraded, healthOf(t, store, "live"))
}
