package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ab1355/ModuMind/internal/registry"
)

func newStore(t *testing.T, agents ...registry.Descriptor) *registry.Store {
	t.Helper()
	s := registry.NewStore()
	for _, a := range agents {
		require.NoError(t, s.Register(a))
	}
	return s
}

func agent(name string, caps ...string) registry.Descriptor {
	return registry.Descriptor{Name: name, Address: "http://" + name, Capabilities: caps}
}

func TestRouter_NoCapableAgent(t *testing.T) {
	r := NewRouter(newStore(t, agent("executor-1", "execute")))
	_, err := r.Select("research")
	require.ErrorIs(t, err, ErrNoCapableAgent)
}

func TestRouter_RoundRobinOverHealthy(t *testing.T) {
	r := NewRouter(newStore(t,
		agent("r1", "research"),
		agent("r2", "research"),
		agent("r3", "research"),
	))

	var got []string
	for i := 0; i < 6; i++ {
		d, err := r.Select("research")
		require.NoError(t, err)
		got = append(got, d.Name)
	}
	assert.Equal(t, []string{"r1", "r2", "r3", "r1", "r2", "r3"}, got)
}

func TestRouter_CountersArePerCapability(t *testing.T) {
	r := NewRouter(newStore(t,
		agent("a", "research", "execute"),
		agent("b", "research", "execute"),
	))

	d, _ := r.Select("research")
	assert.Equal(t, "a", d.Name)
	d, _ = r.Select("execute")
	assert.Equal(t, "a", d.Name, "execute has its own counter")
	d, _ = r.Select("research")
	assert.Equal(t, "b", d.Name)
}

func TestRouter_HealthyBeforeDegraded(t *testing.T) {
	s := newStore(t, agent("r1", "research"), agent("r2", "research"), agent("r3", "research"))
	require.NoError(t, s.UpdateHealth("r1", registry.HealthDegraded))
	require.NoError(t, s.UpdateHealth("r3", registry.HealthUnreachable))
	r := NewRouter(s)

	for i := 0; i < 5; i++ {
		d, err := r.Select("research")
		require.NoError(t, err)
		assert.Equal(t, "r2", d.Name)
	}

	require.NoError(t, s.UpdateHealth("r2", registry.HealthUnreachable))
	d, err := r.Select("research")
	require.NoError(t, err)
	assert.Equal(t, "r1", d.Name, "degraded is used when nothing is healthy")
}

func TestRouter_NeverPicksUnreachable(t *testing.T) {
	s := newStore(t, agent("researcher-1", "research"), agent("researcher-2", "research"))
	require.NoError(t, s.UpdateHealth("researcher-2", registry.HealthUnreachable))
	r := NewRouter(s)

	for i := 0; i < 10; i++ {
		d, err := r.Select("research")
		require.NoError(t, err)
		assert.Equal(t, "researcher-1", d.Name)
	}

	require.NoError(t, s.UpdateHealth("researcher-1", registry.HealthUnreachable))
	_, err := r.Select("research")
	require.ErrorIs(t, err, ErrNoHealthyAgent)
}

func TestRouter_CapabilityIsNormalised(t *testing.T) {
	r := NewRouter(newStore(t, agent("r1", "research")))
	d, err := r.Select("  Research ")
	require.NoError(t, err)
	assert.Equal(t, "r1", d.Name)
}
