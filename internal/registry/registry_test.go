package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func researcher(name string) Descriptor {
	return Descriptor{
		Name:         name,
		Address:      "http://" + name + ":8080",
		Capabilities: []string{"research"},
	}
}

func TestStore_RegisterAndGet(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.Register(Descriptor{
		Name:         "executor-1",
		Address:      "http://executor-1:8080/",
		Capabilities: []string{"Execute", "code", "execute"},
	}))

	got, err := s.Get("executor-1")
	require.NoError(t, err)
	assert.Equal(t, "http://executor-1:8080", got.Address, "trailing slash is trimmed")
	assert.Equal(t, []string{"execute", "code"}, got.Capabilities)
	assert.Equal(t, HealthHealthy, got.Health)
	assert.False(t, got.RegisteredAt.IsZero())
}

func TestStore_RegisterDuplicate(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Register(researcher("researcher-1")))

	err := s.Register(researcher("researcher-1"))
	require.ErrorIs(t, err, ErrDuplicateAgent)
	assert.Equal(t, 1, s.Len())
}

func TestStore_RegisterInvalid(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
	}{
		{"missing name", Descriptor{Address: "http://a", Capabilities: []string{"x"}}},
		{"missing address", Descriptor{Name: "a", Capabilities: []string{"x"}}},
		{"no capabilities", Descriptor{Name: "a", Address: "http://a"}},
		{"blank capabilities", Descriptor{Name: "a", Address: "http://a", Capabilities: []string{" ", ""}}},
		{"bad health", Descriptor{Name: "a", Address: "http://a", Capabilities: []string{"x"}, Health: "sleepy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewStore().Register(tt.d)
			require.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}
}

func TestStore_ListRegistrationOrder(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Register(researcher("r-b")))
	require.NoError(t, s.Register(Descriptor{Name: "exec", Address: "http://exec", Capabilities: []string{"execute"}}))
	require.NoError(t, s.Register(researcher("r-a")))

	got := s.List("research")
	require.Len(t, got, 2)
	assert.Equal(t, "r-b", got[0].Name)
	assert.Equal(t, "r-a", got[1].Name)

	assert.Empty(t, s.List("communicate"))
	assert.Len(t, s.List(" RESEARCH "), 2, "capability lookup is normalised")
}

func TestStore_UpdateHealth(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Register(researcher("researcher-1")))

	require.NoError(t, s.UpdateHealth("researcher-1", HealthDegraded))
	require.NoError(t, s.UpdateHealth("researcher-1", HealthDegraded), "update is idempotent")

	got, err := s.Get("researcher-1")
	require.NoError(t, err)
	assert.Equal(t, HealthDegraded, got.Health)
	assert.False(t, got.LastProbe.IsZero())

	require.ErrorIs(t, s.UpdateHealth("ghost", HealthHealthy), ErrUnknownAgent)
	require.ErrorIs(t, s.UpdateHealth("researcher-1", "sleepy"), ErrInvalidDescriptor)
}

func TestStore_Deregister(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Register(researcher("r1")))
	require.NoError(t, s.Register(researcher("r2")))
	require.NoError(t, s.Register(researcher("r3")))

	require.NoError(t, s.Deregister("r2"))
	require.ErrorIs(t, s.Deregister("r2"), ErrUnknownAgent)

	names := []string{}
	for _, d := range s.All() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"r1", "r3"}, names)

	require.NoError(t, s.Register(researcher("r2")), "name is free again")
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Register(researcher("r1")))

	got := s.List("research")
	got[0].Capabilities[0] = "mutated"
	got[0].Health = HealthUnreachable

	again, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"research"}, again.Capabilities)
	assert.Equal(t, HealthHealthy, again.Health)
}

func TestStore_ConcurrentReadersAndWriters(t *testing.T) {
	s := NewStore()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Register(researcher(fmt.Sprintf("r%d", i))))
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("r%d", i)
			for j := 0; j < 100; j++ {
				status := HealthHealthy
				if j%2 == 0 {
					status = HealthDegraded
				}
				_ = s.UpdateHealth(name, status)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Len(t, s.List("research"), 10)
			}
		}()
	}
	wg.Wait()
}
