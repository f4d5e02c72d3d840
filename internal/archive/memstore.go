package archive

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ab1355/ModuMind/internal/task"
)

// MemStore is an in-memory Store that keeps the most recent limit tasks.
type MemStore struct {
	mu    sync.RWMutex
	limit int
	snaps map[string]task.Snapshot
	order []string
}

// Compile-time check that MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore. A limit of zero or less keeps every
// task.
func NewMemStore(limit int) *MemStore {
	return &MemStore{
		limit: limit,
		snaps: make(map[string]task.Snapshot),
	}
}

// Record stores a deep copy of snap, evicting the oldest task when the
// store is full.
func (m *MemStore) Record(_ context.Context, snap task.Snapshot) error {
	cp, err := clone(snap)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := snap.Task.ID
	if _, ok := m.snaps[id]; !ok {
		m.order = append(m.order, id)
	}
	m.snaps[id] = cp

	for m.limit > 0 && len(m.order) > m.limit {
		delete(m.snaps, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

// Get returns a copy of an archived task.
func (m *MemStore) Get(_ context.Context, taskID string) (task.Snapshot, error) {
	m.mu.RLock()
	snap, ok := m.snaps[taskID]
	m.mu.RUnlock()
	if !ok {
		return task.Snapshot{}, ErrNotFound
	}
	return clone(snap)
}

// AgentHistory scans the retained tasks for subtasks run by agent.
func (m *MemStore) AgentHistory(_ context.Context, agent string, limit int) ([]HistoryEntry, error) {
	m.mu.RLock()
	var out []HistoryEntry
	for _, id := range m.order {
		out = append(out, entries(m.snaps[id])[agent]...)
	}
	m.mu.RUnlock()

	newestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of retained tasks.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Close is a no-op.
func (m *MemStore) Close() error { return nil }

// clone deep-copies a snapshot through its JSON form, which is also the form
// the Kuzu store persists.
func clone(snap task.Snapshot) (task.Snapshot, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return task.Snapshot{}, err
	}
	var out task.Snapshot
	if err := json.Unmarshal(data, &out); err != nil {
		return task.Snapshot{}, err
	}
	return out, nil
}
