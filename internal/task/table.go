package task

import (
	"fmt"
	"slices"
	"sync"
)

// Table indexes live task records by ID. Its lock is held only for map
// lookups; transitions lock the individual Record.
type Table struct {
	mu       sync.RWMutex
	records  map[string]*Record
	orderIDs []string // insertion-order task IDs
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{
		records:  make(map[string]*Record),
		orderIDs: make([]string, 0),
	}
}

// Add stores r. It returns ErrDuplicateTask if the ID is taken.
func (t *Table) Add(r *Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.records[r.ID()]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, r.ID())
	}
	t.records[r.ID()] = r
	t.orderIDs = append(t.orderIDs, r.ID())
	return nil
}

// Get returns the record for id.
func (t *Table) Get(id string) (*Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[id]
	return r, ok
}

// Remove drops the record for id. It reports whether a record was removed.
func (t *Table) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[id]; !ok {
		return false
	}
	delete(t.records, id)
	t.orderIDs = slices.DeleteFunc(t.orderIDs, func(s string) bool { return s == id })
	return true
}

// PruneTerminal drops the oldest terminal records until at most keep remain
// and returns the removed IDs. Running and pending tasks are never dropped.
// keep <= 0 disables pruning.
func (t *Table) PruneTerminal(keep int) []string {
	if keep <= 0 {
		return nil
	}

	t.mu.RLock()
	recs := make([]*Record, 0, len(t.orderIDs))
	for _, id := range t.orderIDs {
		recs = append(recs, t.records[id])
	}
	t.mu.RUnlock()

	var terminal []string
	for _, r := range recs {
		if r.Status().IsTerminal() {
			terminal = append(terminal, r.ID())
		}
	}
	if len(terminal) <= keep {
		return nil
	}
	drop := terminal[:len(terminal)-keep]

	t.mu.Lock()
	defer t.mu.Unlock()
	gone := make(map[string]bool, len(drop))
	for _, id := range drop {
		if _, ok := t.records[id]; ok {
			delete(t.records, id)
			gone[id] = true
		}
	}
	t.orderIDs = slices.DeleteFunc(t.orderIDs, func(s string) bool { return gone[s] })
	return drop
}

// Filter selects tasks for List.
type Filter struct {
	// Status, when non-empty, keeps only tasks in that state.
	Status Status

	// PageToken is the ID of the last task of the previous page.
	PageToken string

	// PageSize <= 0 returns every match.
	PageSize int
}

// Page is one page of List results.
type Page struct {
	Tasks         []Task `json:"tasks"`
	NextPageToken string `json:"next_page_token,omitempty"`
	TotalSize     int    `json:"total_size"`
}

// List returns task snapshots in insertion order. Records are copied out of
// the table before any record lock is taken.
func (t *Table) List(filter Filter) (Page, error) {
	t.mu.RLock()
	startIdx := 0
	if filter.PageToken != "" {
		found := false
		for i, id := range t.orderIDs {
			if id == filter.PageToken {
				startIdx = i + 1
				found = true
				break
			}
		}
		if !found {
			t.mu.RUnlock()
			return Page{}, fmt.Errorf("%w: %q", ErrInvalidPageToken, filter.PageToken)
		}
	}
	recs := make([]*Record, 0, len(t.orderIDs)-startIdx)
	for _, id := range t.orderIDs[startIdx:] {
		recs = append(recs, t.records[id])
	}
	t.mu.RUnlock()

	var matched []Task
	for _, r := range recs {
		task := r.Task()
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		matched = append(matched, task)
	}

	page := Page{TotalSize: len(matched), Tasks: matched}
	if filter.PageSize > 0 && len(matched) > filter.PageSize {
		page.Tasks = matched[:filter.PageSize]
		page.NextPageToken = page.Tasks[len(page.Tasks)-1].ID
	}
	if page.Tasks == nil {
		page.Tasks = []Task{}
	}
	return page, nil
}

// Len returns the number of tracked tasks.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.orderIDs)
}
