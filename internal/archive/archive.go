// Package archive keeps a history of terminal tasks. The engine records every
// finished task here; the API and MCP surfaces read it back by task or by
// agent.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ab1355/ModuMind/internal/config"
	"github.com/ab1355/ModuMind/internal/task"
)

// ErrNotFound is returned when a task is not in the archive.
var ErrNotFound = errors.New("archive: task not found")

// Store persists terminal task snapshots. Implementations must be safe for
// concurrent use.
type Store interface {
	// Record stores a terminal snapshot. Recording the same task twice
	// replaces the earlier copy.
	Record(ctx context.Context, snap task.Snapshot) error

	// Get returns the archived snapshot of a task.
	Get(ctx context.Context, taskID string) (task.Snapshot, error)

	// AgentHistory returns the subtasks an agent ran, newest first. A limit
	// of zero or less returns everything.
	AgentHistory(ctx context.Context, agent string, limit int) ([]HistoryEntry, error)

	Close() error
}

// HistoryEntry is one subtask as seen from the agent that ran it.
type HistoryEntry struct {
	TaskID     string             `json:"task_id"`
	SubtaskID  string             `json:"subtask_id"`
	Step       string             `json:"step"`
	Capability string             `json:"capability"`
	Status     task.SubtaskStatus `json:"status"`
	Attempts   int                `json:"attempts"`
	Kind       task.ErrorKind     `json:"kind,omitempty"`
	Time       time.Time          `json:"time"`
}

// Open builds the store selected by cfg.Driver.
func Open(cfg config.ArchiveConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemStore(cfg.HistoryLimit), nil
	case "kuzu":
		return openKuzu(cfg.Path)
	default:
		return nil, fmt.Errorf("archive: unknown driver %q", cfg.Driver)
	}
}

// entries extracts per-agent history from a snapshot. Subtasks that never
// reached an agent are left out.
func entries(snap task.Snapshot) map[string][]HistoryEntry {
	out := make(map[string][]HistoryEntry)
	for _, st := range snap.Subtasks {
		if st.Agent == "" {
			continue
		}
		e := HistoryEntry{
			TaskID:     snap.Task.ID,
			SubtaskID:  st.ID,
			Step:       st.Step,
			Capability: st.Capability,
			Status:     st.Status,
			Attempts:   st.Attempts,
			Time:       st.UpdatedAt,
		}
		if st.Failure != nil {
			e.Kind = st.Failure.Kind
		}
		out[st.Agent] = append(out[st.Agent], e)
	}
	return out
}

// newestFirst orders entries by time, newest first, breaking ties by
// subtask ID so results are stable.
func newestFirst(es []HistoryEntry) {
	sort.SliceStable(es, func(i, j int) bool {
		if !es[i].Time.Equal(es[j].Time) {
			return es[i].Time.After(es[j].Time)
		}
		return es[i].SubtaskID < es[j].SubtaskID
	})
}
