package export

import (
	"time"

	"github.com/ab1355/ModuMind/internal/task"
)

// GraphExport is the JSON form of a task's subtask graph.
type GraphExport struct {
	TaskID     string       `json:"taskId"`
	Status     task.Status  `json:"status"`
	ExportedAt string       `json:"exportedAt"`
	Nodes      []NodeExport `json:"nodes"`
	Edges      []EdgeExport `json:"edges"`
}

// NodeExport describes one subtask.
type NodeExport struct {
	ID         string             `json:"id"`
	Step       string             `json:"step"`
	Capability string             `json:"capability"`
	Agent      string             `json:"agent,omitempty"`
	Status     task.SubtaskStatus `json:"status"`
	Attempts   int                `json:"attempts"`
	Error      string             `json:"error,omitempty"`
}

// EdgeExport points from a dependency to the subtask that waits on it.
type EdgeExport struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ExportGraph builds a GraphExport from a snapshot, in subtask declaration
// order.
func ExportGraph(snap task.Snapshot, now time.Time) *GraphExport {
	out := &GraphExport{
		TaskID:     snap.Task.ID,
		Status:     snap.Task.Status,
		ExportedAt: now.UTC().Format(time.RFC3339),
		Nodes:      make([]NodeExport, 0, len(snap.Subtasks)),
		Edges:      []EdgeExport{},
	}
	for _, st := range snap.Subtasks {
		n := NodeExport{
			ID:         st.ID,
			Step:       st.Step,
			Capability: st.Capability,
			Agent:      st.Agent,
			Status:     st.Status,
			Attempts:   st.Attempts,
		}
		if st.Failure != nil {
			n.Error = st.Failure.Message
		}
		out.Nodes = append(out.Nodes, n)
		for _, dep := range st.DependsOn {
			out.Edges = append(out.Edges, EdgeExport{From: dep, To: st.ID})
		}
	}
	return out
}
