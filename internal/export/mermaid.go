// Package export renders a task's subtask graph for people and tools.
package export

import (
	"fmt"
	"strings"

	"github.com/ab1355/ModuMind/internal/task"
)

// statusClasses maps subtask states to Mermaid class definitions.
var statusClasses = []struct {
	status task.SubtaskStatus
	style  string
}{
	{task.SubtaskPending, "fill:#eee,stroke:#999"},
	{task.SubtaskDispatched, "fill:#fff3c4,stroke:#c9a400"},
	{task.SubtaskCompleted, "fill:#d4f7d4,stroke:#2e8b57"},
	{task.SubtaskFailed, "fill:#f7d4d4,stroke:#b22222"},
	{task.SubtaskSkipped, "fill:#eee,stroke:#999,stroke-dasharray:4"},
}

// GenerateMermaid produces a Mermaid graph TD diagram of a task. Each subtask
// is a node labelled with its step, capability and agent; arrows run from a
// dependency to the subtask that waits on it.
func GenerateMermaid(snap task.Snapshot) string {
	// Mermaid node IDs must be alphanumeric, so subtask UUIDs are mapped.
	nodeIDs := make(map[string]string, len(snap.Subtasks))
	for i, st := range snap.Subtasks {
		nodeIDs[st.ID] = fmt.Sprintf("N%d", i)
	}

	var sb strings.Builder
	sb.WriteString("graph TD\n")
	for _, c := range statusClasses {
		fmt.Fprintf(&sb, "  classDef %s %s\n", c.status, c.style)
	}

	for _, st := range snap.Subtasks {
		fmt.Fprintf(&sb, "  %s[\"%s\"]:::%s\n", nodeIDs[st.ID], nodeLabel(st), st.Status)
	}
	for _, st := range snap.Subtasks {
		for _, dep := range st.DependsOn {
			src, ok := nodeIDs[dep]
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "  %s --> %s\n", src, nodeIDs[st.ID])
		}
	}
	return sb.String()
}

func nodeLabel(st task.Subtask) string {
	label := escape(st.Step) + "<br/>" + escape(st.Capability)
	if st.Agent != "" {
		label += " @ " + escape(st.Agent)
	}
	return label
}

// escape keeps user-supplied names from closing the quoted label.
func escape(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}
