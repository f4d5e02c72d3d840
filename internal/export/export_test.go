package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ab1355/ModuMind/internal/task"
)

func diamond() task.Snapshot {
	return task.Snapshot{
		Task: task.Task{ID: "t1", Status: task.StatusFailed},
		Subtasks: []task.Subtask{
			{ID: "a", Step: "fetch", Capability: "research", Agent: "r1", Status: task.SubtaskCompleted, Attempts: 1},
			{ID: "b", Step: "left", Capability: "execute", Agent: "x1", Status: task.SubtaskCompleted, Attempts: 1, DependsOn: []string{"a"}},
			{ID: "c", Step: `say "hi"`, Capability: "communicate", Agent: "c1", Status: task.SubtaskFailed, Attempts: 2, DependsOn: []string{"a"},
				Failure: &task.Failure{Kind: task.KindApplicationError, Message: "bad address"}},
			{ID: "d", Step: "join", Capability: "execute", Status: task.SubtaskSkipped, DependsOn: []string{"b", "c"}},
		},
	}
}

func TestGenerateMermaid(t *testing.T) {
	out := GenerateMermaid(diamond())

	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "classDef failed")
	assert.Contains(t, out, `N0["fetch<br/>research @ r1"]:::completed`)
	assert.Contains(t, out, `N2["say #quot;hi#quot;<br/>communicate @ c1"]:::failed`)
	assert.Contains(t, out, `N3["join<br/>execute"]:::skipped`)
	for _, edge := range []string{"N0 --> N1", "N0 --> N2", "N1 --> N3", "N2 --> N3"} {
		assert.Contains(t, out, "  "+edge+"\n")
	}
	assert.Equal(t, 4, strings.Count(out, "-->"))
}

func TestExportGraph(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	g := ExportGraph(diamond(), now)

	assert.Equal(t, "t1", g.TaskID)
	assert.Equal(t, "2026-03-01T11:00:00Z", g.ExportedAt)
	require.Len(t, g.Nodes, 4)
	assert.Equal(t, "bad address", g.Nodes[2].Error)
	assert.Empty(t, g.Nodes[3].Agent)
	assert.Equal(t, []EdgeExport{
		{From: "a", To: "b"}, {From: "a", To: "c"}, {From: "b", To: "d"}, {From: "c", To: "d"},
	}, g.Edges)

	data, err := json.Marshal(g)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"taskId":"t1"`)
}

func TestExportGraph_NoEdges(t *testing.T) {
	snap := task.Snapshot{Task: task.Task{ID: "t2"}, Subtasks: []task.Subtask{{ID: "a", Step: "only"}}}
	data, err := json.Marshal(ExportGraph(snap, time.Now()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"edges":[]`)
}
