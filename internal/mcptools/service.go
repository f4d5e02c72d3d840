package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ab1355/ModuMind/internal/archive"
	"github.com/ab1355/ModuMind/internal/orchestrator"
	"github.com/ab1355/ModuMind/internal/registry"
	"github.com/ab1355/ModuMind/internal/task"
)

// OrchestratorService handles MCP tool calls against a running engine.
type OrchestratorService struct {
	engine  *orchestrator.Engine
	agents  *registry.Store
	archive archive.Store
}

// NewOrchestratorService creates a service. archive may be nil.
func NewOrchestratorService(engine *orchestrator.Engine, agents *registry.Store, arch archive.Store) *OrchestratorService {
	return &OrchestratorService{engine: engine, agents: agents, archive: arch}
}

// SubmitTask starts a task, optionally waiting for it to finish.
func (s *OrchestratorService) SubmitTask(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SubmitTaskInput,
) (*mcp.CallToolResult, TaskOutput, error) {
	req, err := toRequest(input)
	if err != nil {
		return nil, TaskOutput{}, err
	}

	var snap task.Snapshot
	if input.Wait {
		snap, err = s.engine.Run(ctx, req)
		if err != nil && snap.Task.ID == "" {
			return nil, TaskOutput{}, err
		}
	} else {
		snap, err = s.engine.Submit(ctx, req)
		if err != nil {
			return nil, TaskOutput{}, err
		}
	}
	return nil, taskView(snap), nil
}

// GetTask reports a task and its subtasks, falling back to the archive for
// tasks the engine no longer tracks.
func (s *OrchestratorService) GetTask(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input TaskIDInput,
) (*mcp.CallToolResult, TaskOutput, error) {
	snap, err := s.engine.Get(input.ID)
	if errors.Is(err, orchestrator.ErrTaskNotFound) && s.archive != nil {
		if archived, aerr := s.archive.Get(ctx, input.ID); aerr == nil {
			return nil, taskView(archived), nil
		}
	}
	if err != nil {
		return nil, TaskOutput{}, err
	}
	return nil, taskView(snap), nil
}

// CancelTask cancels a running task.
func (s *OrchestratorService) CancelTask(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input TaskIDInput,
) (*mcp.CallToolResult, TaskOutput, error) {
	snap, err := s.engine.Cancel(input.ID)
	if errors.Is(err, orchestrator.ErrTaskNotFound) && s.archive != nil {
		if archived, aerr := s.archive.Get(ctx, input.ID); aerr == nil {
			return nil, TaskOutput{}, fmt.Errorf("%w: %s is %s", orchestrator.ErrTaskTerminal, input.ID, archived.Task.Status)
		}
	}
	if err != nil {
		return nil, TaskOutput{}, err
	}
	return nil, taskView(snap), nil
}

// ListAgents reports registered agents and their health.
func (s *OrchestratorService) ListAgents(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ListAgentsInput,
) (*mcp.CallToolResult, ListAgentsOutput, error) {
	var descs []registry.Descriptor
	if input.Capability != "" {
		descs = s.agents.List(input.Capability)
	} else {
		descs = s.agents.All()
	}

	out := ListAgentsOutput{Agents: make([]AgentView, 0, len(descs))}
	for _, d := range descs {
		v := AgentView{
			Name:         d.Name,
			Address:      d.Address,
			Capabilities: d.Capabilities,
			Health:       string(d.Health),
		}
		if !d.LastProbe.IsZero() {
			v.LastProbe = d.LastProbe.UTC().Format(time.RFC3339)
		}
		out.Agents = append(out.Agents, v)
	}
	return nil, out, nil
}

// AgentHistory reports the archived subtasks an agent ran.
func (s *OrchestratorService) AgentHistory(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AgentHistoryInput,
) (*mcp.CallToolResult, AgentHistoryOutput, error) {
	if input.Agent == "" {
		return nil, AgentHistoryOutput{}, errors.New("agent is required")
	}
	out := AgentHistoryOutput{Agent: input.Agent, Entries: []HistoryView{}}
	if s.archive == nil {
		return nil, out, nil
	}

	entries, err := s.archive.AgentHistory(ctx, input.Agent, input.Limit)
	if err != nil {
		return nil, AgentHistoryOutput{}, fmt.Errorf("agent history: %w", err)
	}
	for _, e := range entries {
		out.Entries = append(out.Entries, HistoryView{
			TaskID:     e.TaskID,
			SubtaskID:  e.SubtaskID,
			Step:       e.Step,
			Capability: e.Capability,
			Status:     string(e.Status),
			Attempts:   e.Attempts,
			Kind:       string(e.Kind),
			Time:       e.Time.UTC().Format(time.RFC3339Nano),
		})
	}
	return nil, out, nil
}

func toRequest(in SubmitTaskInput) (orchestrator.Request, error) {
	payload, err := rawJSON(in.Payload)
	if err != nil {
		return orchestrator.Request{}, fmt.Errorf("payload: %w", err)
	}
	req := orchestrator.Request{
		Capability:  in.Capability,
		Description: in.Description,
		Payload:     payload,
	}
	for _, st := range in.Plan {
		input, err := rawJSON(st.Input)
		if err != nil {
			return orchestrator.Request{}, fmt.Errorf("step %q input: %w", st.ID, err)
		}
		req.Plan = append(req.Plan, orchestrator.Step{
			ID:         st.ID,
			Capability: st.Capability,
			Input:      input,
			DependsOn:  st.DependsOn,
		})
	}
	return req, nil
}

func rawJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// decoded turns raw agent output into a plain value for the tool result.
func decoded(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func failureView(f *task.Failure) *FailureView {
	if f == nil {
		return nil
	}
	return &FailureView{
		SubtaskID:  f.SubtaskID,
		Step:       f.Step,
		Capability: f.Capability,
		Agent:      f.Agent,
		Kind:       string(f.Kind),
		Code:       f.Code,
		Message:    f.Message,
		Attempts:   f.Attempts,
	}
}

func taskView(snap task.Snapshot) TaskOutput {
	t := snap.Task
	out := TaskOutput{
		ID:        t.ID,
		Status:    string(t.Status),
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: t.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Failure:   failureView(t.Failure),
		Subtasks:  make([]SubtaskView, 0, len(snap.Subtasks)),
	}
	for _, r := range t.Result {
		out.Result = append(out.Result, ResultView{
			SubtaskID:  r.SubtaskID,
			Step:       r.Step,
			Capability: r.Capability,
			Agent:      r.Agent,
			Output:     decoded(r.Output),
		})
	}
	for _, st := range snap.Subtasks {
		out.Subtasks = append(out.Subtasks, SubtaskView{
			ID:         st.ID,
			Step:       st.Step,
			Capability: st.Capability,
			Agent:      st.Agent,
			Status:     string(st.Status),
			Attempts:   st.Attempts,
			DependsOn:  st.DependsOn,
			Output:     decoded(st.Output),
			Failure:    failureView(st.Failure),
		})
	}
	return out
}
