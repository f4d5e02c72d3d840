package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ab1355/ModuMind/internal/agent"
	"github.com/ab1355/ModuMind/internal/archive"
	"github.com/ab1355/ModuMind/internal/config"
	"github.com/ab1355/ModuMind/internal/dispatch"
	"github.com/ab1355/ModuMind/internal/export"
	"github.com/ab1355/ModuMind/internal/orchestrator"
	"github.com/ab1355/ModuMind/internal/registry"
	"github.com/ab1355/ModuMind/internal/task"
)

type fixture struct {
	app     *fiber.App
	engine  *orchestrator.Engine
	agents  *registry.Store
	archive *archive.MemStore
}

// startAgent serves a reference agent and registers it.
func startAgent(t *testing.T, store *registry.Store, name, capability string, fn agent.ProcessFunc) {
	t.Helper()
	srv := httptest.NewServer(agent.New(name, []string{capability}, fn).Handler())
	t.Cleanup(srv.Close)
	require.NoError(t, store.Register(registry.Descriptor{
		Name: name, Address: srv.URL, Capabilities: []string{capability},
	}))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, orchestrator.DefaultConfig())
}

// newFixtureWith builds the API over an engine configured from cfg, with
// fast retries.
func newFixtureWith(t *testing.T, cfg orchestrator.Config) *fixture {
	t.Helper()
	store := registry.NewStore()
	mem := archive.NewMemStore(0)

	cfg.DispatchTimeout = 2 * time.Second
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	engine := orchestrator.NewEngine(cfg, store, dispatch.NewHTTPClient(), orchestrator.WithSink(mem))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})

	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0, BodyLimit: 1 << 20}, Deps{
		Engine: engine, Agents: store, Archive: mem,
	})
	return &fixture{app: srv.App(), engine: engine, agents: store, archive: mem}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestRequestIDEchoed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))

	resp, err = f.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestSubmitTask_Wait(t *testing.T) {
	f := newFixture(t)
	startAgent(t, f.agents, "r1", "research", agent.Echo("r1"))

	code, body := f.do(t, http.MethodPost, "/v1/tasks",
		`{"capability":"research","payload":{"query":"go"},"wait":true}`)
	require.Equal(t, http.StatusOK, code, string(body))

	snap := decode[task.Snapshot](t, body)
	assert.Equal(t, task.StatusCompleted, snap.Task.Status)
	require.Len(t, snap.Task.Result, 1)
	assert.Equal(t, "r1", snap.Task.Result[0].Agent)

	var echoed agent.EchoResult
	require.NoError(t, json.Unmarshal(snap.Task.Result[0].Output, &echoed))
	assert.JSONEq(t, `{"query":"go"}`, string(echoed.Input))
}

func TestSubmitTask_Async(t *testing.T) {
	f := newFixture(t)
	startAgent(t, f.agents, "r1", "research", agent.Echo("r1"))

	code, body := f.do(t, http.MethodPost, "/v1/tasks", `{"description":"search the web"}`)
	require.Equal(t, http.StatusAccepted, code, string(body))
	snap := decode[task.Snapshot](t, body)
	require.NotEmpty(t, snap.Task.ID)

	final, err := f.engine.Wait(context.Background(), snap.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, final.Task.Status)
	assert.Equal(t, "research", final.Subtasks[0].Capability)

	code, body = f.do(t, http.MethodGet, "/v1/tasks/"+snap.Task.ID, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, task.StatusCompleted, decode[task.Snapshot](t, body).Task.Status)
}

func TestGetTask_EvictedServedFromArchive(t *testing.T) {
	cfg := orchestrator.DefaultConfig()
	cfg.RetainTerminal = 1
	f := newFixtureWith(t, cfg)
	startAgent(t, f.agents, "r1", "research", agent.Echo("r1"))

	var ids []string
	for i := 0; i < 3; i++ {
		code, body := f.do(t, http.MethodPost, "/v1/tasks", `{"capability":"research","wait":true}`)
		require.Equal(t, http.StatusOK, code, string(body))
		ids = append(ids, decode[task.Snapshot](t, body).Task.ID)
	}

	_, err := f.engine.Get(ids[0])
	require.ErrorIs(t, err, orchestrator.ErrTaskNotFound, "oldest task left the engine")

	code, body := f.do(t, http.MethodGet, "/v1/tasks/"+ids[0], "")
	require.Equal(t, http.StatusOK, code, string(body))
	snap := decode[task.Snapshot](t, body)
	assert.Equal(t, ids[0], snap.Task.ID)
	assert.Equal(t, task.StatusCompleted, snap.Task.Status)
	assert.Equal(t, "r1", snap.Subtasks[0].Agent)

	code, body = f.do(t, http.MethodGet, "/v1/tasks/"+ids[0]+"/graph?format=mermaid", "")
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Contains(t, string(body), "graph TD")

	code, _ = f.do(t, http.MethodPost, "/v1/tasks/"+ids[0]+"/cancel", "")
	assert.Equal(t, http.StatusConflict, code, "archived tasks are terminal")

	page := decode[task.Page](t, func() []byte {
		_, b := f.do(t, http.MethodGet, "/v1/tasks", "")
		return b
	}())
	assert.Equal(t, 1, page.TotalSize)
	assert.Equal(t, ids[2], page.Tasks[0].ID)
}

func TestSubmitTask_BadRequests(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"plan":`},
		{"empty", `{}`},
		{"cycle", `{"plan":[{"id":"a","capability":"x","depends_on":["b"]},{"id":"b","capability":"x","depends_on":["a"]}]}`},
		{"unknown dep", `{"plan":[{"id":"a","capability":"x","depends_on":["ghost"]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(t, http.MethodPost, "/v1/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.NotEmpty(t, decode[ErrorResponse](t, body).Error)
		})
	}
	page, err := f.engine.List(task.Filter{})
	require.NoError(t, err)
	assert.Zero(t, page.TotalSize, "rejected requests create no tasks")
}

func TestGetTask_NotFound(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/v1/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, decode[ErrorResponse](t, body).Error, "not found")
}

func TestCancelTask(t *testing.T) {
	f := newFixture(t)
	startAgent(t, f.agents, "slow", "research", agent.Delay(time.Minute, agent.Echo("slow")))

	_, body := f.do(t, http.MethodPost, "/v1/tasks", `{"capability":"research"}`)
	id := decode[task.Snapshot](t, body).Task.ID

	code, body := f.do(t, http.MethodPost, "/v1/tasks/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, code, string(body))
	snap := decode[task.Snapshot](t, body)
	assert.Equal(t, task.StatusFailed, snap.Task.Status)
	require.NotNil(t, snap.Task.Failure)
	assert.Equal(t, task.KindCancelled, snap.Task.Failure.Kind)

	code, _ = f.do(t, http.MethodPost, "/v1/tasks/"+id+"/cancel", "")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodPost, "/v1/tasks/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListTasks(t *testing.T) {
	f := newFixture(t)
	startAgent(t, f.agents, "r1", "research", agent.Echo("r1"))
	for i := 0; i < 3; i++ {
		code, _ := f.do(t, http.MethodPost, "/v1/tasks?wait=true", `{"capability":"research"}`)
		require.Equal(t, http.StatusOK, code)
	}

	code, body := f.do(t, http.MethodGet, "/v1/tasks?page_size=2&status=completed", "")
	require.Equal(t, http.StatusOK, code)
	page := decode[task.Page](t, body)
	assert.Equal(t, 3, page.TotalSize)
	assert.Len(t, page.Tasks, 2)
	assert.NotEmpty(t, page.NextPageToken)

	code, _ = f.do(t, http.MethodGet, "/v1/tasks?page_token=bogus", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTaskGraph(t *testing.T) {
	f := newFixture(t)
	startAgent(t, f.agents, "r1", "research", agent.Echo("r1"))
	startAgent(t, f.agents, "x1", "execute", agent.Echo("x1"))

	_, body := f.do(t, http.MethodPost, "/v1/tasks", `{"wait":true,"plan":[
		{"id":"fetch","capability":"research"},
		{"id":"summarise","capability":"execute","depends_on":["fetch"]}]}`)
	id := decode[task.Snapshot](t, body).Task.ID

	code, body := f.do(t, http.MethodGet, "/v1/tasks/"+id+"/graph", "")
	require.Equal(t, http.StatusOK, code)
	g := decode[export.GraphExport](t, body)
	assert.Len(t, g.Nodes, 2)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, g.Nodes[0].ID, g.Edges[0].From)

	code, body = f.do(t, http.MethodGet, "/v1/tasks/"+id+"/graph?format=mermaid", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "graph TD")
	assert.Contains(t, string(body), "N0 --> N1")

	code, _ = f.do(t, http.MethodGet, "/v1/tasks/"+id+"/graph?format=svg", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAgents_RegisterListDeregister(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/v1/agents",
		`{"name":"researcher-1","address":"http://r1","capabilities":["Research","browse"]}`)
	require.Equal(t, http.StatusCreated, code, string(body))
	d := decode[registry.Descriptor](t, body)
	assert.Equal(t, registry.HealthHealthy, d.Health)
	assert.Equal(t, []string{"research", "browse"}, d.Capabilities)

	code, _ = f.do(t, http.MethodPost, "/v1/agents",
		`{"name":"researcher-1","address":"http://r1","capabilities":["research"]}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodPost, "/v1/agents", `{"name":"empty","address":"http://e"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodGet, "/v1/agents?capability=browse", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]registry.Descriptor](t, body), 1)

	code, _ = f.do(t, http.MethodDelete, "/v1/agents/researcher-1", "")
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = f.do(t, http.MethodDelete, "/v1/agents/researcher-1", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodGet, "/v1/agents", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))
}

func TestAgentHistory(t *testing.T) {
	f := newFixture(t)
	startAgent(t, f.agents, "r1", "research", agent.Echo("r1"))
	for i := 0; i < 2; i++ {
		code, _ := f.do(t, http.MethodPost, "/v1/tasks", `{"capability":"research","wait":true}`)
		require.Equal(t, http.StatusOK, code)
	}

	code, body := f.do(t, http.MethodGet, "/v1/agents/r1/history?limit=1", "")
	require.Equal(t, http.StatusOK, code)
	hist := decode[HistoryResponse](t, body)
	assert.Equal(t, "r1", hist.Agent)
	require.Len(t, hist.Entries, 1)
	assert.Equal(t, task.SubtaskCompleted, hist.Entries[0].Status)

	code, body = f.do(t, http.MethodGet, "/v1/agents/ghost/history", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[HistoryResponse](t, body).Entries)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{orchestrator.ErrTaskNotFound, http.StatusNotFound},
		{registry.ErrUnknownAgent, http.StatusNotFound},
		{archive.ErrNotFound, http.StatusNotFound},
		{orchestrator.ErrInvalidGraph, http.StatusBadRequest},
		{registry.ErrInvalidDescriptor, http.StatusBadRequest},
		{orchestrator.ErrTaskTerminal, http.StatusConflict},
		{registry.ErrDuplicateAgent, http.StatusConflict},
		{orchestrator.ErrShuttingDown, http.StatusServiceUnavailable},
		{fiber.NewError(http.StatusTeapot, "tea"), http.StatusTeapot},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
