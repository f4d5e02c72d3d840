package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ab1355/ModuMind/internal/dispatch"
	"github.com/ab1355/ModuMind/internal/registry"
)

func serve(t *testing.T, a *Agent) registry.Descriptor {
	t.Helper()
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return registry.Descriptor{Name: a.Name(), Address: srv.URL, Capabilities: a.Capabilities()}
}

func request(step string) dispatch.Request {
	return dispatch.Request{
		TaskContext: dispatch.TaskContext{
			TaskID: "t1", SubtaskID: "s1", Step: step, Capability: "research", Attempt: 1,
			Upstream: map[string]json.RawMessage{"prev": json.RawMessage(`{"n":1}`)},
		},
		Input: json.RawMessage(`{"query":"go"}`),
	}
}

func TestAgent_Echo(t *testing.T) {
	a := New("r1", []string{"research"}, Echo("r1"))
	d := serve(t, a)

	att := dispatch.NewHTTPClient().Call(context.Background(), d, request("fetch"), time.Second)
	require.Equal(t, dispatch.KindSuccess, att.Outcome.Kind, "%v", att.Outcome.Err)

	var got EchoResult
	require.NoError(t, json.Unmarshal(att.Outcome.Data, &got))
	assert.Equal(t, "r1", got.Agent)
	assert.Equal(t, "fetch", got.Step)
	assert.JSONEq(t, `{"query":"go"}`, string(got.Input))
	assert.JSONEq(t, `{"n":1}`, string(got.Upstream["prev"]))
	assert.Equal(t, int64(1), a.Served())
}

func TestAgent_Reject(t *testing.T) {
	d := serve(t, New("c1", []string{"communicate"}, Reject("bad_address", "no such mailbox")))

	att := dispatch.NewHTTPClient().Call(context.Background(), d, request("notify"), time.Second)
	require.Equal(t, dispatch.KindApplicationError, att.Outcome.Kind)
	assert.Equal(t, "bad_address", att.Outcome.Code())
	assert.Contains(t, att.Outcome.Err.Error(), "no such mailbox")
}

func TestAgent_PlainErrorIsAgentError(t *testing.T) {
	d := serve(t, New("x1", []string{"execute"}, func(context.Context, dispatch.Request) (any, error) {
		return nil, assert.AnError
	}))

	att := dispatch.NewHTTPClient().Call(context.Background(), d, request("run"), time.Second)
	require.Equal(t, dispatch.KindApplicationError, att.Outcome.Kind)
	assert.Equal(t, "agent_error", att.Outcome.Code())
}

func TestAgent_UnavailableIsTransient(t *testing.T) {
	a := New("x1", []string{"execute"}, Unavailable(1, Echo("x1")))
	d := serve(t, a)
	client := dispatch.NewHTTPClient()

	first := client.Call(context.Background(), d, request("run"), time.Second)
	assert.Equal(t, dispatch.KindTransportError, first.Outcome.Kind)
	assert.True(t, first.Outcome.Kind.Transient())

	second := client.Call(context.Background(), d, request("run"), time.Second)
	assert.Equal(t, dispatch.KindSuccess, second.Outcome.Kind)
}

func TestAgent_DelayTimesOut(t *testing.T) {
	d := serve(t, New("slow", []string{"research"}, Delay(time.Second, Echo("slow"))))

	att := dispatch.NewHTTPClient().Call(context.Background(), d, request("fetch"), 20*time.Millisecond)
	assert.Equal(t, dispatch.KindTimeout, att.Outcome.Kind)
}

func TestAgent_MalformedRequest(t *testing.T) {
	d := serve(t, New("r1", []string{"research"}, Echo("r1")))

	resp, err := http.Post(d.Address, "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var env dispatch.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, dispatch.StatusError, env.Status)
	assert.Equal(t, "bad_request", env.Code)
}

func TestAgent_Health(t *testing.T) {
	a := New("r1", []string{"research"}, Echo("r1"))
	d := serve(t, a)
	client := dispatch.NewHTTPClient()

	require.NoError(t, client.Probe(context.Background(), d, time.Second))

	a.SetHealthy(false)
	err := client.Probe(context.Background(), d, time.Second)
	assert.ErrorIs(t, err, dispatch.ErrTransport)
}

func TestAgent_StartStop(t *testing.T) {
	a := New("r1", []string{"research"}, Echo("r1"))
	assert.Empty(t, a.Addr())

	require.NoError(t, a.Start(context.Background(), "127.0.0.1:0"))
	addr := a.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
}

func TestMode(t *testing.T) {
	fn, err := Mode("echo", "r1")
	require.NoError(t, err)
	out, err := fn(context.Background(), request("fetch"))
	require.NoError(t, err)
	assert.Equal(t, "r1", out.(EchoResult).Agent)

	fn, err = Mode("reject", "r1")
	require.NoError(t, err)
	_, err = fn(context.Background(), request("fetch"))
	var appErr *dispatch.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "rejected", appErr.Code)

	_, err = Mode("chaos", "r1")
	assert.Error(t, err)
}
