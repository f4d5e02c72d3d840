// Package agent is a minimal runtime for capability agents. It speaks the
// dispatch envelope on POST / and answers liveness probes on GET /health,
// which is enough to stand up a local fleet or to drive end-to-end tests.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ab1355/ModuMind/internal/dispatch"
)

// ErrUnavailable makes the agent answer 503 without an envelope, which the
// orchestrator treats as a transient transport failure.
var ErrUnavailable = errors.New("agent: unavailable")

// ProcessFunc does the agent's work for one request. Returning a
// *dispatch.ApplicationError rejects the request with its code; any other
// error is reported as "agent_error".
type ProcessFunc func(ctx context.Context, req dispatch.Request) (any, error)

// Agent serves one ProcessFunc over HTTP.
type Agent struct {
	name         string
	capabilities []string
	process      ProcessFunc
	logger       *zap.SugaredLogger
	maxBody      int64

	served  atomic.Int64
	healthy atomic.Bool

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMaxBodyBytes caps the request body size. The default is 4MB.
func WithMaxBodyBytes(n int64) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// New creates an agent. It reports healthy until SetHealthy(false).
func New(name string, capabilities []string, process ProcessFunc, opts ...Option) *Agent {
	a := &Agent{
		name:         name,
		capabilities: append([]string(nil), capabilities...),
		process:      process,
		logger:       zap.NewNop().Sugar(),
		maxBody:      4 << 20,
	}
	a.healthy.Store(true)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Capabilities returns a copy of the advertised capabilities.
func (a *Agent) Capabilities() []string {
	return append([]string(nil), a.capabilities...)
}

// Served returns how many requests reached the ProcessFunc.
func (a *Agent) Served() int64 { return a.served.Load() }

// SetHealthy toggles the /health answer between 200 and 503.
func (a *Agent) SetHealthy(ok bool) { a.healthy.Store(ok) }

// Handler returns the agent's routes.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /", a.handleDispatch)
	return mux
}

// Start listens on addr and serves in the background. It returns once the
// listener is bound, so Addr is valid immediately after.
func (a *Agent) Start(_ context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("agent %s: listen: %w", a.name, err)
	}

	a.mu.Lock()
	a.listener = ln
	a.http = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := a.http
	a.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Errorw("agent_serve_failed", "agent", a.name, "error", err)
		}
	}()
	a.logger.Infow("agent_started", "agent", a.name, "address", ln.Addr().String(), "capabilities", a.capabilities)
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (a *Agent) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.http
	a.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (a *Agent) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !a.healthy.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"status":"unhealthy"}`)
		return
	}
	_, _ = io.WriteString(w, `{"status":"ok"}`)
}

func (a *Agent) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	body := http.MaxBytesReader(w, r.Body, a.maxBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, dispatch.ErrorResponse("bad_request", "decode request: "+err.Error()))
		return
	}

	a.served.Add(1)
	tc := req.TaskContext
	a.logger.Debugw("agent_request", "agent", a.name, "task_id", tc.TaskID, "step", tc.Step, "attempt", tc.Attempt)

	result, err := a.process(r.Context(), req)
	if err != nil {
		var appErr *dispatch.ApplicationError
		switch {
		case errors.Is(err, ErrUnavailable):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		case errors.As(err, &appErr):
			writeEnvelope(w, http.StatusUnprocessableEntity, dispatch.ErrorResponse(appErr.Code, appErr.Message))
		default:
			writeEnvelope(w, http.StatusInternalServerError, dispatch.ErrorResponse("agent_error", err.Error()))
		}
		a.logger.Infow("agent_rejected", "agent", a.name, "task_id", tc.TaskID, "step", tc.Step, "error", err)
		return
	}

	resp, err := dispatch.SuccessResponse(result)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, dispatch.ErrorResponse("encode_failed", err.Error()))
		return
	}
	writeEnvelope(w, http.StatusOK, resp)
}

func writeEnvelope(w http.ResponseWriter, status int, resp dispatch.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
