package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ab1355/ModuMind/internal/dispatch"
	"github.com/ab1355/ModuMind/internal/registry"
	"github.com/ab1355/ModuMind/internal/task"
)

// Sink receives a snapshot of every task that reaches a terminal state.
type Sink interface {
	Record(ctx context.Context, snap task.Snapshot) error
}

// Engine accepts requests, drives their subtasks through the router and the
// dispatch client, and keeps live tasks plus the most recent finished ones in
// an in-memory table.
type Engine struct {
	cfg      Config
	router   *Router
	client   dispatch.Client
	tasks    *task.Table
	progress *ProgressReporter
	sink     Sink
	logger   *zap.SugaredLogger
	newID    func() string

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	runs    map[string]*run // drivers still running or archiving
	closing bool
}

// run tracks the driver of one task.
type run struct {
	cancel context.CancelFunc
	done   chan struct{} // closed after the task is terminal and archived
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithProgress sends every transition to pr.
func WithProgress(pr *ProgressReporter) Option {
	return func(e *Engine) {
		e.progress = pr
	}
}

// WithSink records terminal tasks in s.
func WithSink(s Sink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithIDGenerator overrides uuid generation for task and subtask IDs.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// NewEngine creates an Engine that routes over store and calls agents
// through client.
func NewEngine(cfg Config, store *registry.Store, client dispatch.Client, opts ...Option) *Engine {
	ctx, stop := context.WithCancel(context.Background())
	e := &Engine{
		cfg:     cfg,
		router:  NewRouter(store),
		client:  client,
		tasks:   task.NewTable(),
		logger:  zap.NewNop().Sugar(),
		newID:   uuid.NewString,
		baseCtx: ctx,
		stop:    stop,
		runs:    make(map[string]*run),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit validates and decomposes req, starts the task and returns its
// running snapshot without waiting for completion.
func (e *Engine) Submit(ctx context.Context, req Request) (task.Snapshot, error) {
	rec, _, err := e.submit(ctx, req)
	if err != nil {
		return task.Snapshot{}, err
	}
	return rec.Snapshot(), nil
}

func (e *Engine) submit(ctx context.Context, req Request) (*task.Record, *run, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	steps, err := Decompose(req)
	if err != nil {
		return nil, nil, err
	}

	rawReq, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: encode request: %w", err)
	}

	taskID := e.newID()
	subtaskIDs := make(map[string]string, len(steps))
	for _, s := range steps {
		subtaskIDs[s.ID] = e.newID()
	}
	subtasks := make([]task.Subtask, 0, len(steps))
	for _, s := range steps {
		deps := make([]string, 0, len(s.DependsOn))
		for _, d := range s.DependsOn {
			deps = append(deps, subtaskIDs[d])
		}
		subtasks = append(subtasks, task.Subtask{
			ID:         subtaskIDs[s.ID],
			Step:       s.ID,
			Capability: s.Capability,
			Input:      s.Input,
			DependsOn:  deps,
		})
	}

	rec, err := task.NewRecord(task.Task{ID: taskID, Request: rawReq}, subtasks, task.WithObserver(e.observe))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return nil, nil, ErrShuttingDown
	}
	if err := e.tasks.Add(rec); err != nil {
		e.mu.Unlock()
		return nil, nil, err
	}
	runCtx, cancel := context.WithCancel(e.baseCtx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	e.runs[taskID] = r
	e.wg.Add(1)
	e.mu.Unlock()

	if err := rec.Start(); err != nil {
		e.mu.Lock()
		delete(e.runs, taskID)
		e.mu.Unlock()
		e.tasks.Remove(taskID)
		cancel()
		close(r.done)
		e.wg.Done()
		return nil, nil, err
	}
	e.logger.Infow("task_submitted", "task_id", taskID, "subtasks", len(subtasks))

	go e.drive(runCtx, rec, r)
	return rec, r, nil
}

// Run submits req and waits for the task to finish. If ctx ends first the
// task is cancelled.
func (e *Engine) Run(ctx context.Context, req Request) (task.Snapshot, error) {
	rec, r, err := e.submit(ctx, req)
	if err != nil {
		return task.Snapshot{}, err
	}
	select {
	case <-r.done:
		return rec.Snapshot(), nil
	case <-ctx.Done():
	}
	if err := rec.Cancel("caller gave up waiting"); err == nil {
		r.cancel()
		e.logger.Infow("task_cancelled", "task_id", rec.ID())
	}
	return rec.Snapshot(), ctx.Err()
}

// Wait blocks until the task is terminal and archived, or ctx ends. Tasks
// already dropped from the table yield ErrTaskNotFound.
func (e *Engine) Wait(ctx context.Context, id string) (task.Snapshot, error) {
	rec, ok := e.tasks.Get(id)
	if !ok {
		return task.Snapshot{}, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}

	e.mu.Lock()
	r := e.runs[id]
	e.mu.Unlock()

	// Without a run the driver has already archived the task.
	done := rec.Done()
	if r != nil {
		done = r.done
	}
	select {
	case <-done:
		return rec.Snapshot(), nil
	case <-ctx.Done():
		return rec.Snapshot(), ctx.Err()
	}
}

// Get returns the current snapshot of a task and its subtasks.
func (e *Engine) Get(id string) (task.Snapshot, error) {
	rec, ok := e.tasks.Get(id)
	if !ok {
		return task.Snapshot{}, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	return rec.Snapshot(), nil
}

// List returns tasks matching filter in submission order.
func (e *Engine) List(filter task.Filter) (task.Page, error) {
	return e.tasks.List(filter)
}

// Cancel fails a running task with kind cancelled and aborts its in-flight
// calls.
func (e *Engine) Cancel(id string) (task.Snapshot, error) {
	rec, ok := e.tasks.Get(id)
	if !ok {
		return task.Snapshot{}, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	if err := rec.Cancel("cancelled by caller"); err != nil {
		if errors.Is(err, task.ErrInvalidTransition) {
			return rec.Snapshot(), fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, rec.Status())
		}
		return task.Snapshot{}, err
	}

	e.mu.Lock()
	if r := e.runs[id]; r != nil {
		r.cancel()
	}
	e.mu.Unlock()

	e.logger.Infow("task_cancelled", "task_id", id)
	return rec.Snapshot(), nil
}

// Shutdown stops accepting tasks, cancels every running task and waits for
// their drivers to exit or ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		if rec, ok := e.tasks.Get(id); ok {
			_ = rec.Cancel("engine shutting down")
		}
	}
	e.stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drive schedules the subtasks of one task until it is terminal. Every
// completion wakes the driver to recompute eligible subtasks; the first
// failure cancels the group context, which aborts in-flight siblings.
func (e *Engine) drive(ctx context.Context, rec *task.Record, r *run) {
	defer e.wg.Done()
	defer close(r.done)
	defer r.cancel()

	g, gctx := errgroup.WithContext(ctx)
	wake := make(chan struct{}, 1)

	launch := func() {
		for _, st := range rec.Eligible() {
			if err := rec.Claim(st.ID); err != nil {
				continue
			}
			g.Go(func() error {
				return e.runSubtask(gctx, rec, st, wake)
			})
		}
	}

	launch()
loop:
	for {
		select {
		case <-rec.Done():
			break loop
		case <-wake:
			launch()
		}
	}
	_ = g.Wait()

	snap := rec.Snapshot()
	e.logTerminal(snap)
	e.archive(snap)
	e.forget(rec.ID())
}

// forget drops the finished run and prunes old terminal tasks beyond
// RetainTerminal. Reads of pruned tasks go to the archive.
func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.runs, id)
	e.mu.Unlock()

	for _, old := range e.tasks.PruneTerminal(e.cfg.RetainTerminal) {
		e.logger.Debugw("task_evicted", "task_id", old)
	}
}

// runSubtask dispatches one claimed subtask, retrying transient failures
// with a fresh agent selection each time.
func (e *Engine) runSubtask(ctx context.Context, rec *task.Record, st task.Subtask, wake chan<- struct{}) error {
	upstream, err := rec.Upstream(st.ID)
	if err != nil {
		return err
	}
	policy := e.cfg.Retry

	for {
		if ctx.Err() != nil {
			return e.fail(rec, st, cancelledFailure())
		}

		agent, err := e.router.Select(st.Capability)
		if err != nil {
			kind := task.KindNoCapableAgent
			if errors.Is(err, ErrNoHealthyAgent) {
				kind = task.KindNoHealthyAgent
			}
			return e.fail(rec, st, task.Failure{Kind: kind, Message: err.Error(), Cause: err})
		}

		attempt, err := rec.BeginAttempt(st.ID, agent.Name)
		if err != nil {
			// Task already terminal.
			return nil
		}

		att := e.client.Call(ctx, agent, dispatch.Request{
			TaskContext: dispatch.TaskContext{
				TaskID:     st.TaskID,
				SubtaskID:  st.ID,
				Step:       st.Step,
				Capability: st.Capability,
				Attempt:    attempt,
				Upstream:   upstream,
			},
			Input: st.Input,
		}, e.cfg.DispatchTimeout)

		out := att.Outcome
		switch out.Kind {
		case dispatch.KindSuccess:
			if _, err := rec.Complete(st.ID, out.Data); err != nil {
				e.logger.Debugw("late_response_discarded", "task_id", st.TaskID, "step", st.Step, "agent", agent.Name)
				return nil
			}
			select {
			case wake <- struct{}{}:
			default:
			}
			return nil

		case dispatch.KindApplicationError:
			msg := out.Err.Error()
			var appErr *dispatch.ApplicationError
			if errors.As(out.Err, &appErr) {
				msg = appErr.Message
			}
			return e.fail(rec, st, task.Failure{
				Agent:   agent.Name,
				Kind:    task.KindApplicationError,
				Code:    out.Code(),
				Message: msg,
				Cause:   out.Err,
			})

		case dispatch.KindTimeout, dispatch.KindTransportError:
			if ctx.Err() != nil {
				return e.fail(rec, st, cancelledFailure())
			}
			kind := task.KindTimeout
			if out.Kind == dispatch.KindTransportError {
				kind = task.KindTransportError
			}
			if attempt >= policy.Attempts() {
				return e.fail(rec, st, task.Failure{
					Agent:   agent.Name,
					Kind:    kind,
					Message: out.Err.Error(),
					Cause:   out.Err,
				})
			}
			delay := policy.Delay(attempt)
			e.logger.Warnw("subtask_retry",
				"task_id", st.TaskID,
				"step", st.Step,
				"agent", agent.Name,
				"attempt", attempt,
				"kind", out.Kind.String(),
				"delay", delay,
				"error", out.Err,
			)
			if err := sleepCtx(ctx, delay); err != nil {
				return e.fail(rec, st, cancelledFailure())
			}

		default:
			return e.fail(rec, st, task.Failure{
				Agent:   agent.Name,
				Kind:    task.KindApplicationError,
				Message: fmt.Sprintf("unclassified outcome %d", out.Kind),
			})
		}
	}
}

// fail records f on the subtask. The returned error cancels the group; when
// the task is already terminal the failure is dropped.
func (e *Engine) fail(rec *task.Record, st task.Subtask, f task.Failure) error {
	if err := rec.Fail(st.ID, f); err != nil {
		return nil
	}
	return &f
}

func (e *Engine) observe(t task.Transition) {
	if e.progress == nil {
		return
	}
	ev := Event{
		TaskID:    t.TaskID,
		SubtaskID: t.SubtaskID,
		Step:      t.Step,
		Agent:     t.Agent,
		Status:    t.Status,
		Time:      time.Now(),
	}
	if t.Failure != nil {
		ev.Message = t.Failure.Message
	}
	e.progress.Emit(ev)
}

func (e *Engine) logTerminal(snap task.Snapshot) {
	t := snap.Task
	if t.Status == task.StatusCompleted {
		e.logger.Infow("task_completed",
			"task_id", t.ID,
			"subtasks", len(snap.Subtasks),
			"duration", t.UpdatedAt.Sub(t.CreatedAt),
		)
		return
	}
	fields := []any{"task_id", t.ID, "status", t.Status}
	if f := t.Failure; f != nil {
		fields = append(fields,
			"kind", f.Kind,
			"step", f.Step,
			"capability", f.Capability,
			"agent", f.Agent,
			"attempts", f.Attempts,
			"message", f.Message,
		)
	}
	e.logger.Warnw("task_failed", fields...)
}

func (e *Engine) archive(snap task.Snapshot) {
	if e.sink == nil {
		return
	}
	timeout := e.cfg.ArchiveTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.sink.Record(ctx, snap); err != nil {
		e.logger.Warnw("archive_failed", "task_id", snap.Task.ID, "error", err)
	}
}

func cancelledFailure() task.Failure {
	return task.Failure{Kind: task.KindCancelled, Message: "cancelled", Cause: ErrCancelled}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
