package task

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Record owns one task and its subtasks. Every transition of the task and of
// any of its subtasks is serialised by the record's mutex; unrelated tasks
// never contend.
type Record struct {
	mu       sync.Mutex
	task     Task
	subtasks []*Subtask
	index    map[string]*Subtask
	claimed  map[string]bool // pending subtasks a driver has taken but not yet sent
	done     chan struct{}
	observe  func(Transition)
	now      func() time.Time
}

// RecordOption configures a Record.
type RecordOption func(*Record)

// WithObserver registers fn to be called after every transition. fn runs
// while the record is locked: it must not block or call back into the record.
func WithObserver(fn func(Transition)) RecordOption {
	return func(r *Record) {
		r.observe = fn
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) RecordOption {
	return func(r *Record) {
		r.now = now
	}
}

// NewRecord builds a pending task from t and its subtasks. Subtask order is
// kept as declaration order. Every DependsOn entry must name a subtask of
// the same task.
func NewRecord(t Task, subtasks []Subtask, opts ...RecordOption) (*Record, error) {
	if t.ID == "" {
		return nil, fmt.Errorf("task: id is required")
	}
	if len(subtasks) == 0 {
		return nil, fmt.Errorf("task: %s has no subtasks", t.ID)
	}

	r := &Record{
		index:   make(map[string]*Subtask, len(subtasks)),
		claimed: make(map[string]bool),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	now := r.now()
	r.task = copyTask(&t)
	r.task.Status = StatusPending
	r.task.CreatedAt = now
	r.task.UpdatedAt = now
	r.task.Result = nil
	r.task.Failure = nil
	r.task.SubtaskIDs = make([]string, 0, len(subtasks))

	for i := range subtasks {
		st := copySubtask(&subtasks[i])
		if st.ID == "" {
			return nil, fmt.Errorf("task: subtask %d of %s has no id", i, t.ID)
		}
		if _, dup := r.index[st.ID]; dup {
			return nil, fmt.Errorf("task: duplicate subtask id %q", st.ID)
		}
		st.TaskID = t.ID
		st.Status = SubtaskPending
		st.Attempts = 0
		st.Agent = ""
		st.Output = nil
		st.Failure = nil
		st.UpdatedAt = now
		r.subtasks = append(r.subtasks, &st)
		r.index[st.ID] = &st
		r.task.SubtaskIDs = append(r.task.SubtaskIDs, st.ID)
	}
	for _, st := range r.subtasks {
		for _, dep := range st.DependsOn {
			if _, ok := r.index[dep]; !ok {
				return nil, fmt.Errorf("task: subtask %q depends on unknown subtask %q", st.ID, dep)
			}
		}
	}
	return r, nil
}

// ID returns the task ID.
func (r *Record) ID() string {
	return r.task.ID
}

// Done returns a channel closed once the task reaches a terminal state.
func (r *Record) Done() <-chan struct{} {
	return r.done
}

// Status returns the current task status.
func (r *Record) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.task.Status
}

// Start moves the task from pending to running.
func (r *Record) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setTaskStatus(StatusRunning)
}

// Eligible returns the unclaimed pending subtasks whose dependencies have
// all completed, in declaration order. It returns nil unless the task is running.
func (r *Record) Eligible() []Subtask {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.task.Status != StatusRunning {
		return nil
	}
	var out []Subtask
	for _, st := range r.subtasks {
		if st.Status != SubtaskPending || r.claimed[st.ID] {
			continue
		}
		ready := true
		for _, dep := range st.DependsOn {
			if r.index[dep].Status != SubtaskCompleted {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, copySubtask(st))
		}
	}
	return out
}

// Claim reserves a pending subtask for one driver goroutine. The subtask
// stays pending until BeginAttempt records the agent it was routed to.
func (r *Record) Claim(subtaskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.lookup(subtaskID)
	if err != nil {
		return err
	}
	if r.task.Status != StatusRunning {
		return fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, r.task.ID, r.task.Status)
	}
	if st.Status != SubtaskPending || r.claimed[st.ID] {
		return fmt.Errorf("%w: subtask %s is %s or already claimed", ErrInvalidTransition, st.ID, st.Status)
	}
	r.claimed[st.ID] = true
	return nil
}

// BeginAttempt records that the subtask is about to be sent to agent and
// returns the 1-based attempt number. The first attempt moves a claimed
// subtask from pending to dispatched; later attempts keep it dispatched and
// only change the agent.
func (r *Record) BeginAttempt(subtaskID, agent string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.lookup(subtaskID)
	if err != nil {
		return 0, err
	}
	switch {
	case st.Status == SubtaskPending && r.claimed[st.ID]:
		st.Attempts++
		st.Agent = agent
		if err := r.setSubtaskStatus(st, SubtaskDispatched); err != nil {
			return 0, err
		}
		delete(r.claimed, st.ID)
	case st.Status == SubtaskDispatched:
		st.Attempts++
		st.Agent = agent
		st.UpdatedAt = r.now()
		r.notify(Transition{
			TaskID:    r.task.ID,
			SubtaskID: st.ID,
			Step:      st.Step,
			Agent:     agent,
			Status:    string(SubtaskDispatched),
		})
	default:
		return 0, fmt.Errorf("%w: subtask %s is %s", ErrInvalidTransition, st.ID, st.Status)
	}
	return st.Attempts, nil
}

// Upstream returns the outputs of the subtask's dependencies keyed by step.
func (r *Record) Upstream(subtaskID string) (map[string]json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.lookup(subtaskID)
	if err != nil {
		return nil, err
	}
	if len(st.DependsOn) == 0 {
		return nil, nil
	}
	out := make(map[string]json.RawMessage, len(st.DependsOn))
	for _, dep := range st.DependsOn {
		d := r.index[dep]
		out[d.Step] = copyRaw(d.Output)
	}
	return out, nil
}

// Complete stores output for a dispatched subtask. When it was the last
// outstanding subtask the task completes with the aggregated result and
// finished is true. A subtask that is no longer dispatched (for example
// because the task was cancelled) yields ErrInvalidTransition and the
// output is discarded.
func (r *Record) Complete(subtaskID string, output json.RawMessage) (finished bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.lookup(subtaskID)
	if err != nil {
		return false, err
	}
	if err := r.setSubtaskStatus(st, SubtaskCompleted); err != nil {
		return false, err
	}
	st.Output = copyRaw(output)

	for _, s := range r.subtasks {
		if s.Status != SubtaskCompleted {
			return false, nil
		}
	}

	result := make([]Output, 0, len(r.subtasks))
	for _, s := range r.subtasks {
		result = append(result, Output{
			SubtaskID:  s.ID,
			Step:       s.Step,
			Capability: s.Capability,
			Agent:      s.Agent,
			Output:     copyRaw(s.Output),
		})
	}
	r.task.Result = result
	if err := r.setTaskStatus(StatusCompleted); err != nil {
		return false, err
	}
	close(r.done)
	return true, nil
}

// Fail marks a dispatched subtask failed and fails the task with f. A
// claimed subtask that was never dispatched, because routing failed, fails
// straight from pending. Other pending subtasks are skipped and other
// dispatched subtasks are failed as cancelled. Identity fields of f are
// filled from the subtask.
func (r *Record) Fail(subtaskID string, f Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.lookup(subtaskID)
	if err != nil {
		return err
	}
	routable := st.Status == SubtaskDispatched || (st.Status == SubtaskPending && r.claimed[st.ID])
	if !routable || r.task.Status != StatusRunning {
		return fmt.Errorf("%w: subtask %s is %s", ErrInvalidTransition, st.ID, st.Status)
	}
	delete(r.claimed, st.ID)

	f.SubtaskID = st.ID
	f.Step = st.Step
	f.Capability = st.Capability
	if f.Agent == "" {
		f.Agent = st.Agent
	}
	if f.Attempts == 0 {
		f.Attempts = st.Attempts
	}
	st.Failure = copyFailure(&f)
	if err := r.setSubtaskStatus(st, SubtaskFailed); err != nil {
		return err
	}

	r.failTask(&f, fmt.Sprintf("subtask %s failed", st.Step))
	return nil
}

// Cancel fails a running task with kind cancelled.
func (r *Record) Cancel(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.task.Status != StatusRunning {
		return fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, r.task.ID, r.task.Status)
	}
	if reason == "" {
		reason = "cancelled by caller"
	}
	r.failTask(&Failure{Kind: KindCancelled, Message: reason, Cause: ErrCancelled}, reason)
	return nil
}

// Snapshot returns a deep copy of the task and its subtasks.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Snapshot{
		Task:     copyTask(&r.task),
		Subtasks: make([]Subtask, 0, len(r.subtasks)),
	}
	for _, st := range r.subtasks {
		out.Subtasks = append(out.Subtasks, copySubtask(st))
	}
	return out
}

// Task returns a copy of the task without its subtasks.
func (r *Record) Task() Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyTask(&r.task)
}

// failTask must be called with r.mu held and the task running.
func (r *Record) failTask(f *Failure, why string) {
	for _, st := range r.subtasks {
		switch st.Status {
		case SubtaskPending:
			_ = r.setSubtaskStatus(st, SubtaskSkipped)
		case SubtaskDispatched:
			st.Failure = &Failure{
				SubtaskID:  st.ID,
				Step:       st.Step,
				Capability: st.Capability,
				Agent:      st.Agent,
				Kind:       KindCancelled,
				Message:    "cancelled: " + why,
				Attempts:   st.Attempts,
				Cause:      ErrCancelled,
			}
			_ = r.setSubtaskStatus(st, SubtaskFailed)
		}
	}
	clear(r.claimed)
	r.task.Failure = copyFailure(f)
	_ = r.setTaskStatus(StatusFailed)
	close(r.done)
}

func (r *Record) lookup(subtaskID string) (*Subtask, error) {
	st, ok := r.index[subtaskID]
	if !ok {
		return nil, fmt.Errorf("%w: %q in task %s", ErrUnknownSubtask, subtaskID, r.task.ID)
	}
	return st, nil
}

func (r *Record) setTaskStatus(to Status) error {
	if !taskCanMove(r.task.Status, to) {
		return fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, r.task.ID, r.task.Status, to)
	}
	r.task.Status = to
	r.task.UpdatedAt = r.now()
	r.notify(Transition{
		TaskID:  r.task.ID,
		Status:  string(to),
		Failure: copyFailure(r.task.Failure),
	})
	return nil
}

func (r *Record) setSubtaskStatus(st *Subtask, to SubtaskStatus) error {
	if !subtaskCanMove(st.Status, to) {
		return fmt.Errorf("%w: subtask %s %s -> %s", ErrInvalidTransition, st.ID, st.Status, to)
	}
	st.Status = to
	st.UpdatedAt = r.now()
	r.task.UpdatedAt = st.UpdatedAt
	r.notify(Transition{
		TaskID:    r.task.ID,
		SubtaskID: st.ID,
		Step:      st.Step,
		Agent:     st.Agent,
		Status:    string(to),
		Failure:   copyFailure(st.Failure),
	})
	return nil
}

func (r *Record) notify(t Transition) {
	if r.observe != nil {
		r.observe(t)
	}
}
