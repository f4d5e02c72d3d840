// Package task models orchestration tasks and their subtasks, and enforces
// the legal state transitions between them.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Task errors.
var (
	ErrInvalidTransition = errors.New("task: invalid transition")
	ErrUnknownSubtask    = errors.New("task: unknown subtask")
	ErrDuplicateTask     = errors.New("task: duplicate task")
	ErrInvalidPageToken  = errors.New("task: invalid page token")

	// ErrCancelled is the cause of every failure produced by cancellation,
	// whether requested by a caller or triggered by a sibling failure.
	ErrCancelled = errors.New("task: cancelled")
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true if the task state is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SubtaskStatus is the lifecycle state of a subtask.
type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "pending"
	SubtaskDispatched SubtaskStatus = "dispatched"
	SubtaskCompleted  SubtaskStatus = "completed"
	SubtaskFailed     SubtaskStatus = "failed"
	SubtaskSkipped    SubtaskStatus = "skipped"
)

// IsTerminal returns true if the subtask state is a final state.
func (s SubtaskStatus) IsTerminal() bool {
	switch s {
	case SubtaskCompleted, SubtaskFailed, SubtaskSkipped:
		return true
	}
	return false
}

var taskTransitions = map[Status][]Status{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusCompleted, StatusFailed},
}

var subtaskTransitions = map[SubtaskStatus][]SubtaskStatus{
	SubtaskPending:    {SubtaskDispatched, SubtaskSkipped, SubtaskFailed},
	SubtaskDispatched: {SubtaskCompleted, SubtaskFailed},
}

func taskCanMove(from, to Status) bool {
	for _, s := range taskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func subtaskCanMove(from, to SubtaskStatus) bool {
	for _, s := range subtaskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrorKind classifies why a subtask or task failed.
type ErrorKind string

const (
	KindNoCapableAgent   ErrorKind = "no_capable_agent"
	KindNoHealthyAgent   ErrorKind = "no_healthy_agent"
	KindTimeout          ErrorKind = "timeout"
	KindTransportError   ErrorKind = "transport_error"
	KindApplicationError ErrorKind = "application_error"
	KindCancelled        ErrorKind = "cancelled"
)

// Failure describes a failed subtask, and by extension the task it belongs to.
type Failure struct {
	SubtaskID  string    `json:"subtask_id,omitempty"`
	Step       string    `json:"step,omitempty"`
	Capability string    `json:"capability,omitempty"`
	Agent      string    `json:"agent,omitempty"`
	Kind       ErrorKind `json:"kind"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message"`
	Attempts   int       `json:"attempts,omitempty"`

	// Cause is the underlying error. It is not serialised.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (f *Failure) Error() string {
	switch {
	case f.SubtaskID == "":
		return fmt.Sprintf("task failed (%s): %s", f.Kind, f.Message)
	case f.Agent == "":
		return fmt.Sprintf("subtask %s (%s) failed (%s): %s", f.Step, f.Capability, f.Kind, f.Message)
	default:
		return fmt.Sprintf("subtask %s (%s) failed on %s after %d attempt(s) (%s): %s",
			f.Step, f.Capability, f.Agent, f.Attempts, f.Kind, f.Message)
	}
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error {
	return f.Cause
}

// Output is one entry of a completed task's result.
type Output struct {
	SubtaskID  string          `json:"subtask_id"`
	Step       string          `json:"step"`
	Capability string          `json:"capability"`
	Agent      string          `json:"agent"`
	Output     json.RawMessage `json:"output"`
}

// Task is the unit of work submitted by a caller.
type Task struct {
	ID         string          `json:"id"`
	Request    json.RawMessage `json:"request,omitempty"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Result     []Output        `json:"result,omitempty"`
	Failure    *Failure        `json:"failure,omitempty"`
	SubtaskIDs []string        `json:"subtask_ids"`
}

// Subtask is one unit of work routed to exactly one agent.
type Subtask struct {
	ID         string          `json:"id"`
	TaskID     string          `json:"task_id"`
	Step       string          `json:"step"`
	Capability string          `json:"capability"`
	Input      json.RawMessage `json:"input,omitempty"`
	Agent      string          `json:"agent,omitempty"`
	Attempts   int             `json:"attempts"`
	Status     SubtaskStatus   `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	Failure    *Failure        `json:"failure,omitempty"`
	DependsOn  []string        `json:"depends_on,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Snapshot is a consistent copy of a task and its subtasks.
type Snapshot struct {
	Task     Task      `json:"task"`
	Subtasks []Subtask `json:"subtasks"`
}

// Transition is reported to a Record's observer after every state change.
type Transition struct {
	TaskID    string
	SubtaskID string
	Step      string
	Agent     string
	Status    string
	Failure   *Failure
}

func copyRaw(src json.RawMessage) json.RawMessage {
	if src == nil {
		return nil
	}
	dst := make(json.RawMessage, len(src))
	copy(dst, src)
	return dst
}

func copyFailure(src *Failure) *Failure {
	if src == nil {
		return nil
	}
	dst := *src
	return &dst
}

func copyTask(src *Task) Task {
	dst := *src
	dst.Request = copyRaw(src.Request)
	dst.Failure = copyFailure(src.Failure)
	if src.SubtaskIDs != nil {
		dst.SubtaskIDs = append([]string(nil), src.SubtaskIDs...)
	}
	if src.Result != nil {
		dst.Result = make([]Output, len(src.Result))
		for i, o := range src.Result {
			o.Output = copyRaw(o.Output)
			dst.Result[i] = o
		}
	}
	return dst
}

func copySubtask(src *Subtask) Subtask {
	dst := *src
	dst.Input = copyRaw(src.Input)
	dst.Output = copyRaw(src.Output)
	dst.Failure = copyFailure(src.Failure)
	if src.DependsOn != nil {
		dst.DependsOn = append([]string(nil), src.DependsOn...)
	}
	return dst
}
