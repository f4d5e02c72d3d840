package orchestrator

import (
	"fmt"
	"sync"
)

// ProgressReporter emits events through a buffered channel.
type ProgressReporter struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

// NewProgressReporter creates a ProgressReporter with a buffer of size events.
// A size below one uses 64.
func NewProgressReporter(size int) *ProgressReporter {
	if size < 1 {
		size = 64
	}
	return &ProgressReporter{
		ch: make(chan Event, size),
	}
}

// Emit sends an event without blocking. If the channel is full or the
// reporter is closed, the event is dropped.
func (pr *ProgressReporter) Emit(event Event) {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	if pr.closed {
		return
	}
	select {
	case pr.ch <- event:
	default:
	}
}

// Subscribe returns a read-only channel for consuming events.
func (pr *ProgressReporter) Subscribe() <-chan Event {
	return pr.ch
}

// Close closes the event channel. It is safe to call more than once.
func (pr *ProgressReporter) Close() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if !pr.closed {
		pr.closed = true
		close(pr.ch)
	}
}

// FormatEvent formats an Event as a human-readable status line.
func FormatEvent(ev Event) string {
	subject := ev.Step
	if ev.SubtaskID == "" {
		subject = "task " + ev.TaskID
	}

	switch ev.Status {
	case "pending":
		return fmt.Sprintf("  ○ %s (pending)", subject)
	case "running":
		return fmt.Sprintf("  ● %s running", subject)
	case "dispatched":
		if ev.Agent != "" {
			return fmt.Sprintf("  ● %s -> %s", subject, ev.Agent)
		}
		return fmt.Sprintf("  ● %s...", subject)
	case "completed":
		return fmt.Sprintf("  ✓ %s complete", subject)
	case "skipped":
		return fmt.Sprintf("  - %s skipped", subject)
	case "failed":
		return fmt.Sprintf("  ✗ %s failed: %s", subject, ev.Message)
	default:
		return fmt.Sprintf("  ? %s (unknown status %q)", subject, ev.Status)
	}
}
