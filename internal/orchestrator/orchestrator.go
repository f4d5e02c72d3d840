// Package orchestrator turns inbound requests into tasks, routes their
// subtasks to capable agents, drives them to completion and aggregates the
// results.
package orchestrator

import (
	"encoding/json"
	"time"
)

// Step is one node of a caller-supplied plan. DependsOn names other steps of
// the same plan by ID.
type Step struct {
	ID         string          `json:"id"`
	Capability string          `json:"capability"`
	Input      json.RawMessage `json:"input,omitempty"`
	DependsOn  []string        `json:"depends_on,omitempty"`
}

// Request is an inbound task submission. Exactly one of Plan, Capability or
// Description drives decomposition, checked in that order.
type Request struct {
	Capability  string          `json:"capability,omitempty"`
	Description string          `json:"description,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Plan        []Step          `json:"plan,omitempty"`
}

// Event is emitted on every task or subtask transition.
type Event struct {
	TaskID    string    `json:"task_id"`
	SubtaskID string    `json:"subtask_id,omitempty"`
	Step      string    `json:"step,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`
}
