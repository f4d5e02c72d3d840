package dispatch

import "encoding/json"

// ResponseStatus is the status field of an agent response envelope.
type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "success"
	StatusError   ResponseStatus = "error"
)

// TaskContext tells the agent which unit of work it is serving.
type TaskContext struct {
	TaskID     string `json:"task_id"`
	SubtaskID  string `json:"subtask_id"`
	Step       string `json:"step,omitempty"`
	Capability string `json:"capability"`
	Attempt    int    `json:"attempt"`

	// Upstream holds the outputs of completed dependencies, keyed by step.
	Upstream map[string]json.RawMessage `json:"upstream,omitempty"`
}

// Request is the body POSTed to an agent.
type Request struct {
	TaskContext TaskContext     `json:"task_context"`
	Input       json.RawMessage `json:"input"`
}

// Response is the envelope an agent replies with. Data is set on success;
// Code and Message describe an agent-side rejection.
type Response struct {
	Status  ResponseStatus  `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

// SuccessResponse builds a success envelope around v.
func SuccessResponse(v any) (Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: StatusSuccess, Data: data}, nil
}

// ErrorResponse builds an error envelope.
func ErrorResponse(code, message string) Response {
	return Response{Status: StatusError, Code: code, Message: message}
}
