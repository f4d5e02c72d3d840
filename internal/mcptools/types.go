package mcptools

// --- MCP tool types ---
// Inputs and outputs are flat JSON-friendly views of the orchestrator types:
// agent payloads are decoded to plain values and timestamps are RFC 3339
// strings, so the inferred schemas stay simple.

// StepInput is one step of a submitted plan.
type StepInput struct {
	ID         string   `json:"id" jsonschema:"step name, unique within the plan"`
	Capability string   `json:"capability" jsonschema:"capability an agent must advertise to run the step"`
	Input      any      `json:"input,omitempty" jsonschema:"input passed to the agent (defaults to the task payload)"`
	DependsOn  []string `json:"depends_on,omitempty" jsonschema:"IDs of steps that must complete first"`
}

// SubmitTaskInput is the input for the submit_task tool. Plan wins over
// Capability, which wins over Description.
type SubmitTaskInput struct {
	Capability  string      `json:"capability,omitempty" jsonschema:"route the whole task to one capability"`
	Description string      `json:"description,omitempty" jsonschema:"free text; the capability is inferred from keywords"`
	Payload     any         `json:"payload,omitempty" jsonschema:"input for steps that declare none"`
	Plan        []StepInput `json:"plan,omitempty" jsonschema:"explicit dependency graph of steps"`
	Wait        bool        `json:"wait,omitempty" jsonschema:"block until the task finishes"`
}

// TaskIDInput names a task.
type TaskIDInput struct {
	ID string `json:"id" jsonschema:"task ID"`
}

// FailureView describes why a task or subtask failed.
type FailureView struct {
	SubtaskID  string `json:"subtask_id,omitempty"`
	Step       string `json:"step,omitempty"`
	Capability string `json:"capability,omitempty"`
	Agent      string `json:"agent,omitempty"`
	Kind       string `json:"kind"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Attempts   int    `json:"attempts,omitempty"`
}

// ResultView is one aggregated subtask output.
type ResultView struct {
	SubtaskID  string `json:"subtask_id"`
	Step       string `json:"step"`
	Capability string `json:"capability"`
	Agent      string `json:"agent"`
	Output     any    `json:"output,omitempty"`
}

// SubtaskView is one subtask of a task.
type SubtaskView struct {
	ID         string       `json:"id"`
	Step       string       `json:"step"`
	Capability string       `json:"capability"`
	Agent      string       `json:"agent,omitempty"`
	Status     string       `json:"status"`
	Attempts   int          `json:"attempts"`
	DependsOn  []string     `json:"depends_on,omitempty"`
	Output     any          `json:"output,omitempty"`
	Failure    *FailureView `json:"failure,omitempty"`
}

// TaskOutput is the result of submit_task, get_task and cancel_task.
type TaskOutput struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	CreatedAt string        `json:"created_at"`
	UpdatedAt string        `json:"updated_at"`
	Result    []ResultView  `json:"result,omitempty"`
	Failure   *FailureView  `json:"failure,omitempty"`
	Subtasks  []SubtaskView `json:"subtasks"`
}

// ListAgentsInput is the input for the list_agents tool.
type ListAgentsInput struct {
	Capability string `json:"capability,omitempty" jsonschema:"only agents advertising this capability"`
}

// AgentView is one registered agent.
type AgentView struct {
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	Capabilities []string `json:"capabilities"`
	Health       string   `json:"health"`
	LastProbe    string   `json:"last_probe,omitempty"`
}

// ListAgentsOutput is the result of the list_agents tool.
type ListAgentsOutput struct {
	Agents []AgentView `json:"agents"`
}

// AgentHistoryInput is the input for the agent_history tool.
type AgentHistoryInput struct {
	Agent string `json:"agent" jsonschema:"agent name"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum entries, newest first (default: all)"`
}

// HistoryView is one archived subtask run by the agent.
type HistoryView struct {
	TaskID     string `json:"task_id"`
	SubtaskID  string `json:"subtask_id"`
	Step       string `json:"step"`
	Capability string `json:"capability"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	Kind       string `json:"kind,omitempty"`
	Time       string `json:"time"`
}

// AgentHistoryOutput is the result of the agent_history tool.
type AgentHistoryOutput struct {
	Agent   string        `json:"agent"`
	Entries []HistoryView `json:"entries"`
}
