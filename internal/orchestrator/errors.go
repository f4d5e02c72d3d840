package orchestrator

import (
	"errors"

	"github.com/ab1355/ModuMind/internal/task"
)

// Orchestrator errors.
var (
	ErrNoCapableAgent = errors.New("orchestrator: no agent advertises capability")
	ErrNoHealthyAgent = errors.New("orchestrator: no healthy agent for capability")
	ErrInvalidGraph   = errors.New("orchestrator: invalid task graph")
	ErrTaskNotFound   = errors.New("orchestrator: task not found")
	ErrTaskTerminal   = errors.New("orchestrator: task already terminal")
	ErrShuttingDown   = errors.New("orchestrator: engine is shutting down")

	// ErrCancelled is the cause recorded on failures produced by cancellation.
	ErrCancelled = task.ErrCancelled
)
