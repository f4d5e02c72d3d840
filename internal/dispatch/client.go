// Package dispatch performs single request/response exchanges with agents
// and classifies their outcomes. It does not retry and does not mutate any
// orchestrator state.
package dispatch

import (
	"context"
	"time"

	"github.com/ab1355/ModuMind/internal/registry"
)

// Client is the outbound contract toward agents.
type Client interface {
	// Call POSTs req to the agent and classifies the result. The exchange is
	// abandoned when timeout elapses or ctx is cancelled.
	Call(ctx context.Context, agent registry.Descriptor, req Request, timeout time.Duration) Attempt

	// Probe performs a liveness check. A nil error means the agent is up.
	Probe(ctx context.Context, agent registry.Descriptor, timeout time.Duration) error
}
