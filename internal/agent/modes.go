package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ab1355/ModuMind/internal/dispatch"
)

// EchoResult is what Echo replies with.
type EchoResult struct {
	Agent      string                     `json:"agent"`
	Capability string                     `json:"capability"`
	Step       string                     `json:"step,omitempty"`
	Attempt    int                        `json:"attempt"`
	Input      json.RawMessage            `json:"input,omitempty"`
	Upstream   map[string]json.RawMessage `json:"upstream,omitempty"`
}

// Echo replies with the request's input and upstream outputs, tagged with
// the agent name.
func Echo(name string) ProcessFunc {
	return func(_ context.Context, req dispatch.Request) (any, error) {
		return EchoResult{
			Agent:      name,
			Capability: req.TaskContext.Capability,
			Step:       req.TaskContext.Step,
			Attempt:    req.TaskContext.Attempt,
			Input:      req.Input,
			Upstream:   req.TaskContext.Upstream,
		}, nil
	}
}

// Reject refuses every request with the given code.
func Reject(code, message string) ProcessFunc {
	return func(context.Context, dispatch.Request) (any, error) {
		return nil, &dispatch.ApplicationError{Code: code, Message: message}
	}
}

// Delay waits d before calling next, giving up early if the caller goes away.
func Delay(d time.Duration, next ProcessFunc) ProcessFunc {
	return func(ctx context.Context, req dispatch.Request) (any, error) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
		return next(ctx, req)
	}
}

// Unavailable answers 503 to the first n requests, then hands over to next.
func Unavailable(n int, next ProcessFunc) ProcessFunc {
	var seen atomic.Int64
	return func(ctx context.Context, req dispatch.Request) (any, error) {
		if seen.Add(1) <= int64(n) {
			return nil, ErrUnavailable
		}
		return next(ctx, req)
	}
}

// Mode resolves a CLI mode name to a ProcessFunc.
func Mode(mode, name string) (ProcessFunc, error) {
	switch mode {
	case "", "echo":
		return Echo(name), nil
	case "reject":
		return Reject("rejected", name+" rejects all work"), nil
	default:
		return nil, fmt.Errorf("agent: unknown mode %q (want echo or reject)", mode)
	}
}
