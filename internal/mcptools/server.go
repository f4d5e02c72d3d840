// Package mcptools exposes the orchestrator's inbound operations as MCP
// tools, served over stdio or streamable HTTP.
package mcptools

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewServer creates an MCP server with the orchestrator tools registered:
// submit_task, get_task, cancel_task, list_agents and agent_history.
func NewServer(svc *OrchestratorService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "modumind",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "submit_task",
		Description: "Submit a task to the agent fleet. Give a single capability, a free-text description, or a plan of steps with dependencies. Set wait to block until the task finishes.",
	}, svc.SubmitTask)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_task",
		Description: "Get the status of a task and each of its subtasks, including outputs and the failure if any.",
	}, svc.GetTask)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_task",
		Description: "Cancel a running task. Pending subtasks are skipped and in-flight agent calls are aborted.",
	}, svc.CancelTask)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_agents",
		Description: "List registered agents with their capabilities and last-known health, optionally filtered by capability.",
	}, svc.ListAgents)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "agent_history",
		Description: "List the archived subtasks an agent ran, newest first.",
	}, svc.AgentHistory)

	return server
}

// RunStdio runs the MCP server on stdio transport, blocking until stdin is
// closed or the context is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the MCP server over streamable HTTP at addr until ctx is
// cancelled.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
