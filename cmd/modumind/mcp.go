package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ab1355/ModuMind/internal/mcptools"
)

func newMCPCmd(flags *globalFlags) *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the orchestrator as an MCP server",
		Long: `Start an in-process orchestrator and expose submit_task, get_task,
cancel_task, list_agents and agent_history as MCP tools. The server speaks
stdio by default; logs go to stderr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(flags.ConfigPath)
			if err != nil {
				return err
			}
			server := mcptools.NewServer(mcptools.NewOrchestratorService(rt.engine, rt.agents, rt.archive))

			serve := func(ctx context.Context) error {
				if httpAddr != "" {
					rt.log.Infow("mcp_listening", "address", httpAddr)
					return mcptools.RunHTTP(ctx, server, httpAddr)
				}
				// stdin closing ends the session, which should stop the process.
				if err := mcptools.RunStdio(ctx, server); err != nil {
					return err
				}
				return context.Canceled
			}
			return rt.run(ctx, serve, nil)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP at this address instead of stdio")
	return cmd
}
