package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ab1355/ModuMind/internal/api"
	"github.com/ab1355/ModuMind/internal/mcptools"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var mcpAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator and its HTTP API",
		Long: `Start the orchestration engine, the agent health monitor and the HTTP API.
Agents listed in the config file are registered at startup; more can be added
with 'modumind agents register' or POST /v1/agents.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(flags.ConfigPath)
			if err != nil {
				return err
			}

			srv := api.NewServer(rt.cfg.Server, api.Deps{
				Engine:  rt.engine,
				Agents:  rt.agents,
				Archive: rt.archive,
				Logger:  rt.log,
			})

			serve := func(ctx context.Context) error {
				if mcpAddr != "" {
					mcpServer := mcptools.NewServer(mcptools.NewOrchestratorService(rt.engine, rt.agents, rt.archive))
					go func() {
						rt.log.Infow("mcp_listening", "address", mcpAddr)
						if err := mcptools.RunHTTP(ctx, mcpServer, mcpAddr); err != nil {
							rt.log.Errorw("mcp_serve_failed", "error", err)
						}
					}()
				}
				return srv.Listen()
			}
			return rt.run(ctx, serve, srv.Shutdown)
		},
	}
	cmd.Flags().StringVar(&mcpAddr, "mcp-http", "", "also serve the MCP tools over streamable HTTP at this address")
	return cmd
}
