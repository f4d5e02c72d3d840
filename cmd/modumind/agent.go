package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ab1355/ModuMind/internal/agent"
	"github.com/ab1355/ModuMind/internal/api"
	"github.com/ab1355/ModuMind/internal/config"
	"github.com/ab1355/ModuMind/internal/logging"
)

type agentFlags struct {
	Name         string
	Capabilities []string
	Listen       string
	Advertise    string
	Mode         string
	Delay        time.Duration
	Register     bool
	LogLevel     string
}

func newAgentCmd(flags *globalFlags) *cobra.Command {
	af := &agentFlags{}

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run a reference agent",
		Long: `Start a minimal agent that speaks the dispatch protocol on POST / and
answers GET /health. In echo mode it returns its input and upstream outputs;
in reject mode it refuses every request with an application error.

With --register the agent adds itself to the orchestrator at --server and
removes itself again on shutdown.`,
		Example: `  modumind agent --name researcher-1 --capabilities research,browse --listen :9001 --register`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd, flags, af)
		},
	}

	cmd.Flags().StringVar(&af.Name, "name", "", "agent name (required)")
	cmd.Flags().StringSliceVar(&af.Capabilities, "capabilities", nil, "comma-separated capability tags (required)")
	cmd.Flags().StringVar(&af.Listen, "listen", "127.0.0.1:9001", "listen address")
	cmd.Flags().StringVar(&af.Advertise, "advertise", "", "address the orchestrator should call (default: http://<listen>)")
	cmd.Flags().StringVar(&af.Mode, "mode", "echo", "behaviour: echo or reject")
	cmd.Flags().DurationVar(&af.Delay, "delay", 0, "artificial processing delay per request")
	cmd.Flags().BoolVar(&af.Register, "register", false, "register with the orchestrator at --server")
	cmd.Flags().StringVar(&af.LogLevel, "log-level", "info", "log level")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("capabilities")
	return cmd
}

func runAgent(cmd *cobra.Command, flags *globalFlags, af *agentFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := logging.New(config.LoggerConfig{Level: af.LogLevel})
	if err != nil {
		return err
	}
	defer log.Sync()

	process, err := agent.Mode(af.Mode, af.Name)
	if err != nil {
		return err
	}
	if af.Delay > 0 {
		process = agent.Delay(af.Delay, process)
	}

	a := agent.New(af.Name, af.Capabilities, process, agent.WithLogger(log))
	if err := a.Start(ctx, af.Listen); err != nil {
		return err
	}

	advertise := af.Advertise
	if advertise == "" {
		advertise = "http://" + a.Addr()
	}

	client := flags.client()
	if af.Register {
		d, err := client.Register(ctx, api.RegisterRequest{
			Name:         af.Name,
			Address:      advertise,
			Capabilities: af.Capabilities,
		})
		if err != nil {
			_ = a.Stop(context.Background())
			return fmt.Errorf("register with %s: %w", flags.ServerURL, err)
		}
		log.Infow("agent_registered", "agent", d.Name, "server", flags.ServerURL, "address", d.Address)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "agent %s (%s) listening on %s\n", af.Name, strings.Join(af.Capabilities, ","), a.Addr())
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if af.Register {
		if err := client.Deregister(shutdownCtx, af.Name); err != nil {
			log.Warnw("agent_deregister_failed", "agent", af.Name, "error", err)
		}
	}
	return a.Stop(shutdownCtx)
}
