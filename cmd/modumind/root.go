package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ab1355/ModuMind/internal/api"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	ConfigPath string
	ServerURL  string
	Timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "modumind",
		Short: "Orchestration core for a fleet of capability agents",
		Long: `ModuMind accepts tasks, decomposes them into subtasks, routes each
subtask to a healthy agent that advertises the needed capability, retries
transient failures and aggregates the results.

Run 'modumind serve' to start the orchestrator, 'modumind agent' to start a
reference agent, and the client commands (submit, status, cancel, agents) to
talk to a running orchestrator.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := os.Getenv("MODUMIND_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	root.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "", "path to the service config file (YAML)")
	root.PersistentFlags().StringVar(&flags.ServerURL, "server", defaultURL, "orchestrator API base URL (env MODUMIND_URL)")
	root.PersistentFlags().DurationVar(&flags.Timeout, "timeout", 30*time.Second, "client request timeout (0 waits forever)")

	root.AddCommand(
		newServeCmd(flags),
		newAgentCmd(flags),
		newSubmitCmd(flags),
		newStatusCmd(flags),
		newCancelCmd(flags),
		newAgentsCmd(flags),
		newMCPCmd(flags),
		newVersionCmd(),
	)
	return root
}

func (f *globalFlags) client() *api.Client {
	return api.NewClient(f.ServerURL, api.WithClientTimeout(f.Timeout))
}
