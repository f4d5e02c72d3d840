package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ab1355/ModuMind/internal/api"
)

func newAgentsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List, register and remove agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agents, err := flags.client().Agents(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(agents) == 0 {
				fmt.Fprintln(out, "No agents registered.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tADDRESS\tCAPABILITIES\tHEALTH")
			for _, a := range agents {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Name, a.Address, strings.Join(a.Capabilities, ","), a.Health)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(newAgentsRegisterCmd(flags), newAgentsRemoveCmd(flags), newAgentsHistoryCmd(flags))
	return cmd
}

func newAgentsRegisterCmd(flags *globalFlags) *cobra.Command {
	var req api.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an agent with the orchestrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := flags.client().Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s at %s (%s)\n", d.Name, d.Address, strings.Join(d.Capabilities, ","))
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "agent name (required)")
	cmd.Flags().StringVar(&req.Address, "address", "", "agent base URL (required)")
	cmd.Flags().StringSliceVar(&req.Capabilities, "capabilities", nil, "comma-separated capability tags (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("capabilities")
	return cmd
}

func newAgentsRemoveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Deregister an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.client().Deregister(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newAgentsHistoryCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <name>",
		Short: "Show the archived subtasks an agent ran",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := flags.client().History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hist.Entries) == 0 {
				fmt.Fprintf(out, "No history for %s.\n", hist.Agent)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTASK\tSTEP\tSTATUS\tATTEMPTS\tKIND")
			for _, e := range hist.Entries {
				kind := string(e.Kind)
				if kind == "" {
					kind = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					e.Time.Format("2006-01-02 15:04:05"), e.TaskID, e.Step, e.Status, e.Attempts, kind)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries")
	return cmd
}
