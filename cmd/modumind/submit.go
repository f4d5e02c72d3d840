package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ab1355/ModuMind/internal/config"
	"github.com/ab1355/ModuMind/internal/orchestrator"
	"github.com/ab1355/ModuMind/internal/task"
)

type submitFlags struct {
	Capability string
	PlanPath   string
	Payload    string
	Wait       bool
	JSON       bool
}

func newSubmitCmd(flags *globalFlags) *cobra.Command {
	sf := &submitFlags{}

	cmd := &cobra.Command{
		Use:   "submit [description]",
		Short: "Submit a task to a running orchestrator",
		Long: `Submit a task. Give exactly one of:
  --plan FILE        a YAML or JSON plan of steps with dependencies
  --capability TAG   route the whole task to one capability
  DESCRIPTION        free text; the capability is inferred from keywords`,
		Example: `  modumind submit "research the latest Go release" --wait
  modumind submit --capability execute --payload '{"cmd":"make test"}'
  modumind submit --plan report.yaml --wait`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(sf, args)
			if err != nil {
				return err
			}
			snap, err := flags.client().Submit(cmd.Context(), req, sf.Wait)
			if err != nil {
				return err
			}
			if sf.JSON {
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			if snap.Task.Status == task.StatusFailed {
				return fmt.Errorf("task %s failed", snap.Task.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sf.Capability, "capability", "", "capability for a single-step task")
	cmd.Flags().StringVarP(&sf.PlanPath, "plan", "p", "", "plan file (YAML or JSON)")
	cmd.Flags().StringVar(&sf.Payload, "payload", "", "JSON payload for steps without their own input")
	cmd.Flags().BoolVarP(&sf.Wait, "wait", "w", false, "wait for the task to finish")
	cmd.Flags().BoolVar(&sf.JSON, "json", false, "print the raw task snapshot as JSON")
	return cmd
}

func buildRequest(sf *submitFlags, args []string) (orchestrator.Request, error) {
	var req orchestrator.Request
	switch {
	case sf.PlanPath != "":
		plan, err := config.LoadPlan(sf.PlanPath)
		if err != nil {
			return req, err
		}
		req = plan
	case sf.Capability != "":
		req.Capability = sf.Capability
	case len(args) == 1:
		req.Description = args[0]
	default:
		return req, errors.New("nothing to submit: give a description, --capability or --plan")
	}

	if sf.Payload != "" {
		if !json.Valid([]byte(sf.Payload)) {
			return req, errors.New("--payload is not valid JSON")
		}
		req.Payload = json.RawMessage(sf.Payload)
	}
	if len(args) == 1 && req.Description == "" {
		req.Description = args[0]
	}
	return req, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
