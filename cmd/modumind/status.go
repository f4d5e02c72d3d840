package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ab1355/ModuMind/internal/task"
)

type statusFlags struct {
	Graph    string
	Status   string
	PageSize int
	JSON     bool
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	sf := &statusFlags{}

	cmd := &cobra.Command{
		Use:   "status [task-id]",
		Short: "Show one task, or list tasks",
		Long: `With a task ID, show the task and each of its subtasks. Use --graph
mermaid or --graph json to print the subtask DAG instead. Without an ID, list
tasks known to the orchestrator.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := flags.client()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				page, err := client.List(cmd.Context(), task.Filter{
					Status:   task.Status(sf.Status),
					PageSize: sf.PageSize,
				})
				if err != nil {
					return err
				}
				if sf.JSON {
					return writeJSON(out, page)
				}
				printTaskList(out, page)
				return nil
			}

			if sf.Graph != "" {
				graph, err := client.Graph(cmd.Context(), args[0], sf.Graph)
				if err != nil {
					return err
				}
				fmt.Fprint(out, graph)
				if !strings.HasSuffix(graph, "\n") {
					fmt.Fprintln(out)
				}
				return nil
			}

			snap, err := client.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if sf.JSON {
				return writeJSON(out, snap)
			}
			printSnapshot(out, snap)
			return nil
		},
	}

	cmd.Flags().StringVar(&sf.Graph, "graph", "", "print the subtask graph: mermaid or json")
	cmd.Flags().StringVar(&sf.Status, "status", "", "list only tasks in this state")
	cmd.Flags().IntVar(&sf.PageSize, "limit", 0, "list at most this many tasks")
	cmd.Flags().BoolVar(&sf.JSON, "json", false, "print raw JSON")
	return cmd
}

func printSnapshot(w io.Writer, snap task.Snapshot) {
	t := snap.Task
	fmt.Fprintf(w, "Task: %s\nStatus: %s\n", t.ID, t.Status)
	if t.Failure != nil {
		fmt.Fprintf(w, "Failure: %s\n", t.Failure.Error())
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tCAPABILITY\tAGENT\tSTATUS\tATTEMPTS")
	for _, st := range snap.Subtasks {
		agent := st.Agent
		if agent == "" {
			agent = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", st.Step, st.Capability, agent, st.Status, st.Attempts)
	}
	tw.Flush()

	for _, r := range t.Result {
		fmt.Fprintf(w, "\n[%s] %s\n", r.Step, string(r.Output))
	}
}

func printTaskList(w io.Writer, page task.Page) {
	if len(page.Tasks) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSUBTASKS\tUPDATED")
	for _, t := range page.Tasks {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.ID, t.Status, len(t.SubtaskIDs), t.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	tw.Flush()
	if page.NextPageToken != "" {
		fmt.Fprintf(w, "(%d of %d shown)\n", len(page.Tasks), page.TotalSize)
	}
}
