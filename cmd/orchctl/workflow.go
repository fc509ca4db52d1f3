package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/orchestrd/internal/client"
	"github.com/fyrsmithlabs/orchestrd/internal/hitl"
	"github.com/fyrsmithlabs/orchestrd/internal/monitor"
	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
	"github.com/fyrsmithlabs/orchestrd/internal/runner"
)

var (
	// analysis flags shared by plan, start and resume
	wfCapabilities  []string
	wfStrategy      string
	wfApproval      bool
	wfMaxIterations int

	// start flags
	wfID        string
	wfArtifacts []string
	wfFollow    bool

	// cancel flags
	wfReason string
)

func init() {
	rootCmd.AddCommand(planCmd, startCmd, statusCmd, cancelCmd, resumeCmd, eventsCmd)

	for _, c := range []*cobra.Command{planCmd, startCmd, resumeCmd} {
		c.Flags().StringSliceVar(&wfCapabilities, "capability", capabilityNames(), "required capabilities")
		c.Flags().StringVar(&wfStrategy, "strategy", string(orchestrator.DefaultStrategy), "linear, parallel_gates, adaptive_loop or staged_approval")
		c.Flags().BoolVar(&wfApproval, "approval", false, "require human approval before persistence")
		c.Flags().IntVar(&wfMaxIterations, "max-iterations", 0, "refinement limit (0 uses the server default)")
	}

	startCmd.Flags().StringVar(&wfID, "id", "", "workflow id (generated when empty)")
	startCmd.Flags().StringArrayVar(&wfArtifacts, "artifact", nil, "file to seed the workflow with (repeatable)")
	startCmd.Flags().BoolVarP(&wfFollow, "follow", "f", false, "stream events until the workflow finishes")

	cancelCmd.Flags().StringVar(&wfReason, "reason", "", "cancellation reason")
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview the plan for a task analysis",
	Long: `Build a plan without running it.

Examples:
  # Plan every capability with parallel gates
  orchctl plan

  # Plan a review-only loop with approval
  orchctl plan --capability implementation,review --strategy adaptive_loop --approval`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

var startCmd = &cobra.Command{
	Use:   "start <task>",
	Short: "Start a workflow",
	Long: `Plan and start a workflow for a task.

Examples:
  # Start and follow a workflow
  orchctl start "add retry to the uploader" -f

  # Seed the coder with existing files
  orchctl start "tighten validation" --artifact internal/api/validate.go`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status [workflow-id]",
	Short: "List workflows or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <workflow-id>",
	Short: "Cancel a running workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <workflow-id>",
	Short: "Resume a workflow from its last checkpoint",
	Long: `Resume a workflow from its last persisted snapshot. The analysis flags must
describe the same plan the workflow was started with.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

var eventsCmd = &cobra.Command{
	Use:   "events <workflow-id>",
	Short: "Stream a workflow's events until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

func capabilityNames() []string {
	all := orchestrator.AllCapabilities()
	names := make([]string, len(all))
	for i, c := range all {
		names[i] = string(c)
	}
	return names
}

func buildAnalysis() (orchestrator.Analysis, error) {
	caps, err := orchestrator.ParseCapabilities(wfCapabilities)
	if err != nil {
		return orchestrator.Analysis{}, err
	}
	return orchestrator.Analysis{
		RequiredCapabilities:  caps,
		Strategy:              wfStrategy,
		RequiresHumanApproval: wfApproval,
		MaxIterations:         wfMaxIterations,
	}, nil
}

func readArtifacts(paths []string) ([]orchestrator.Artifact, error) {
	out := make([]orchestrator.Artifact, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read artifact %s: %w", p, err)
		}
		out = append(out, orchestrator.Artifact{Path: p, Content: string(content)})
	}
	return out, nil
}

func runPlan(cmd *cobra.Command, _ []string) error {
	a, err := buildAnalysis()
	if err != nil {
		return err
	}
	resp, err := newClient().Plan(cmd.Context(), a)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Rendered)
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	a, err := buildAnalysis()
	if err != nil {
		return err
	}
	artifacts, err := readArtifacts(wfArtifacts)
	if err != nil {
		return err
	}
	c := newClient()
	wf, err := c.StartWorkflow(cmd.Context(), runner.StartRequest{
		WorkflowID: wfID,
		Task:       args[0],
		Analysis:   a,
		Artifacts:  artifacts,
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if outputJSON && !wfFollow {
		return printJSON(out, wf)
	}
	fmt.Fprintf(out, "Started %s (%s)\n", wf.ID, wf.Strategy)
	if !wfFollow {
		return nil
	}
	return followEvents(cmd, c, wf.ID)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := newClient()
	out := cmd.OutOrStdout()
	if len(args) == 1 {
		wf, err := c.GetWorkflow(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(out, wf)
		}
		printWorkflow(out, wf)
		return nil
	}

	wfs, err := c.ListWorkflows(cmd.Context())
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(out, wfs)
	}
	if len(wfs) == 0 {
		fmt.Fprintln(out, "No workflows.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTRATEGY\tNODE\tITERATION\tAGE\tTASK")
	for _, wf := range wfs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			wf.ID, wf.Status, wf.Strategy, dash(string(wf.CurrentNode)),
			monitor.FormatIteration(wf.Iteration, wf.MaxIterations),
			monitor.FormatDuration(time.Since(wf.StartedAt)),
			monitor.Truncate(wf.Task, 40))
	}
	return w.Flush()
}

func printWorkflow(out io.Writer, wf runner.Workflow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", wf.ID)
	fmt.Fprintf(w, "Task:\t%s\n", wf.Task)
	fmt.Fprintf(w, "Status:\t%s\n", wf.Status)
	fmt.Fprintf(w, "Strategy:\t%s\n", wf.Strategy)
	fmt.Fprintf(w, "Node:\t%s\n", dash(string(wf.CurrentNode)))
	fmt.Fprintf(w, "Iteration:\t%s\n", monitor.FormatIteration(wf.Iteration, wf.MaxIterations))
	fmt.Fprintf(w, "Gates passed:\t%d\n", wf.Passes)
	if wf.Decision != "" {
		fmt.Fprintf(w, "Decision:\t%s\n", wf.Decision)
	}
	if wf.Error != "" {
		fmt.Fprintf(w, "Error:\t%s\n", wf.Error)
	}
	fmt.Fprintf(w, "Started:\t%s\n", wf.StartedAt.Format(time.RFC3339))
	if wf.FinishedAt != nil {
		fmt.Fprintf(w, "Duration:\t%s\n", monitor.FormatDuration(wf.FinishedAt.Sub(wf.StartedAt)))
	}
	_ = w.Flush()
	if wf.Plan != "" {
		fmt.Fprintf(out, "\n%s\n", wf.Plan)
	}
}

func runCancel(cmd *cobra.Command, args []string) error {
	wf, err := newClient().CancelWorkflow(cmd.Context(), args[0], wfReason)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), wf)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s (%s)\n", wf.ID, wf.Status)
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := buildAnalysis()
	if err != nil {
		return err
	}
	wf, err := newClient().ResumeWorkflow(cmd.Context(), args[0], a)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), wf)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Resumed %s at iteration %s\n", wf.ID, monitor.FormatIteration(wf.Iteration, wf.MaxIterations))
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	return followEvents(cmd, newClient(), args[0])
}

// followEvents prints the workflow's event stream. A failed workflow makes
// the command fail.
func followEvents(cmd *cobra.Command, c *client.Client, id string) error {
	out := cmd.OutOrStdout()
	var final runner.Workflow
	err := c.StreamEvents(cmd.Context(), id, func(ev client.Event) error {
		if outputJSON {
			fmt.Fprintf(out, "{\"event\":%q,\"data\":%s}\n", ev.Name, ev.Data)
		} else {
			fmt.Fprintln(out, formatEvent(ev))
		}
		if ev.Done() {
			return json.Unmarshal(ev.Data, &final)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if final.Status == orchestrator.StatusFailed {
		return fmt.Errorf("workflow %s failed: %s", final.ID, final.Error)
	}
	return nil
}

// formatEvent renders one stream event as a single line
func formatEvent(ev client.Event) string {
	switch {
	case ev.Done():
		var wf runner.Workflow
		if err := json.Unmarshal(ev.Data, &wf); err != nil {
			return "done"
		}
		line := fmt.Sprintf("done      %s", wf.Status)
		if wf.Decision != "" {
			line += " (" + string(wf.Decision) + ")"
		}
		if wf.Error != "" {
			line += ": " + wf.Error
		}
		return line

	case strings.HasPrefix(ev.Name, "hitl."):
		var hev hitl.Event
		if err := json.Unmarshal(ev.Data, &hev); err != nil {
			return ev.Name
		}
		line := fmt.Sprintf("%-9s %s %s", ev.Name, hev.Request.ID, hev.Request.Status)
		if hev.Request.Title != "" {
			line += ": " + hev.Request.Title
		}
		return line

	default:
		var e orchestrator.Event
		if err := json.Unmarshal(ev.Data, &e); err != nil {
			return ev.Name
		}
		line := fmt.Sprintf("%-9s %-14s iter %d", e.Status, e.Node, e.Iteration)
		if e.DurationMS > 0 {
			line += fmt.Sprintf(" %dms", e.DurationMS)
		}
		if e.Message != "" {
			line += "  " + e.Message
		}
		return line
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
