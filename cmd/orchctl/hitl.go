package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/orchestrd/internal/hitl"
	"github.com/fyrsmithlabs/orchestrd/internal/monitor"
)

var (
	pendingWorkflow string

	respondAction   string
	respondFeedback string
	respondContent  string
	respondOption   string
	respondBy       string

	dismissReason string
)

func init() {
	rootCmd.AddCommand(pendingCmd, showCmd, respondCmd, dismissCmd)

	pendingCmd.Flags().StringVar(&pendingWorkflow, "workflow", "", "only show requests for this workflow")

	respondCmd.Flags().StringVar(&respondAction, "action", string(hitl.ActionApprove), "approve, reject, edit, retry, select, confirm or cancel")
	respondCmd.Flags().StringVar(&respondFeedback, "feedback", "", "feedback passed to the refiner on reject")
	respondCmd.Flags().StringVar(&respondContent, "content", "", "replacement content for edit (use @file to read a file)")
	respondCmd.Flags().StringVar(&respondOption, "option", "", "chosen option for select")
	respondCmd.Flags().StringVar(&respondBy, "by", os.Getenv("USER"), "responder name")

	dismissCmd.Flags().StringVar(&dismissReason, "reason", "", "cancellation reason")
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List human checkpoints waiting for a response",
	Args:  cobra.NoArgs,
	RunE:  runPending,
}

var showCmd = &cobra.Command{
	Use:   "show <request-id>",
	Short: "Show a human checkpoint request",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var respondCmd = &cobra.Command{
	Use:   "respond <request-id>",
	Short: "Answer a human checkpoint",
	Long: `Answer a pending human checkpoint.

Examples:
  # Approve
  orchctl respond 3f2c...

  # Reject with feedback for the refiner
  orchctl respond 3f2c... --action reject --feedback "handle the empty input case"

  # Replace the reviewed content
  orchctl respond 3f2c... --action edit --content @fixed.go`,
	Args: cobra.ExactArgs(1),
	RunE: runRespond,
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss <request-id>",
	Short: "Cancel a pending human checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runDismiss,
}

func runPending(cmd *cobra.Command, _ []string) error {
	reqs, err := newClient().PendingRequests(cmd.Context(), pendingWorkflow)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if outputJSON {
		return printJSON(out, reqs)
	}
	if len(reqs) == 0 {
		fmt.Fprintln(out, "No pending checkpoints.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REQUEST\tWORKFLOW\tTYPE\tEXPIRES\tTITLE")
	for _, r := range reqs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.WorkflowID, r.Type, expiresIn(r), monitor.Truncate(r.Title, 50))
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	r, err := newClient().GetRequest(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), r)
	}
	printRequest(cmd.OutOrStdout(), r)
	return nil
}

func printRequest(out io.Writer, r hitl.Request) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Request:\t%s\n", r.ID)
	fmt.Fprintf(w, "Workflow:\t%s\n", r.WorkflowID)
	fmt.Fprintf(w, "Type:\t%s\n", r.Type)
	fmt.Fprintf(w, "Status:\t%s\n", r.Status)
	if r.Title != "" {
		fmt.Fprintf(w, "Title:\t%s\n", r.Title)
	}
	if len(r.Options) > 0 {
		fmt.Fprintf(w, "Options:\t%s\n", strings.Join(r.Options, ", "))
	}
	if r.Status == hitl.StatusPending {
		fmt.Fprintf(w, "Expires:\t%s\n", expiresIn(r))
	}
	_ = w.Flush()
	if r.Content != "" {
		fmt.Fprintf(out, "\n%s\n", r.Content)
	}
}

func runRespond(cmd *cobra.Command, args []string) error {
	content := respondContent
	if path, ok := strings.CutPrefix(content, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		content = string(data)
	}

	result, err := newClient().Respond(cmd.Context(), hitl.Response{
		RequestID:       args[0],
		Action:          hitl.Action(respondAction),
		Feedback:        respondFeedback,
		ModifiedContent: content,
		SelectedOption:  respondOption,
		RespondedBy:     respondBy,
	})
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Request %s %s\n", result.RequestID, result.Status)
	return nil
}

func runDismiss(cmd *cobra.Command, args []string) error {
	r, err := newClient().CancelRequest(cmd.Context(), args[0], dismissReason)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), r)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Request %s %s\n", r.ID, r.Status)
	return nil
}

func expiresIn(r hitl.Request) string {
	if r.ExpiresAt == nil {
		return "never"
	}
	return monitor.FormatDuration(time.Until(*r.ExpiresAt))
}
