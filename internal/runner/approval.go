package runner

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/orchestrd/internal/hitl"
	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

// Approver routes engine approval checkpoints through the HITL manager.
type Approver struct {
	manager *hitl.Manager
}

// NewApprover creates an approver backed by m
func NewApprover(m *hitl.Manager) *Approver {
	return &Approver{manager: m}
}

// RequestApproval implements orchestrator.Approver
func (a *Approver) RequestApproval(ctx context.Context, req orchestrator.ApprovalRequest) (orchestrator.ApprovalResult, error) {
	resp, err := a.manager.RequestHumanInput(ctx, hitl.Request{
		WorkflowID: req.WorkflowID,
		Type:       hitl.CheckpointApproval,
		Title:      fmt.Sprintf("Approve workflow %s (iteration %d)", req.WorkflowID, req.Iteration),
		Content:    req.Content,
		AllowSkip:  req.AllowSkip,
		Timeout:    req.Timeout,
		Metadata: map[string]string{
			"iteration":      strconv.Itoa(req.Iteration),
			"gates_approved": joinNodes(req.Summary.Approved),
			"gates_rejected": joinNodes(req.Summary.Rejected),
			"gates_errored":  joinNodes(req.Summary.Errored),
		},
	})
	return orchestrator.ApprovalResult{Outcome: outcomeFor(resp.Status), Feedback: resp.Feedback}, err
}

func joinNodes(ids []orchestrator.NodeID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

func outcomeFor(status hitl.RequestStatus) orchestrator.ApprovalOutcome {
	switch status {
	case hitl.StatusApproved, hitl.StatusModified, hitl.StatusSelected:
		return orchestrator.ApprovalApproved
	case hitl.StatusRejected:
		return orchestrator.ApprovalRejected
	case hitl.StatusTimeout:
		return orchestrator.ApprovalTimedOut
	default:
		return orchestrator.ApprovalCancelled
	}
}
