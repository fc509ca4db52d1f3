package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/orchestrd/internal/hitl"
)

type hitlPendingInput struct {
	WorkflowID string `json:"workflow_id,omitempty" jsonschema:"Only requests of this workflow"`
}

type requestOutput struct {
	RequestID  string            `json:"request_id" jsonschema:"Request id"`
	WorkflowID string            `json:"workflow_id" jsonschema:"Workflow that asked"`
	Type       string            `json:"checkpoint_type" jsonschema:"approval, review, edit, choice or confirm"`
	Title      string            `json:"title,omitempty" jsonschema:"Short title"`
	Content    string            `json:"content" jsonschema:"What the human is asked about"`
	Options    []string          `json:"options,omitempty" jsonschema:"Choices for a choice checkpoint"`
	Actions    []string          `json:"actions" jsonschema:"Actions accepted by hitl_respond"`
	Metadata   map[string]string `json:"metadata,omitempty" jsonschema:"Extra context"`
	CreatedAt  string            `json:"created_at" jsonschema:"RFC3339 creation time"`
	ExpiresAt  string            `json:"expires_at,omitempty" jsonschema:"RFC3339 expiry time"`
}

func toRequestOutput(r hitl.Request) requestOutput {
	out := requestOutput{
		RequestID:  r.ID,
		WorkflowID: r.WorkflowID,
		Type:       string(r.Type),
		Title:      r.Title,
		Content:    r.Content,
		Options:    r.Options,
		Metadata:   r.Metadata,
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
	}
	for _, a := range r.Type.AllowedActions() {
		out.Actions = append(out.Actions, string(a))
	}
	if r.ExpiresAt != nil {
		out.ExpiresAt = r.ExpiresAt.Format(time.RFC3339)
	}
	return out
}

type hitlPendingOutput struct {
	Requests []requestOutput `json:"requests" jsonschema:"Pending requests, oldest first"`
	Count    int             `json:"count" jsonschema:"Number of pending requests"`
}

type hitlRespondInput struct {
	RequestID       string `json:"request_id" jsonschema:"Request to answer"`
	Action          string `json:"action" jsonschema:"approve, reject, edit, retry, select, confirm or cancel"`
	Feedback        string `json:"feedback,omitempty" jsonschema:"Free-form feedback passed to the workflow"`
	ModifiedContent string `json:"modified_content,omitempty" jsonschema:"Edited content for an edit action"`
	SelectedOption  string `json:"selected_option,omitempty" jsonschema:"Chosen option for a select action"`
	RespondedBy     string `json:"responded_by,omitempty" jsonschema:"Who answered"`
}

type hitlStatusOutput struct {
	RequestID string `json:"request_id" jsonschema:"Request id"`
	Status    string `json:"status" jsonschema:"Terminal status of the request"`
}

type hitlCancelInput struct {
	RequestID string `json:"request_id" jsonschema:"Request to cancel"`
	Reason    string `json:"reason,omitempty" jsonschema:"Why it is cancelled"`
}

func (s *Server) registerHITLTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "hitl_pending",
		Description: "List human checkpoint requests waiting for an answer",
	}, instrument(s, "hitl_pending", func(ctx context.Context, req *mcp.CallToolRequest, args hitlPendingInput) (*mcp.CallToolResult, hitlPendingOutput, error) {
		out := hitlPendingOutput{Requests: []requestOutput{}}
		for _, r := range s.hitl.GetPendingRequests(args.WorkflowID) {
			out.Requests = append(out.Requests, toRequestOutput(r))
		}
		out.Count = len(out.Requests)
		return text("Found %d pending requests", out.Count), out, nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "hitl_respond",
		Description: "Answer a pending human checkpoint request",
	}, instrument(s, "hitl_respond", func(ctx context.Context, req *mcp.CallToolRequest, args hitlRespondInput) (*mcp.CallToolResult, hitlStatusOutput, error) {
		resp := hitl.Response{
			RequestID:       args.RequestID,
			Action:          hitl.Action(args.Action),
			Feedback:        args.Feedback,
			ModifiedContent: args.ModifiedContent,
			SelectedOption:  args.SelectedOption,
			RespondedBy:     args.RespondedBy,
			RespondedAt:     time.Now().UTC(),
		}
		if resp.RespondedBy == "" {
			resp.RespondedBy = "mcp"
		}
		if err := s.hitl.Respond(resp); err != nil {
			return nil, hitlStatusOutput{}, err
		}
		out := hitlStatusOutput{RequestID: args.RequestID}
		if r, ok := s.hitl.Get(args.RequestID); ok {
			out.Status = string(r.Status)
		}
		return text("Request %s %s", out.RequestID, out.Status), out, nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "hitl_cancel",
		Description: "Cancel a pending human checkpoint request",
	}, instrument(s, "hitl_cancel", func(ctx context.Context, req *mcp.CallToolRequest, args hitlCancelInput) (*mcp.CallToolResult, hitlStatusOutput, error) {
		reason := args.Reason
		if reason == "" {
			reason = "cancelled via mcp"
		}
		if !s.hitl.CancelRequest(args.RequestID, reason) {
			if _, ok := s.hitl.Get(args.RequestID); ok {
				return nil, hitlStatusOutput{}, fmt.Errorf("%w: %s", hitl.ErrAlreadyFinalized, args.RequestID)
			}
			return nil, hitlStatusOutput{}, fmt.Errorf("%w: %s", hitl.ErrUnknownRequest, args.RequestID)
		}
		return text("Request %s cancelled", args.RequestID), hitlStatusOutput{RequestID: args.RequestID, Status: string(hitl.StatusCancelled)}, nil
	}))
}
