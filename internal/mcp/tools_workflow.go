package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
	"github.com/fyrsmithlabs/orchestrd/internal/runner"
)

var errInvalidInput = errors.New("invalid input")

// maxWait bounds workflow_start's optional blocking wait
const maxWait = 10 * time.Minute

type analysisInput struct {
	Capabilities          []string `json:"capabilities" jsonschema:"Capabilities the task needs: implementation, review, security, testing, refinement"`
	Strategy              string   `json:"strategy,omitempty" jsonschema:"linear, parallel_gates, adaptive_loop or staged_approval (default parallel_gates)"`
	RequiresHumanApproval bool     `json:"requires_human_approval,omitempty" jsonschema:"Add a human approval checkpoint after the gates"`
	MaxIterations         int      `json:"max_iterations,omitempty" jsonschema:"Refinement iteration budget (default 3)"`
}

func (a analysisInput) analysis() (orchestrator.Analysis, error) {
	caps, err := orchestrator.ParseCapabilities(a.Capabilities)
	if err != nil {
		return orchestrator.Analysis{}, fmt.Errorf("%w: %w", errInvalidInput, err)
	}
	if a.MaxIterations < 0 {
		return orchestrator.Analysis{}, fmt.Errorf("%w: max_iterations cannot be negative", errInvalidInput)
	}
	return orchestrator.Analysis{
		RequiredCapabilities:  caps,
		Strategy:              a.Strategy,
		RequiresHumanApproval: a.RequiresHumanApproval,
		MaxIterations:         a.MaxIterations,
	}, nil
}

type planOutput struct {
	Strategy      string   `json:"strategy" jsonschema:"Strategy the plan was built for"`
	Plan          string   `json:"plan" jsonschema:"Rendered plan, phases joined by arrows"`
	Nodes         []string `json:"nodes" jsonschema:"Every node in execution order"`
	MaxIterations int      `json:"max_iterations" jsonschema:"Refinement iteration budget"`
	HasLoop       bool     `json:"has_loop" jsonschema:"True if the plan can refine and retry"`
}

type artifactInput struct {
	Path     string `json:"path" jsonschema:"Relative file path"`
	Content  string `json:"content" jsonschema:"File content"`
	Language string `json:"language,omitempty" jsonschema:"Language hint"`
}

type workflowStartInput struct {
	Task                  string          `json:"task" jsonschema:"Task description"`
	WorkflowID            string          `json:"workflow_id,omitempty" jsonschema:"Workflow id of letters, digits, _, = and - (generated if empty)"`
	Capabilities          []string        `json:"capabilities" jsonschema:"Capabilities the task needs: implementation, review, security, testing, refinement"`
	Strategy              string          `json:"strategy,omitempty" jsonschema:"linear, parallel_gates, adaptive_loop or staged_approval (default parallel_gates)"`
	RequiresHumanApproval bool            `json:"requires_human_approval,omitempty" jsonschema:"Add a human approval checkpoint after the gates"`
	MaxIterations         int             `json:"max_iterations,omitempty" jsonschema:"Refinement iteration budget (default 3)"`
	Artifacts             []artifactInput `json:"artifacts,omitempty" jsonschema:"Initial artifacts"`
	WaitSeconds           int             `json:"wait_seconds,omitempty" jsonschema:"Block until the workflow finishes or this many seconds pass"`
}

func (in workflowStartInput) analysis() (orchestrator.Analysis, error) {
	return analysisInput{
		Capabilities:          in.Capabilities,
		Strategy:              in.Strategy,
		RequiresHumanApproval: in.RequiresHumanApproval,
		MaxIterations:         in.MaxIterations,
	}.analysis()
}

type workflowOutput struct {
	WorkflowID    string   `json:"workflow_id" jsonschema:"Workflow id"`
	Task          string   `json:"task" jsonschema:"Task description"`
	Strategy      string   `json:"strategy" jsonschema:"Planned strategy"`
	Plan          string   `json:"plan" jsonschema:"Rendered plan"`
	Status        string   `json:"status" jsonschema:"running, self_healing, completed or failed"`
	CurrentNode   string   `json:"current_node,omitempty" jsonschema:"Node currently executing"`
	Iteration     int      `json:"refinement_iteration" jsonschema:"Refinement iterations used"`
	MaxIterations int      `json:"max_iterations" jsonschema:"Refinement iteration budget"`
	Decision      string   `json:"decision,omitempty" jsonschema:"Last aggregator decision"`
	Done          bool     `json:"done" jsonschema:"True once the run has finished"`
	Error         string   `json:"error,omitempty" jsonschema:"Failure reason"`
	Commit        string   `json:"commit,omitempty" jsonschema:"Commit recorded by persistence"`
	Feedback      []string `json:"feedback,omitempty" jsonschema:"Accumulated gate and reviewer feedback"`
}

func toWorkflowOutput(w runner.Workflow) workflowOutput {
	out := workflowOutput{
		WorkflowID:    w.ID,
		Task:          w.Task,
		Strategy:      string(w.Strategy),
		Plan:          w.Plan,
		Status:        string(w.Status),
		CurrentNode:   string(w.CurrentNode),
		Iteration:     w.Iteration,
		MaxIterations: w.MaxIterations,
		Decision:      string(w.Decision),
		Done:          w.Done(),
		Error:         w.Error,
	}
	if w.State != nil {
		out.Commit = w.State.Data["commit"]
		out.Feedback = w.State.Feedback
	}
	return out
}

type workflowStatusInput struct {
	WorkflowID string `json:"workflow_id,omitempty" jsonschema:"Workflow id; empty lists every workflow"`
}

type workflowStatusOutput struct {
	Workflows []workflowOutput `json:"workflows" jsonschema:"Matching workflows, oldest first"`
	Count     int              `json:"count" jsonschema:"Number of workflows returned"`
}

type workflowCancelInput struct {
	WorkflowID string `json:"workflow_id" jsonschema:"Workflow to cancel"`
	Reason     string `json:"reason,omitempty" jsonschema:"Why it is cancelled"`
}

func (s *Server) registerWorkflowTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_plan",
		Description: "Preview the execution plan for a set of capabilities and a strategy without running it",
	}, instrument(s, "workflow_plan", func(ctx context.Context, req *mcp.CallToolRequest, args analysisInput) (*mcp.CallToolResult, planOutput, error) {
		a, err := args.analysis()
		if err != nil {
			return nil, planOutput{}, err
		}
		plan, err := s.runner.Plan(a)
		if err != nil {
			return nil, planOutput{}, err
		}
		out := planOutput{
			Strategy:      string(plan.Strategy),
			Plan:          plan.String(),
			MaxIterations: plan.MaxIterations,
			HasLoop:       plan.Loop != nil,
			Nodes:         []string{},
		}
		for _, id := range plan.Nodes() {
			out.Nodes = append(out.Nodes, string(id))
		}
		return text("Plan (%s): %s", out.Strategy, out.Plan), out, nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_start",
		Description: "Plan and start a workflow in the background, optionally waiting for it to finish",
	}, instrument(s, "workflow_start", func(ctx context.Context, req *mcp.CallToolRequest, args workflowStartInput) (*mcp.CallToolResult, workflowOutput, error) {
		a, err := args.analysis()
		if err != nil {
			return nil, workflowOutput{}, err
		}
		start := runner.StartRequest{WorkflowID: args.WorkflowID, Task: args.Task, Analysis: a}
		for _, art := range args.Artifacts {
			start.Artifacts = append(start.Artifacts, orchestrator.Artifact(art))
		}
		w, err := s.runner.Start(ctx, start)
		if err != nil {
			return nil, workflowOutput{}, err
		}

		if args.WaitSeconds > 0 {
			wait := min(time.Duration(args.WaitSeconds)*time.Second, maxWait)
			waitCtx, cancel := context.WithTimeout(ctx, wait)
			defer cancel()
			if done, err := s.runner.Wait(waitCtx, w.ID); err == nil {
				w = done
			} else if cur, ok := s.runner.Get(w.ID); ok {
				w = cur
			}
		}
		out := toWorkflowOutput(w)
		return text("Workflow %s %s: %s", out.WorkflowID, out.Status, out.Plan), out, nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_status",
		Description: "Get the status of one workflow, or list all workflows",
	}, instrument(s, "workflow_status", func(ctx context.Context, req *mcp.CallToolRequest, args workflowStatusInput) (*mcp.CallToolResult, workflowStatusOutput, error) {
		out := workflowStatusOutput{Workflows: []workflowOutput{}}
		if args.WorkflowID != "" {
			w, ok := s.runner.Get(args.WorkflowID)
			if !ok {
				return nil, out, fmt.Errorf("%w: %s", runner.ErrWorkflowNotFound, args.WorkflowID)
			}
			out.Workflows = []workflowOutput{toWorkflowOutput(w)}
		} else {
			for _, w := range s.runner.List() {
				out.Workflows = append(out.Workflows, toWorkflowOutput(w))
			}
		}
		out.Count = len(out.Workflows)
		if out.Count == 1 {
			w := out.Workflows[0]
			return text("Workflow %s: %s (iteration %d/%d)", w.WorkflowID, w.Status, w.Iteration, w.MaxIterations), out, nil
		}
		return text("Found %d workflows", out.Count), out, nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_cancel",
		Description: "Cancel a running workflow and its pending human checkpoints",
	}, instrument(s, "workflow_cancel", func(ctx context.Context, req *mcp.CallToolRequest, args workflowCancelInput) (*mcp.CallToolResult, workflowOutput, error) {
		if err := s.runner.Cancel(args.WorkflowID, args.Reason); err != nil {
			return nil, workflowOutput{}, err
		}
		w, _ := s.runner.Get(args.WorkflowID)
		return text("Workflow %s cancelled", args.WorkflowID), toWorkflowOutput(w), nil
	}))
}
