package http

import (
	"github.com/fyrsmithlabs/orchestrd/internal/hitl"
	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
	"github.com/fyrsmithlabs/orchestrd/internal/runner"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version,omitempty"`
	Workflows       int    `json:"workflows"`
	Running         int    `json:"running"`
	PendingRequests int    `json:"pending_requests"`
	EventStream     bool   `json:"event_stream"`
}

// PlanResponse is the response body for POST /api/v1/plan.
type PlanResponse struct {
	Plan     orchestrator.Plan `json:"plan"`
	Rendered string            `json:"rendered"`
}

// WorkflowList is the response body for GET /api/v1/workflows.
type WorkflowList struct {
	Workflows []runner.Workflow `json:"workflows"`
}

// CancelRequest is the optional body of the cancel endpoints.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// RequestList is the response body for GET /api/v1/hitl/requests.
type RequestList struct {
	Requests []hitl.Request `json:"requests"`
}

// RespondResult is the response body for POST /api/v1/hitl/requests/:id/respond.
type RespondResult struct {
	RequestID string             `json:"request_id"`
	Status    hitl.RequestStatus `json:"status"`
}
