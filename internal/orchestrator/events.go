package orchestrator

import (
	"context"
	"time"
)

// PhaseStatus is the kind of progress event.
type PhaseStatus string

const (
	PhaseStarted   PhaseStatus = "started"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
	PhaseWarning   PhaseStatus = "warning"
	PhaseWaiting   PhaseStatus = "waiting"
)

// Event reports progress of a workflow run.
type Event struct {
	WorkflowID string         `json:"workflow_id"`
	Node       NodeID         `json:"node"`
	Status     PhaseStatus    `json:"phase_status"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Iteration  int            `json:"iteration"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// EventSink receives progress events. Delivery is best-effort: a failing
// sink is logged and never stops the run.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(ctx context.Context, event Event) error

// Publish calls f
func (f EventSinkFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// ApprovalOutcome is the result of a human approval checkpoint.
type ApprovalOutcome string

const (
	ApprovalApproved  ApprovalOutcome = "approved"
	ApprovalRejected  ApprovalOutcome = "rejected"
	ApprovalCancelled ApprovalOutcome = "cancelled"
	ApprovalTimedOut  ApprovalOutcome = "timeout"
)

// ApprovalRequest asks a human to approve the current state.
type ApprovalRequest struct {
	WorkflowID string
	Iteration  int
	Summary    GateSummary
	Content    string
	Timeout    time.Duration
	AllowSkip  bool
}

// ApprovalResult is the human's answer.
type ApprovalResult struct {
	Outcome  ApprovalOutcome
	Feedback string
}

// Approver suspends a run until a human answers.
type Approver interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalResult, error)
}

// Snapshot is a resumable copy of a run after a completed phase.
type Snapshot struct {
	WorkflowID string    `json:"workflow_id"`
	LastNode   NodeID    `json:"last_node"`
	NextPhase  int       `json:"next_phase"`
	State      *State    `json:"state"`
	SavedAt    time.Time `json:"saved_at"`
}

// SnapshotStore persists snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, workflowID string, snap Snapshot) error
	Load(ctx context.Context, workflowID string) (*Snapshot, error)
}
