package hitl

import (
	"context"
	"slices"
	"time"
)

// CheckpointType is the kind of human interaction requested.
type CheckpointType string

const (
	CheckpointApproval CheckpointType = "approval"
	CheckpointReview   CheckpointType = "review"
	CheckpointEdit     CheckpointType = "edit"
	CheckpointChoice   CheckpointType = "choice"
	CheckpointConfirm  CheckpointType = "confirm"
)

// Action is what a human did in response.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionEdit    Action = "edit"
	ActionRetry   Action = "retry"
	ActionSelect  Action = "select"
	ActionConfirm Action = "confirm"
	ActionCancel  Action = "cancel"
)

// RequestStatus tracks a request from creation to its single terminal state.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusModified  RequestStatus = "modified"
	StatusSelected  RequestStatus = "selected"
	StatusCancelled RequestStatus = "cancelled"
	StatusTimeout   RequestStatus = "timeout"
)

// Terminal reports whether s is final
func (s RequestStatus) Terminal() bool {
	return s != StatusPending && s != ""
}

var allowedActions = map[CheckpointType][]Action{
	CheckpointApproval: {ActionApprove, ActionReject, ActionCancel},
	CheckpointReview:   {ActionApprove, ActionReject, ActionRetry, ActionCancel},
	CheckpointEdit:     {ActionApprove, ActionEdit, ActionReject, ActionCancel},
	CheckpointChoice:   {ActionSelect, ActionCancel},
	CheckpointConfirm:  {ActionConfirm, ActionCancel},
}

// Valid reports whether t is a known checkpoint type
func (t CheckpointType) Valid() bool {
	_, ok := allowedActions[t]
	return ok
}

// AllowedActions lists the actions a response to t may carry
func (t CheckpointType) AllowedActions() []Action {
	return slices.Clone(allowedActions[t])
}

// Allows reports whether a is a legal response to t
func (t CheckpointType) Allows(a Action) bool {
	return slices.Contains(allowedActions[t], a)
}

// statusFor maps an accepted action to the request's terminal status
func statusFor(a Action) RequestStatus {
	switch a {
	case ActionApprove, ActionConfirm:
		return StatusApproved
	case ActionReject, ActionRetry:
		return StatusRejected
	case ActionEdit:
		return StatusModified
	case ActionSelect:
		return StatusSelected
	default:
		return StatusCancelled
	}
}

// Request asks a human for input on behalf of a workflow.
type Request struct {
	ID          string            `json:"request_id"`
	WorkflowID  string            `json:"workflow_id"`
	Type        CheckpointType    `json:"checkpoint_type"`
	Title       string            `json:"title,omitempty"`
	Content     string            `json:"content"`
	Options     []string          `json:"options,omitempty"`
	AllowSkip   bool              `json:"allow_skip"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Status      RequestStatus     `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	FinalizedAt *time.Time        `json:"finalized_at,omitempty"`
}

// Response is a human's answer to a request.
type Response struct {
	RequestID       string        `json:"request_id"`
	Action          Action        `json:"action"`
	Feedback        string        `json:"feedback,omitempty"`
	ModifiedContent string        `json:"modified_content,omitempty"`
	SelectedOption  string        `json:"selected_option,omitempty"`
	RespondedBy     string        `json:"responded_by,omitempty"`
	Status          RequestStatus `json:"status,omitempty"`
	RespondedAt     time.Time     `json:"responded_at"`
}

// EventType is the kind of broadcast emitted by the manager.
type EventType string

const (
	EventRequestCreated   EventType = "request_created"
	EventResponseReceived EventType = "response_received"
	EventRequestCancelled EventType = "request_cancelled"
	EventRequestTimeout   EventType = "request_timeout"
)

// Event is broadcast to notify interested parties of request changes.
type Event struct {
	Type      EventType `json:"type"`
	Request   Request   `json:"request"`
	Response  *Response `json:"response,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster delivers events. Delivery is best-effort.
type Broadcaster interface {
	Broadcast(ctx context.Context, event Event) error
}

// BroadcasterFunc adapts a function to Broadcaster
type BroadcasterFunc func(ctx context.Context, event Event) error

// Broadcast calls f
func (f BroadcasterFunc) Broadcast(ctx context.Context, event Event) error {
	return f(ctx, event)
}
