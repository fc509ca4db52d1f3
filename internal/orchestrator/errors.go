package orchestrator

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCapability = errors.New("unknown capability")
	ErrUnknownNode       = errors.New("unknown node")
	ErrDuplicateNode     = errors.New("node already registered")
	ErrInvalidPlan       = errors.New("invalid plan")
	ErrInvalidSnapshot   = errors.New("invalid snapshot")
	ErrNodeTimeout       = errors.New("node timed out")
	ErrNodePanic         = errors.New("node panicked")
	ErrMaxIterations     = errors.New("refinement did not converge")
	ErrNoApprover        = errors.New("approval phase planned but no approver configured")
	ErrApprovalRejected  = errors.New("approval rejected with no iterations left")
	ErrApprovalCancelled = errors.New("approval cancelled")
	ErrApprovalTimeout   = errors.New("approval timed out")
)

// NodeError wraps a fatal failure of a non-gate node.
type NodeError struct {
	Node NodeID
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
