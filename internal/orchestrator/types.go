package orchestrator

import (
	"fmt"
	"strings"
)

// Capability is a unit of work the triage step can ask for.
type Capability string

const (
	CapabilityImplementation Capability = "implementation"
	CapabilityReview         Capability = "review"
	CapabilitySecurity       Capability = "security"
	CapabilityTesting        Capability = "testing"
	CapabilityRefinement     Capability = "refinement"
)

// AllCapabilities returns every capability in declaration order
func AllCapabilities() []Capability {
	return []Capability{
		CapabilityImplementation,
		CapabilityReview,
		CapabilitySecurity,
		CapabilityTesting,
		CapabilityRefinement,
	}
}

// ParseCapability converts a string into a Capability
func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllCapabilities() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCapability, s)
}

// ParseCapabilities converts a list of strings, failing on the first unknown entry
func ParseCapabilities(in []string) ([]Capability, error) {
	out := make([]Capability, 0, len(in))
	for _, s := range in {
		c, err := ParseCapability(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Strategy selects the topology the planner builds.
type Strategy string

const (
	StrategyLinear         Strategy = "linear"
	StrategyParallelGates  Strategy = "parallel_gates"
	StrategyAdaptiveLoop   Strategy = "adaptive_loop"
	StrategyStagedApproval Strategy = "staged_approval"
)

// DefaultStrategy is used when the requested strategy is unknown
const DefaultStrategy = StrategyParallelGates

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLinear, StrategyParallelGates, StrategyAdaptiveLoop, StrategyStagedApproval:
		return true
	}
	return false
}

// ParseStrategy normalizes s and reports whether it named a known strategy.
// Unknown values return DefaultStrategy and false.
func ParseStrategy(s string) (Strategy, bool) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if st.Valid() {
		return st, true
	}
	return DefaultStrategy, false
}

// NodeID names a node in a plan.
type NodeID string

const (
	NodeCoder        NodeID = "coder"
	NodeReviewer     NodeID = "reviewer"
	NodeSecurityGate NodeID = "security_gate"
	NodeQAGate       NodeID = "qa_gate"
	NodeAggregator   NodeID = "aggregator"
	NodeRefiner      NodeID = "refiner"
	NodePersistence  NodeID = "persistence"
	NodeApproval     NodeID = "human_approval"
)

// IsGate reports whether id is one of the quality gates
func (id NodeID) IsGate() bool {
	switch id {
	case NodeReviewer, NodeSecurityGate, NodeQAGate:
		return true
	}
	return false
}

// builtin reports whether the engine runs id itself instead of looking it up
func (id NodeID) builtin() bool {
	return id == NodeAggregator || id == NodeApproval
}

// NodeForCapability maps a capability to the node that provides it
func NodeForCapability(c Capability) (NodeID, bool) {
	switch c {
	case CapabilityImplementation:
		return NodeCoder, true
	case CapabilityReview:
		return NodeReviewer, true
	case CapabilitySecurity:
		return NodeSecurityGate, true
	case CapabilityTesting:
		return NodeQAGate, true
	case CapabilityRefinement:
		return NodeRefiner, true
	}
	return "", false
}

// Status is the lifecycle status of a workflow run.
type Status string

const (
	StatusRunning     Status = "running"
	StatusSelfHealing Status = "self_healing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transitions are possible
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Decision is the aggregator verdict after a gate phase.
type Decision string

const (
	DecisionApprove       Decision = "approve"
	DecisionRefine        Decision = "refine"
	DecisionMaxIterations Decision = "max_iterations"
)

// GateResult is the verdict of one quality gate.
type GateResult struct {
	NodeID   NodeID   `json:"node_id"`
	Approved bool     `json:"approved"`
	Score    *float64 `json:"score,omitempty"`
	Issues   []string `json:"issues,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Failed reports whether the gate errored rather than producing a verdict
func (g GateResult) Failed() bool {
	return g.Error != ""
}

func (g GateResult) clone() GateResult {
	out := g
	if g.Score != nil {
		score := *g.Score
		out.Score = &score
	}
	out.Issues = append([]string(nil), g.Issues...)
	return out
}

// Analysis is the triage output the planner consumes.
type Analysis struct {
	RequiredCapabilities  []Capability `json:"required_capabilities"`
	Strategy              string       `json:"strategy"`
	RequiresHumanApproval bool         `json:"requires_human_approval"`
	MaxIterations         int          `json:"max_iterations,omitempty"`
}

// MaxIterationsPolicy decides what happens when refinement does not converge.
type MaxIterationsPolicy string

const (
	// MaxIterationsForceApprove continues to persistence and marks the state as force-approved
	MaxIterationsForceApprove MaxIterationsPolicy = "force_approve"
	// MaxIterationsFail terminates the run as failed
	MaxIterationsFail MaxIterationsPolicy = "fail"
)

// ApprovalTimeoutPolicy decides what an unanswered approval checkpoint means.
type ApprovalTimeoutPolicy string

const (
	ApprovalTimeoutFail    ApprovalTimeoutPolicy = "fail"
	ApprovalTimeoutApprove ApprovalTimeoutPolicy = "approve"
)
