package orchestrator

import (
	"fmt"
	"strings"
)

// PhaseKind identifies how the engine executes a phase.
type PhaseKind string

const (
	PhaseNode      PhaseKind = "node"
	PhaseGates     PhaseKind = "gates"
	PhaseAggregate PhaseKind = "aggregate"
	PhaseApproval  PhaseKind = "approval"
)

// Phase is one step of a plan.
type Phase struct {
	Kind  PhaseKind `json:"kind"`
	Nodes []NodeID  `json:"nodes"`
	// Concurrent is only meaningful for gate phases
	Concurrent bool `json:"concurrent,omitempty"`
}

// Loop is the refine back-edge taken when the aggregator asks for another pass.
type Loop struct {
	// Refiner runs before jumping back; empty when refinement was not requested
	Refiner NodeID `json:"refiner,omitempty"`
	// Target is the first node re-executed
	Target NodeID `json:"target"`
}

// Plan is the static topology the engine interprets.
type Plan struct {
	Strategy      Strategy `json:"strategy"`
	Phases        []Phase  `json:"phases"`
	Loop          *Loop    `json:"loop,omitempty"`
	MaxIterations int      `json:"max_iterations"`
}

// Empty reports whether the plan has nothing to run
func (p Plan) Empty() bool {
	return len(p.Phases) == 0
}

// Nodes returns every node id in the plan, refiner included, in execution order
func (p Plan) Nodes() []NodeID {
	var ids []NodeID
	for _, ph := range p.Phases {
		ids = append(ids, ph.Nodes...)
	}
	if p.Loop != nil && p.Loop.Refiner != "" {
		ids = append(ids, p.Loop.Refiner)
	}
	return ids
}

// Has reports whether id appears anywhere in the plan
func (p Plan) Has(id NodeID) bool {
	for _, n := range p.Nodes() {
		if n == id {
			return true
		}
	}
	return false
}

// GateNodes returns the nodes of the gate phase, or nil
func (p Plan) GateNodes() []NodeID {
	for _, ph := range p.Phases {
		if ph.Kind == PhaseGates {
			return ph.Nodes
		}
	}
	return nil
}

// PhaseIndex returns the index of the phase containing id, or -1
func (p Plan) PhaseIndex(id NodeID) int {
	for i, ph := range p.Phases {
		for _, n := range ph.Nodes {
			if n == id {
				return i
			}
		}
	}
	return -1
}

// Validate checks the structural invariants of the plan
func (p Plan) Validate() error {
	seen := make(map[NodeID]bool)
	for _, id := range p.Nodes() {
		if seen[id] {
			return fmt.Errorf("%w: node %s appears more than once", ErrInvalidPlan, id)
		}
		seen[id] = true
	}

	gates := p.GateNodes()
	if (len(gates) > 0) != seen[NodeAggregator] {
		return fmt.Errorf("%w: aggregator must be present exactly when gates are", ErrInvalidPlan)
	}
	for _, g := range gates {
		if !g.IsGate() {
			return fmt.Errorf("%w: %s is not a quality gate", ErrInvalidPlan, g)
		}
	}

	if seen[NodeCoder] != seen[NodePersistence] {
		return fmt.Errorf("%w: persistence must be present exactly when coder is", ErrInvalidPlan)
	}
	if seen[NodePersistence] {
		last := p.Phases[len(p.Phases)-1]
		if len(last.Nodes) != 1 || last.Nodes[0] != NodePersistence {
			return fmt.Errorf("%w: persistence must be the last phase", ErrInvalidPlan)
		}
	}

	for i, ph := range p.Phases {
		if len(ph.Nodes) == 0 {
			return fmt.Errorf("%w: phase %d has no nodes", ErrInvalidPlan, i)
		}
		if ph.Kind != PhaseGates && len(ph.Nodes) != 1 {
			return fmt.Errorf("%w: %s phase %d must have exactly one node", ErrInvalidPlan, ph.Kind, i)
		}
	}

	if p.Loop != nil {
		if !seen[NodeAggregator] {
			return fmt.Errorf("%w: refine loop without aggregator", ErrInvalidPlan)
		}
		if p.PhaseIndex(p.Loop.Target) < 0 {
			return fmt.Errorf("%w: loop target %s not in plan", ErrInvalidPlan, p.Loop.Target)
		}
	}
	return nil
}

// String renders the plan as a one-line topology,
// e.g. "coder → {reviewer|security_gate} → aggregator → persistence"
func (p Plan) String() string {
	if p.Empty() {
		return "(empty)"
	}
	parts := make([]string, 0, len(p.Phases))
	for _, ph := range p.Phases {
		switch {
		case ph.Kind == PhaseGates && ph.Concurrent:
			parts = append(parts, "{"+joinNodes(ph.Nodes, "|")+"}")
		case ph.Kind == PhaseGates:
			parts = append(parts, "["+joinNodes(ph.Nodes, " → ")+"]")
		default:
			parts = append(parts, joinNodes(ph.Nodes, ""))
		}
	}
	out := strings.Join(parts, " → ")
	if p.Loop != nil {
		back := string(p.Loop.Target)
		if p.Loop.Refiner != "" {
			back = string(p.Loop.Refiner) + " → " + back
		}
		out += " (refine: " + back + ")"
	}
	return out
}

func joinNodes(ids []NodeID, sep string) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = string(id)
	}
	return strings.Join(s, sep)
}
