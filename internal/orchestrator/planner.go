package orchestrator

import (
	"go.uber.org/zap"
)

// DefaultMaxIterations bounds the refine loop when the analysis does not
const DefaultMaxIterations = 3

// Planner turns triage output into an execution plan.
type Planner struct {
	logger        *zap.Logger
	maxIterations int
}

// PlannerOption configures a Planner
type PlannerOption func(*Planner)

// WithPlannerLogger sets the planner logger
func WithPlannerLogger(logger *zap.Logger) PlannerOption {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDefaultMaxIterations sets the iteration bound used when an analysis has none
func WithDefaultMaxIterations(n int) PlannerOption {
	return func(p *Planner) {
		if n > 0 {
			p.maxIterations = n
		}
	}
}

// NewPlanner creates a planner
func NewPlanner(opts ...PlannerOption) *Planner {
	p := &Planner{
		logger:        zap.NewNop(),
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlanFor builds a plan from a triage analysis. An unknown strategy falls back
// to DefaultStrategy with a warning.
func (p *Planner) PlanFor(a Analysis) Plan {
	strategy, ok := ParseStrategy(a.Strategy)
	if !ok {
		p.logger.Warn("unknown strategy, falling back",
			zap.String("requested", a.Strategy),
			zap.String("strategy", string(strategy)))
	}
	plan := p.BuildPlan(a.RequiredCapabilities, strategy, a.RequiresHumanApproval)
	if a.MaxIterations > 0 {
		plan.MaxIterations = a.MaxIterations
	}
	return plan
}

// BuildPlan computes the minimal plan for a capability set. The result is a
// deterministic function of its inputs.
func (p *Planner) BuildPlan(caps []Capability, strategy Strategy, requiresApproval bool) Plan {
	if !strategy.Valid() {
		p.logger.Warn("unknown strategy, falling back",
			zap.String("requested", string(strategy)),
			zap.String("strategy", string(DefaultStrategy)))
		strategy = DefaultStrategy
	}

	want := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		want[c] = true
	}

	plan := Plan{Strategy: strategy, MaxIterations: p.maxIterations}
	if len(want) == 0 {
		return plan
	}

	hasCoder := want[CapabilityImplementation]
	if hasCoder {
		plan.Phases = append(plan.Phases, Phase{Kind: PhaseNode, Nodes: []NodeID{NodeCoder}})
	}

	if strategy == StrategyLinear {
		p.buildLinear(&plan, want, requiresApproval)
	} else {
		p.buildGated(&plan, want, requiresApproval)
	}

	if hasCoder {
		plan.Phases = append(plan.Phases, Phase{Kind: PhaseNode, Nodes: []NodeID{NodePersistence}})
	}
	return plan
}

// buildLinear adds the reviewer as a plain sequential step. Linear plans have
// no aggregator, so nothing that depends on one is planned.
func (p *Planner) buildLinear(plan *Plan, want map[Capability]bool, requiresApproval bool) {
	if want[CapabilityReview] {
		plan.Phases = append(plan.Phases, Phase{Kind: PhaseNode, Nodes: []NodeID{NodeReviewer}})
	}
	for _, c := range []Capability{CapabilitySecurity, CapabilityTesting} {
		if want[c] {
			p.logger.Warn("capability not planned in linear strategy", zap.String("capability", string(c)))
		}
	}
	if want[CapabilityRefinement] {
		p.logger.Info("refinement requested without an aggregator, skipping refiner")
	}
	if requiresApproval {
		p.logger.Warn("approval requested without quality gates, ignoring")
	}
}

func (p *Planner) buildGated(plan *Plan, want map[Capability]bool, requiresApproval bool) {
	order := []NodeID{NodeReviewer, NodeSecurityGate, NodeQAGate}
	if plan.Strategy == StrategyAdaptiveLoop {
		order = []NodeID{NodeSecurityGate, NodeReviewer, NodeQAGate}
	}
	var gates []NodeID
	for _, id := range order {
		if want[capabilityOf(id)] {
			gates = append(gates, id)
		}
	}

	if len(gates) == 0 {
		if want[CapabilityRefinement] {
			p.logger.Info("refinement requested without quality gates, skipping refiner")
		}
		if requiresApproval || plan.Strategy == StrategyStagedApproval {
			p.logger.Warn("approval requested without quality gates, ignoring")
		}
		return
	}

	plan.Phases = append(plan.Phases,
		Phase{Kind: PhaseGates, Nodes: gates, Concurrent: plan.Strategy != StrategyAdaptiveLoop},
		Phase{Kind: PhaseAggregate, Nodes: []NodeID{NodeAggregator}},
	)
	if plan.Strategy == StrategyStagedApproval || requiresApproval {
		plan.Phases = append(plan.Phases, Phase{Kind: PhaseApproval, Nodes: []NodeID{NodeApproval}})
	}

	loop := &Loop{Target: gates[0]}
	if want[CapabilityImplementation] {
		loop.Target = NodeCoder
	}
	if want[CapabilityRefinement] {
		loop.Refiner = NodeRefiner
	}
	plan.Loop = loop
}

func capabilityOf(id NodeID) Capability {
	switch id {
	case NodeCoder:
		return CapabilityImplementation
	case NodeReviewer:
		return CapabilityReview
	case NodeSecurityGate:
		return CapabilitySecurity
	case NodeQAGate:
		return CapabilityTesting
	case NodeRefiner:
		return CapabilityRefinement
	}
	return ""
}
