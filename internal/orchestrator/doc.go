// Package orchestrator plans and executes dynamic agent workflows.
//
// # Overview
//
// A triage step decides which capabilities a coding request needs. The
// orchestrator turns that decision into a minimal plan and runs it:
//
//	Analysis → Planner.PlanFor → Plan → Engine.Run → Result
//
// # Planner
//
// The planner maps capabilities to nodes and lays them out according to a
// strategy:
//
//	linear           coder → reviewer → persistence
//	parallel_gates   coder → {reviewer|security_gate|qa_gate} → aggregator → persistence
//	adaptive_loop    coder → [security_gate → reviewer → qa_gate] → aggregator → persistence
//	staged_approval  as parallel_gates, with human_approval before persistence
//
// Plans with quality gates carry a refine back-edge from the aggregator to the
// coder (through the refiner when refinement was requested).
//
// # Engine
//
// The engine walks the phases in order. Gate phases fan out with one private
// state snapshot per gate and join on all of them; a gate that errors or panics
// counts as a rejection. After each gate phase Decide picks approve, refine or
// max_iterations. Refinement is bounded by the state's MaxIterations.
//
// Progress is reported as Events, returned in the Result and forwarded to any
// configured EventSink. When a SnapshotStore is configured the state is saved
// after every phase and a run can be continued with Engine.Resume.
//
// # Usage Example
//
//	registry := orchestrator.NewRegistry()
//	_ = registry.Register(orchestrator.NodeCoder, coder)
//	_ = registry.Register(orchestrator.NodeReviewer, reviewer)
//	_ = registry.Register(orchestrator.NodePersistence, persistence)
//
//	plan := orchestrator.NewPlanner().PlanFor(orchestrator.Analysis{
//		RequiredCapabilities: []orchestrator.Capability{"implementation", "review"},
//		Strategy:             "parallel_gates",
//	})
//
//	engine := orchestrator.NewEngine(registry, orchestrator.WithLogger(logger))
//	result, err := engine.Run(ctx, plan, orchestrator.NewState(id, task, plan.MaxIterations))
package orchestrator
