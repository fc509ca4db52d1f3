package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultNodeTimeout     = 5 * time.Minute
	DefaultApprovalTimeout = 30 * time.Minute

	instrumentationName = "github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

// Result is what a caller gets back from a run: the terminal state plus the
// full event trace.
type Result struct {
	State    *State   `json:"state"`
	Events   []Event  `json:"events"`
	Passes   int      `json:"passes"`
	Decision Decision `json:"decision,omitempty"`
}

// Engine interprets plans.
type Engine struct {
	registry *Registry
	approver Approver
	store    SnapshotStore
	sinks    []EventSink
	logger   *zap.Logger
	tracer   trace.Tracer

	nodeTimeout           time.Duration
	approvalTimeout       time.Duration
	maxIterationsPolicy   MaxIterationsPolicy
	approvalTimeoutPolicy ApprovalTimeoutPolicy
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer used for run and node spans
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithApprover sets the human approval backend
func WithApprover(a Approver) EngineOption {
	return func(e *Engine) { e.approver = a }
}

// WithSnapshotStore enables checkpointing after every phase
func WithSnapshotStore(s SnapshotStore) EngineOption {
	return func(e *Engine) { e.store = s }
}

// WithEventSink adds a progress event sink
func WithEventSink(s EventSink) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.sinks = append(e.sinks, s)
		}
	}
}

// WithNodeTimeout bounds every node call. Zero disables the bound.
func WithNodeTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.nodeTimeout = d }
}

// WithApprovalTimeout sets how long an approval checkpoint waits
func WithApprovalTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.approvalTimeout = d }
}

// WithMaxIterationsPolicy sets the non-convergence behavior
func WithMaxIterationsPolicy(p MaxIterationsPolicy) EngineOption {
	return func(e *Engine) {
		if p != "" {
			e.maxIterationsPolicy = p
		}
	}
}

// WithApprovalTimeoutPolicy sets what an unanswered approval means
func WithApprovalTimeoutPolicy(p ApprovalTimeoutPolicy) EngineOption {
	return func(e *Engine) {
		if p != "" {
			e.approvalTimeoutPolicy = p
		}
	}
}

// NewEngine creates an engine resolving nodes from registry
func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:              registry,
		logger:                zap.NewNop(),
		tracer:                otel.Tracer(instrumentationName),
		nodeTimeout:           DefaultNodeTimeout,
		approvalTimeout:       DefaultApprovalTimeout,
		maxIterationsPolicy:   MaxIterationsForceApprove,
		approvalTimeoutPolicy: ApprovalTimeoutFail,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes plan from the first phase. The returned Result is never nil
// and always carries a terminal state; the error explains a failed run.
func (e *Engine) Run(ctx context.Context, plan Plan, initial *State) (*Result, error) {
	return e.execute(ctx, plan, initial, 0)
}

// Resume continues a run from a snapshot. A snapshot of a finished run is
// returned as-is.
func (e *Engine) Resume(ctx context.Context, plan Plan, snap *Snapshot) (*Result, error) {
	if snap == nil || snap.State == nil {
		return nil, fmt.Errorf("%w: missing state", ErrInvalidSnapshot)
	}
	if snap.State.Terminal() {
		return &Result{State: snap.State.Clone()}, nil
	}
	if snap.NextPhase < 0 || snap.NextPhase > len(plan.Phases) {
		return nil, fmt.Errorf("%w: next phase %d out of range", ErrInvalidSnapshot, snap.NextPhase)
	}
	e.logger.Info("resuming workflow",
		zap.String("workflow_id", snap.WorkflowID),
		zap.String("last_node", string(snap.LastNode)),
		zap.Int("next_phase", snap.NextPhase))
	return e.execute(ctx, plan, snap.State, snap.NextPhase)
}

func (e *Engine) execute(ctx context.Context, plan Plan, initial *State, start int) (*Result, error) {
	st := initial.Clone()
	if st == nil {
		st = NewState("", "", plan.MaxIterations)
	}
	if st.MaxIterations <= 0 {
		st.MaxIterations = plan.MaxIterations
	}
	if st.MaxIterations <= 0 {
		st.MaxIterations = DefaultMaxIterations
	}
	st.Status = StatusRunning
	if st.RefinementIteration > 0 && start > 0 && plan.Loop != nil && start <= plan.PhaseIndex(NodeAggregator) {
		st.Status = StatusSelfHealing
	}

	r := &run{
		engine: e,
		plan:   plan,
		state:  st,
		logger: e.logger.With(zap.String("workflow_id", st.WorkflowID)),
	}

	ctx, span := e.tracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(
		attribute.String("workflow.id", st.WorkflowID),
		attribute.String("workflow.strategy", string(plan.Strategy)),
		attribute.Int("workflow.max_iterations", st.MaxIterations),
	))
	defer span.End()

	activeRuns.Inc()
	defer activeRuns.Dec()

	if err := plan.Validate(); err != nil {
		return r.fail(ctx, span, err)
	}
	if err := e.registry.Check(plan); err != nil {
		return r.fail(ctx, span, err)
	}

	r.logger.Info("workflow started", zap.String("plan", plan.String()), zap.Int("start_phase", start))

	for i := start; i < len(plan.Phases); {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, span, err)
		}
		next, err := r.runPhase(ctx, i)
		if err != nil {
			return r.fail(ctx, span, err)
		}
		i = next
	}
	return r.complete(ctx, span), nil
}

// run is the per-invocation state of Engine.execute.
type run struct {
	engine *Engine
	plan   Plan
	state  *State
	logger *zap.Logger

	mu       sync.Mutex
	events   []Event
	passes   int
	decision Decision
}

func (r *run) runPhase(ctx context.Context, i int) (int, error) {
	ph := r.plan.Phases[i]
	switch ph.Kind {
	case PhaseNode:
		id := ph.Nodes[0]
		if err := r.runSingle(ctx, id); err != nil {
			return 0, err
		}
		r.checkpoint(ctx, id, i+1)
		return i + 1, nil
	case PhaseGates:
		r.runGates(ctx, ph)
		r.passes++
		r.checkpoint(ctx, ph.Nodes[len(ph.Nodes)-1], i+1)
		return i + 1, nil
	case PhaseAggregate:
		return r.aggregate(ctx, i)
	case PhaseApproval:
		return r.approve(ctx, i)
	}
	return 0, fmt.Errorf("%w: unknown phase kind %q", ErrInvalidPlan, ph.Kind)
}

// runSingle executes a non-gate node. Any error is fatal for the run.
func (r *run) runSingle(ctx context.Context, id NodeID) error {
	started := time.Now()
	r.emit(ctx, Event{Node: id, Status: PhaseStarted})

	upd, err := r.engine.invoke(ctx, id, r.state.Clone())
	elapsed := time.Since(started)
	if err != nil {
		phaseDuration.WithLabelValues(string(id), "failed").Observe(elapsed.Seconds())
		r.emit(ctx, Event{Node: id, Status: PhaseFailed, DurationMS: elapsed.Milliseconds(), Message: err.Error()})
		return &NodeError{Node: id, Err: err}
	}

	if upd.Gate != nil && id.IsGate() {
		res := upd.Gate.clone()
		res.NodeID = id
		r.state.recordGates([]GateResult{res})
	}
	r.state.apply(upd)
	r.state.markCompleted(id)

	phaseDuration.WithLabelValues(string(id), "completed").Observe(elapsed.Seconds())
	r.emit(ctx, Event{Node: id, Status: PhaseCompleted, DurationMS: elapsed.Milliseconds()})
	return nil
}

// runGates launches every gate of the phase and waits for all of them. Each
// gate gets its own snapshot; failures become rejected results.
func (r *run) runGates(ctx context.Context, ph Phase) {
	n := len(ph.Nodes)
	snapshots := make([]*State, n)
	for i := range snapshots {
		snapshots[i] = r.state.Clone()
	}
	results := make([]GateResult, n)
	updates := make([]Update, n)

	if ph.Concurrent {
		var g errgroup.Group
		for i, id := range ph.Nodes {
			g.Go(func() error {
				results[i], updates[i] = r.runGate(ctx, id, snapshots[i])
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, id := range ph.Nodes {
			results[i], updates[i] = r.runGate(ctx, id, snapshots[i])
		}
	}

	for i, id := range ph.Nodes {
		r.state.apply(Update{Feedback: updates[i].Feedback, Data: updates[i].Data})
		r.state.markCompleted(id)
		gateVerdicts.WithLabelValues(string(id), gateVerdict(results[i])).Inc()
	}
	r.state.recordGates(results)
}

func (r *run) runGate(ctx context.Context, id NodeID, snap *State) (GateResult, Update) {
	started := time.Now()
	r.emit(ctx, Event{Node: id, Status: PhaseStarted})

	upd, err := r.engine.invoke(ctx, id, snap)
	elapsed := time.Since(started)

	var res GateResult
	switch {
	case err != nil:
		r.logger.Warn("gate failed", zap.String("node", string(id)), zap.Error(err))
		res = GateResult{NodeID: id, Approved: false, Error: err.Error()}
		upd = Update{}
	case upd.Gate == nil:
		res = GateResult{NodeID: id, Approved: false, Issues: []string{"gate returned no verdict"}}
	default:
		res = upd.Gate.clone()
		res.NodeID = id
	}

	status := PhaseCompleted
	if res.Failed() {
		status = PhaseFailed
	}
	phaseDuration.WithLabelValues(string(id), string(status)).Observe(elapsed.Seconds())
	r.emit(ctx, Event{
		Node:       id,
		Status:     status,
		DurationMS: elapsed.Milliseconds(),
		Message:    res.Error,
		Data: map[string]any{
			"approved": res.Approved,
			"issues":   len(res.Issues),
		},
	})
	return res, upd
}

func (r *run) aggregate(ctx context.Context, i int) (int, error) {
	started := time.Now()
	r.emit(ctx, Event{Node: NodeAggregator, Status: PhaseStarted})

	d := Decide(r.state.GateResults, r.state.RefinementIteration, r.state.MaxIterations)
	if d == DecisionRefine && r.plan.Loop == nil {
		d = DecisionMaxIterations
	}
	r.decision = d
	decisions.WithLabelValues(string(d)).Inc()
	r.state.markCompleted(NodeAggregator)

	summary := Summarize(r.state.GateResults)
	r.emit(ctx, Event{
		Node:       NodeAggregator,
		Status:     PhaseCompleted,
		DurationMS: time.Since(started).Milliseconds(),
		Data: map[string]any{
			"decision": string(d),
			"approved": summary.Approved,
			"rejected": summary.Rejected,
			"errored":  summary.Errored,
		},
	})
	r.logger.Debug("aggregator decision",
		zap.String("decision", string(d)),
		zap.Int("iteration", r.state.RefinementIteration))

	switch d {
	case DecisionApprove:
		r.state.Status = StatusRunning
		r.checkpoint(ctx, NodeAggregator, i+1)
		return i + 1, nil
	case DecisionRefine:
		return r.refine(ctx)
	default:
		return r.exhausted(ctx, i)
	}
}

// exhausted applies the max-iterations policy
func (r *run) exhausted(ctx context.Context, i int) (int, error) {
	if r.engine.maxIterationsPolicy == MaxIterationsFail {
		return 0, fmt.Errorf("%w after %d iterations", ErrMaxIterations, r.state.RefinementIteration+1)
	}

	summary := Summarize(r.state.GateResults)
	r.state.ForcedApproval = true
	for _, g := range r.plan.GateNodes() {
		r.state.setGateFlag(g, true)
	}
	r.state.Status = StatusRunning

	r.logger.Warn("max iterations reached, forcing approval",
		zap.Int("iteration", r.state.RefinementIteration),
		zap.Int("max_iterations", r.state.MaxIterations),
		zap.Strings("issues", summary.Issues))
	r.emit(ctx, Event{
		Node:    NodeAggregator,
		Status:  PhaseWarning,
		Message: "max iterations reached, forcing approval",
		Data: map[string]any{
			"forced_approval": true,
			"rejected":        summary.Rejected,
			"errored":         summary.Errored,
		},
	})
	r.checkpoint(ctx, NodeAggregator, i+1)
	return i + 1, nil
}

// refine takes the back-edge: bump the iteration, run the refiner if planned
// and return the index of the loop target.
func (r *run) refine(ctx context.Context) (int, error) {
	r.state.RefinementIteration++
	r.state.Status = StatusSelfHealing
	r.state.ForcedApproval = false

	last := NodeAggregator
	if r.plan.Loop.Refiner != "" {
		if err := r.runSingle(ctx, r.plan.Loop.Refiner); err != nil {
			return 0, err
		}
		last = r.plan.Loop.Refiner
	}
	target := r.plan.PhaseIndex(r.plan.Loop.Target)
	r.checkpoint(ctx, last, target)
	return target, nil
}

func (r *run) approve(ctx context.Context, i int) (int, error) {
	if r.engine.approver == nil {
		return 0, ErrNoApprover
	}
	allowSkip := r.engine.approvalTimeoutPolicy == ApprovalTimeoutApprove
	summary := Summarize(r.state.GateResults)
	req := ApprovalRequest{
		WorkflowID: r.state.WorkflowID,
		Iteration:  r.state.RefinementIteration,
		Summary:    summary,
		Content:    approvalContent(r.state, summary),
		Timeout:    r.engine.approvalTimeout,
		AllowSkip:  allowSkip,
	}

	started := time.Now()
	r.emit(ctx, Event{Node: NodeApproval, Status: PhaseWaiting, Message: "waiting for human approval"})
	res, err := r.engine.approver.RequestApproval(ctx, req)
	elapsed := time.Since(started)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("requesting approval: %w", err)
	}

	if res.Feedback != "" {
		r.state.Feedback = append(r.state.Feedback, res.Feedback)
	}
	r.state.Data["approval"] = string(res.Outcome)
	done := Event{
		Node:       NodeApproval,
		Status:     PhaseCompleted,
		DurationMS: elapsed.Milliseconds(),
		Data:       map[string]any{"outcome": string(res.Outcome)},
	}

	switch res.Outcome {
	case ApprovalApproved:
		r.state.markCompleted(NodeApproval)
		r.emit(ctx, done)
		r.checkpoint(ctx, NodeApproval, i+1)
		return i + 1, nil
	case ApprovalRejected:
		r.state.markCompleted(NodeApproval)
		r.emit(ctx, done)
		if r.plan.Loop == nil || r.state.RefinementIteration+1 >= r.state.MaxIterations {
			return 0, ErrApprovalRejected
		}
		return r.refine(ctx)
	case ApprovalTimedOut:
		if allowSkip {
			r.state.markCompleted(NodeApproval)
			done.Status = PhaseWarning
			done.Message = "approval timed out, continuing"
			r.emit(ctx, done)
			r.checkpoint(ctx, NodeApproval, i+1)
			return i + 1, nil
		}
		return 0, ErrApprovalTimeout
	default:
		return 0, ErrApprovalCancelled
	}
}

func approvalContent(st *State, summary GateSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow %s, iteration %d of %d\n", st.WorkflowID, st.RefinementIteration+1, st.MaxIterations)
	if st.Task != "" {
		fmt.Fprintf(&b, "Task: %s\n", st.Task)
	}
	fmt.Fprintf(&b, "Artifacts: %d\n", len(st.Artifacts))
	for _, a := range st.Artifacts {
		fmt.Fprintf(&b, "  - %s\n", a.Path)
	}
	if st.ForcedApproval {
		b.WriteString("Quality gates did not converge; approval was forced.\n")
	}
	for _, issue := range summary.Issues {
		fmt.Fprintf(&b, "Issue: %s\n", issue)
	}
	return b.String()
}

func (r *run) checkpoint(ctx context.Context, last NodeID, next int) {
	store := r.engine.store
	if store == nil {
		return
	}
	snap := Snapshot{
		WorkflowID: r.state.WorkflowID,
		LastNode:   last,
		NextPhase:  next,
		State:      r.state.Clone(),
		SavedAt:    time.Now().UTC(),
	}
	if err := store.Save(context.WithoutCancel(ctx), r.state.WorkflowID, snap); err != nil {
		r.logger.Warn("checkpoint save failed", zap.String("last_node", string(last)), zap.Error(err))
	}
}

func (r *run) fail(ctx context.Context, span trace.Span, err error) (*Result, error) {
	r.state.Status = StatusFailed
	r.state.FailureReason = err.Error()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	r.logger.Error("workflow failed", zap.Error(err), zap.Int("iteration", r.state.RefinementIteration))
	r.emit(ctx, Event{Status: PhaseFailed, Message: err.Error()})
	r.checkpoint(ctx, r.state.LastCompleted(), len(r.plan.Phases))
	r.finish()
	return r.result(), err
}

func (r *run) complete(ctx context.Context, span trace.Span) *Result {
	r.state.Status = StatusCompleted
	span.SetStatus(codes.Ok, "")

	r.logger.Info("workflow completed",
		zap.Int("iterations", r.state.RefinementIteration),
		zap.Bool("forced_approval", r.state.ForcedApproval))
	r.emit(ctx, Event{Status: PhaseCompleted, Message: "workflow completed"})
	r.checkpoint(ctx, r.state.LastCompleted(), len(r.plan.Phases))
	r.finish()
	return r.result()
}

func (r *run) finish() {
	runsTotal.WithLabelValues(string(r.plan.Strategy), string(r.state.Status)).Inc()
	refinementIterations.Observe(float64(r.state.RefinementIteration))
}

func (r *run) result() *Result {
	r.mu.Lock()
	events := append([]Event(nil), r.events...)
	r.mu.Unlock()
	return &Result{
		State:    r.state.Clone(),
		Events:   events,
		Passes:   r.passes,
		Decision: r.decision,
	}
}

// emit records ev in the run trace and forwards it to every sink. Safe to call
// from gate goroutines.
func (r *run) emit(ctx context.Context, ev Event) {
	ev.WorkflowID = r.state.WorkflowID
	ev.Iteration = r.state.RefinementIteration
	ev.Timestamp = time.Now().UTC()

	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()

	pubCtx := context.WithoutCancel(ctx)
	for _, sink := range r.engine.sinks {
		r.publish(pubCtx, sink, ev)
	}
}

func (r *run) publish(ctx context.Context, sink EventSink, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event sink panicked", zap.Any("panic", rec))
		}
	}()
	if err := sink.Publish(ctx, ev); err != nil {
		r.logger.Warn("event sink failed", zap.String("node", string(ev.Node)), zap.Error(err))
	}
}

// invoke calls a registered node with the node timeout applied. Panics are
// converted to errors. A node that ignores cancellation is abandoned once the
// deadline passes.
func (e *Engine) invoke(ctx context.Context, id NodeID, snap *State) (Update, error) {
	node, err := e.registry.Lookup(id)
	if err != nil {
		return Update{}, err
	}

	ctx, span := e.tracer.Start(ctx, "orchestrator.node", trace.WithAttributes(
		attribute.String("node.id", string(id)),
		attribute.Int("workflow.iteration", snap.RefinementIteration),
	))
	defer span.End()

	if e.nodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.nodeTimeout)
		defer cancel()
	}

	type outcome struct {
		upd Update
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- outcome{err: fmt.Errorf("%w: %v", ErrNodePanic, rec)}
			}
		}()
		upd, err := node.Run(ctx, snap)
		ch <- outcome{upd: upd, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			span.RecordError(out.err)
			span.SetStatus(codes.Error, out.err.Error())
		}
		return out.upd, out.err
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrNodeTimeout, e.nodeTimeout)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Update{}, err
	}
}
