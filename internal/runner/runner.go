// Package runner owns the lifecycle of workflow runs inside the daemon.
//
// The engine executes a single run synchronously; the runner starts runs in
// the background, tracks their progress from engine events, and lets callers
// wait for, cancel and resume them.
package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/checkpoint"
	"github.com/fyrsmithlabs/orchestrd/internal/hitl"
	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

var (
	ErrInvalidRequest   = errors.New("invalid workflow request")
	ErrWorkflowExists   = errors.New("workflow already running")
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrWorkflowFinished = errors.New("workflow already finished")
	ErrNoCheckpoints    = errors.New("checkpoint store not configured")
	ErrShuttingDown     = errors.New("runner is shutting down")
)

// maxTrackedEvents bounds the event history kept per workflow
const maxTrackedEvents = 500

// Config wires a Runner.
type Config struct {
	Registry *orchestrator.Registry
	Planner  *orchestrator.Planner
	// HITL enables approval checkpoints. Optional.
	HITL *hitl.Manager
	// Store enables checkpointing and Resume. Optional.
	Store checkpoint.Store
	// Sinks receive every engine event in addition to the runner.
	Sinks         []orchestrator.EventSink
	EngineOptions []orchestrator.EngineOption
	Logger        *zap.Logger
}

// StartRequest describes a workflow to run.
type StartRequest struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	Task       string                  `json:"task"`
	Analysis   orchestrator.Analysis   `json:"analysis"`
	Artifacts  []orchestrator.Artifact `json:"artifacts,omitempty"`
}

// Workflow is a point-in-time view of a run.
type Workflow struct {
	ID            string                `json:"workflow_id"`
	Task          string                `json:"task"`
	Strategy      orchestrator.Strategy `json:"strategy"`
	Plan          string                `json:"plan"`
	Status        orchestrator.Status   `json:"status"`
	CurrentNode   orchestrator.NodeID   `json:"current_node,omitempty"`
	Iteration     int                   `json:"refinement_iteration"`
	MaxIterations int                   `json:"max_iterations"`
	Passes        int                   `json:"passes"`
	Decision      orchestrator.Decision `json:"decision,omitempty"`
	Error         string                `json:"error,omitempty"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    *time.Time            `json:"finished_at,omitempty"`
	State         *orchestrator.State   `json:"state,omitempty"`
	Events        []orchestrator.Event  `json:"events,omitempty"`
}

// Done reports whether the run has finished
func (w Workflow) Done() bool {
	return w.FinishedAt != nil
}

type tracked struct {
	id       string
	task     string
	plan     orchestrator.Plan
	cancel   context.CancelFunc
	done     chan struct{}
	started  time.Time
	finished *time.Time

	node      orchestrator.NodeID
	iteration int
	events    []orchestrator.Event
	result    *orchestrator.Result
	err       error
}

// Runner starts and tracks workflow runs.
type Runner struct {
	engine   *orchestrator.Engine
	registry *orchestrator.Registry
	planner  *orchestrator.Planner
	hitl     *hitl.Manager
	store    checkpoint.Store
	logger   *zap.Logger

	base    context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	runs    map[string]*tracked
	closing bool
}

// New builds the engine and returns a runner around it
func New(cfg Config) (*Runner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrInvalidRequest)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	planner := cfg.Planner
	if planner == nil {
		planner = orchestrator.NewPlanner(orchestrator.WithPlannerLogger(logger))
	}

	base, stop := context.WithCancel(context.Background())
	r := &Runner{
		planner: planner,
		hitl:    cfg.HITL,
		store:   cfg.Store,
		logger:  logger,
		base:    base,
		stopAll: stop,
		runs:    make(map[string]*tracked),
	}

	opts := []orchestrator.EngineOption{orchestrator.WithLogger(logger)}
	opts = append(opts, cfg.EngineOptions...)
	opts = append(opts, orchestrator.WithEventSink(orchestrator.EventSinkFunc(r.observe)))
	for _, s := range cfg.Sinks {
		opts = append(opts, orchestrator.WithEventSink(s))
	}
	if cfg.HITL != nil {
		opts = append(opts, orchestrator.WithApprover(NewApprover(cfg.HITL)))
	}
	if cfg.Store != nil {
		opts = append(opts, orchestrator.WithSnapshotStore(cfg.Store))
	}
	r.engine = orchestrator.NewEngine(cfg.Registry, opts...)
	r.registry = cfg.Registry
	return r, nil
}

// Plan previews the plan Start would execute for an analysis
func (r *Runner) Plan(a orchestrator.Analysis) (orchestrator.Plan, error) {
	if strings.TrimSpace(a.Strategy) == "" {
		a.Strategy = string(orchestrator.DefaultStrategy)
	}
	plan := r.planner.PlanFor(a)
	if err := r.registry.Check(plan); err != nil {
		return plan, err
	}
	return plan, nil
}

// Start plans the workflow and runs it in the background. The run is not
// bound to ctx; use Cancel to stop it.
func (r *Runner) Start(ctx context.Context, req StartRequest) (Workflow, error) {
	if err := ctx.Err(); err != nil {
		return Workflow{}, err
	}
	if strings.TrimSpace(req.Task) == "" {
		return Workflow{}, fmt.Errorf("%w: task is required", ErrInvalidRequest)
	}
	if req.WorkflowID == "" {
		req.WorkflowID = uuid.NewString()
	}
	if err := checkpoint.ValidateWorkflowID(req.WorkflowID); err != nil {
		return Workflow{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	plan, err := r.Plan(req.Analysis)
	if err != nil {
		return Workflow{}, err
	}

	state := orchestrator.NewState(req.WorkflowID, req.Task, plan.MaxIterations)
	state.Artifacts = slices.Clone(req.Artifacts)

	t, runCtx, err := r.track(req.WorkflowID, req.Task, plan, 0)
	if err != nil {
		return Workflow{}, err
	}
	r.logger.Info("workflow started",
		zap.String("workflow_id", req.WorkflowID),
		zap.String("strategy", string(plan.Strategy)),
		zap.Stringer("plan", plan))

	view := r.snapshot(t)
	r.launch(t, func() (*orchestrator.Result, error) {
		return r.engine.Run(runCtx, plan, state)
	})
	return view, nil
}

// Resume continues a checkpointed workflow. The analysis must produce the
// same plan the workflow was started with.
func (r *Runner) Resume(ctx context.Context, workflowID string, a orchestrator.Analysis) (Workflow, error) {
	if err := checkpoint.ValidateWorkflowID(workflowID); err != nil {
		return Workflow{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if r.store == nil {
		return Workflow{}, ErrNoCheckpoints
	}
	snap, err := r.store.Load(ctx, workflowID)
	if err != nil {
		return Workflow{}, err
	}
	if snap == nil || snap.State == nil {
		return Workflow{}, fmt.Errorf("%w: %s has no state", orchestrator.ErrInvalidSnapshot, workflowID)
	}
	plan, err := r.Plan(a)
	if err != nil {
		return Workflow{}, err
	}

	t, runCtx, err := r.track(workflowID, snap.State.Task, plan, snap.State.RefinementIteration)
	if err != nil {
		return Workflow{}, err
	}
	r.logger.Info("workflow resumed",
		zap.String("workflow_id", workflowID),
		zap.String("last_node", string(snap.LastNode)),
		zap.Int("next_phase", snap.NextPhase))

	view := r.snapshot(t)
	r.launch(t, func() (*orchestrator.Result, error) {
		return r.engine.Resume(runCtx, plan, snap)
	})
	return view, nil
}

func (r *Runner) track(id, task string, plan orchestrator.Plan, iteration int) (*tracked, context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return nil, nil, ErrShuttingDown
	}
	if prev, ok := r.runs[id]; ok && prev.finished == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrWorkflowExists, id)
	}
	runCtx, cancel := context.WithCancel(r.base)
	t := &tracked{
		id:        id,
		task:      task,
		plan:      plan,
		cancel:    cancel,
		done:      make(chan struct{}),
		started:   time.Now().UTC(),
		iteration: iteration,
	}
	r.runs[id] = t
	r.wg.Add(1)
	return t, runCtx, nil
}

func (r *Runner) launch(t *tracked, run func() (*orchestrator.Result, error)) {
	go func() {
		defer r.wg.Done()
		defer t.cancel()

		res, err := run()

		r.mu.Lock()
		now := time.Now().UTC()
		t.finished = &now
		t.result = res
		t.err = err
		r.mu.Unlock()
		close(t.done)

		if r.hitl != nil {
			// approvals of a finished run can no longer be acted on
			r.hitl.CancelWorkflowRequests(t.id, "workflow finished")
		}

		fields := []zap.Field{zap.String("workflow_id", t.id), zap.Duration("duration", now.Sub(t.started))}
		if err != nil {
			r.logger.Warn("workflow failed", append(fields, zap.Error(err))...)
			return
		}
		r.logger.Info("workflow completed", fields...)
	}()
}

// observe records engine progress for status views
func (r *Runner) observe(_ context.Context, ev orchestrator.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.runs[ev.WorkflowID]
	if !ok || t.finished != nil {
		return nil
	}
	if ev.Node != "" {
		t.node = ev.Node
	}
	t.iteration = ev.Iteration
	t.events = append(t.events, ev)
	if len(t.events) > maxTrackedEvents {
		t.events = slices.Delete(t.events, 0, len(t.events)-maxTrackedEvents)
	}
	return nil
}

// Get returns a workflow with its state and event history
func (r *Runner) Get(id string) (Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.runs[id]
	if !ok {
		return Workflow{}, false
	}
	return r.view(t, true), true
}

// List returns every tracked workflow, oldest first, without event history
func (r *Runner) List() []Workflow {
	r.mu.RLock()
	out := make([]Workflow, 0, len(r.runs))
	for _, t := range r.runs {
		out = append(out, r.view(t, false))
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Workflow) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Wait blocks until the workflow finishes or ctx is done
func (r *Runner) Wait(ctx context.Context, id string) (Workflow, error) {
	r.mu.RLock()
	t, ok := r.runs[id]
	r.mu.RUnlock()
	if !ok {
		return Workflow{}, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		return Workflow{}, ctx.Err()
	}
	w, _ := r.Get(id)
	return w, nil
}

// Cancel stops a running workflow and cancels its pending human requests
func (r *Runner) Cancel(id, reason string) error {
	r.mu.RLock()
	t, ok := r.runs[id]
	finished := ok && t.finished != nil
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if finished {
		return fmt.Errorf("%w: %s", ErrWorkflowFinished, id)
	}
	if reason == "" {
		reason = "workflow cancelled"
	}
	t.cancel()
	if r.hitl != nil {
		r.hitl.CancelWorkflowRequests(id, reason)
	}
	r.logger.Info("workflow cancelled", zap.String("workflow_id", id), zap.String("reason", reason))
	return nil
}

// Shutdown cancels every run and waits for them to stop or ctx to end
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()
	r.stopAll()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) snapshot(t *tracked) Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view(t, false)
}

// view must be called with r.mu held
func (r *Runner) view(t *tracked, detail bool) Workflow {
	w := Workflow{
		ID:            t.id,
		Task:          t.task,
		Strategy:      t.plan.Strategy,
		Plan:          t.plan.String(),
		Status:        orchestrator.StatusRunning,
		CurrentNode:   t.node,
		Iteration:     t.iteration,
		MaxIterations: t.plan.MaxIterations,
		StartedAt:     t.started,
		FinishedAt:    t.finished,
	}
	if t.node == orchestrator.NodeRefiner {
		w.Status = orchestrator.StatusSelfHealing
	}
	if t.result != nil && t.result.State != nil {
		st := t.result.State
		w.Status = st.Status
		w.Iteration = st.RefinementIteration
		w.Passes = t.result.Passes
		w.Decision = t.result.Decision
		if detail {
			w.State = st.Clone()
		}
	} else if t.finished != nil {
		w.Status = orchestrator.StatusFailed
	}
	if t.err != nil {
		w.Error = t.err.Error()
	}
	if detail {
		if t.result != nil {
			w.Events = slices.Clone(t.result.Events)
		} else {
			w.Events = slices.Clone(t.events)
		}
	}
	return w
}
