package hitl

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrRequestExists  = errors.New("request id already in use")
	ErrManagerClosed  = errors.New("hitl manager closed")

	ErrUnknownRequest   = errors.New("unknown request")
	ErrAlreadyFinalized = errors.New("request already finalized")
	ErrInvalidResponse  = errors.New("invalid response")
)

const (
	DefaultRetention        = time.Hour
	DefaultBroadcastTimeout = 5 * time.Second
)

// Config holds manager settings.
type Config struct {
	// DefaultTimeout applies to requests without their own timeout. Zero waits forever.
	DefaultTimeout time.Duration
	// Retention is how long finalized requests stay queryable
	Retention time.Duration
	// BroadcastTimeout bounds each broadcast call
	BroadcastTimeout time.Duration
}

// Manager tracks pending human input requests and guarantees each one is
// finalized exactly once, by a response, a cancellation or a timeout.
type Manager struct {
	cfg         Config
	broadcaster Broadcaster
	logger      *zap.Logger

	mu         sync.Mutex
	pending    map[string]*entry
	byWorkflow map[string]map[string]struct{}
	finalized  map[string]Request
	closed     bool
}

type entry struct {
	req   Request
	resp  Response
	done  chan struct{}
	timer *time.Timer
}

// Option configures a Manager
type Option func(*Manager)

// WithBroadcaster sets where lifecycle events are sent
func WithBroadcaster(b Broadcaster) Option {
	return func(m *Manager) { m.broadcaster = b }
}

// WithLogger sets the manager logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a manager
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.BroadcastTimeout <= 0 {
		cfg.BroadcastTimeout = DefaultBroadcastTimeout
	}
	m := &Manager{
		cfg:        cfg,
		logger:     zap.NewNop(),
		pending:    make(map[string]*entry),
		byWorkflow: make(map[string]map[string]struct{}),
		finalized:  make(map[string]Request),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RequestHumanInput registers req, broadcasts it and blocks until it is
// answered, cancelled or times out. The returned response carries the
// terminal status. If ctx is cancelled first the request is finalized as
// cancelled and ctx.Err() is returned alongside the synthesized response.
func (m *Manager) RequestHumanInput(ctx context.Context, req Request) (Response, error) {
	e, err := m.register(req)
	if err != nil {
		return Response{}, err
	}
	m.broadcast(Event{Type: EventRequestCreated, Request: e.req, Timestamp: e.req.CreatedAt})
	m.armTimeout(e)

	select {
	case <-e.done:
		return e.resp, nil
	case <-ctx.Done():
		if m.finalize(e.req.ID, StatusCancelled, Response{Action: ActionCancel, Feedback: "context cancelled"}, EventRequestCancelled, "context cancelled") {
			<-e.done
			return e.resp, ctx.Err()
		}
		// another outcome won the race
		<-e.done
		return e.resp, nil
	}
}

func (m *Manager) register(req Request) (*entry, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown checkpoint type %q", ErrInvalidRequest, req.Type)
	}
	if req.Type == CheckpointChoice && len(req.Options) == 0 {
		return nil, fmt.Errorf("%w: choice requires options", ErrInvalidRequest)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Timeout <= 0 {
		req.Timeout = m.cfg.DefaultTimeout
	}
	now := time.Now().UTC()
	req.Status = StatusPending
	req.CreatedAt = now
	req.FinalizedAt = nil
	req.ExpiresAt = nil
	if req.Timeout > 0 {
		exp := now.Add(req.Timeout)
		req.ExpiresAt = &exp
	}
	req.Options = slices.Clone(req.Options)
	req.Metadata = maps.Clone(req.Metadata)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	m.evictExpiredLocked(now)
	if _, ok := m.pending[req.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestExists, req.ID)
	}
	if _, ok := m.finalized[req.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestExists, req.ID)
	}

	e := &entry{req: req, done: make(chan struct{})}
	m.pending[req.ID] = e
	ids := m.byWorkflow[req.WorkflowID]
	if ids == nil {
		ids = make(map[string]struct{})
		m.byWorkflow[req.WorkflowID] = ids
	}
	ids[req.ID] = struct{}{}

	pendingRequests.Inc()
	requestsTotal.WithLabelValues(string(req.Type)).Inc()
	m.logger.Info("human input requested",
		zap.String("request_id", req.ID),
		zap.String("workflow_id", req.WorkflowID),
		zap.String("checkpoint_type", string(req.Type)),
		zap.Duration("timeout", req.Timeout))
	return e, nil
}

// SubmitResponse finalizes a pending request with resp. It returns false and
// changes nothing when the request is unknown, already finalized, or the
// action is not allowed for its checkpoint type.
func (m *Manager) SubmitResponse(resp Response) bool {
	return m.Respond(resp) == nil
}

// Respond is SubmitResponse with the rejection reason: ErrUnknownRequest,
// ErrAlreadyFinalized or ErrInvalidResponse.
func (m *Manager) Respond(resp Response) error {
	m.mu.Lock()
	e, ok := m.pending[resp.RequestID]
	if !ok {
		_, done := m.finalized[resp.RequestID]
		m.mu.Unlock()
		reason, err := "unknown", ErrUnknownRequest
		if done {
			reason, err = "finalized", ErrAlreadyFinalized
		}
		rejectedResponses.WithLabelValues(reason).Inc()
		m.logger.Warn("response for non-pending request",
			zap.String("request_id", resp.RequestID),
			zap.String("reason", reason))
		return fmt.Errorf("%w: %s", err, resp.RequestID)
	}
	req := e.req
	m.mu.Unlock()

	if err := validateResponse(req, resp); err != nil {
		rejectedResponses.WithLabelValues("invalid_action").Inc()
		m.logger.Warn("invalid response",
			zap.String("request_id", resp.RequestID),
			zap.String("action", string(resp.Action)),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !m.finalize(resp.RequestID, statusFor(resp.Action), resp, EventResponseReceived, "") {
		// lost the race to a timeout or cancel
		return fmt.Errorf("%w: %s", ErrAlreadyFinalized, resp.RequestID)
	}
	return nil
}

func validateResponse(req Request, resp Response) error {
	if !req.Type.Allows(resp.Action) {
		return fmt.Errorf("action %q not allowed for %s checkpoint (allowed: %v)", resp.Action, req.Type, req.Type.AllowedActions())
	}
	if resp.Action == ActionSelect && len(req.Options) > 0 && !slices.Contains(req.Options, resp.SelectedOption) {
		return fmt.Errorf("option %q is not one of %v", resp.SelectedOption, req.Options)
	}
	return nil
}

// CancelRequest finalizes a pending request as cancelled. It returns false if
// the request is not pending.
func (m *Manager) CancelRequest(id, reason string) bool {
	return m.finalize(id, StatusCancelled, Response{Action: ActionCancel, Feedback: reason}, EventRequestCancelled, reason)
}

// CancelWorkflowRequests cancels every pending request of one workflow and
// returns how many were cancelled. Other workflows are not touched.
func (m *Manager) CancelWorkflowRequests(workflowID, reason string) int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.byWorkflow[workflowID]))
	for id := range m.byWorkflow[workflowID] {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if m.CancelRequest(id, reason) {
			n++
		}
	}
	if n > 0 {
		m.logger.Info("cancelled workflow requests",
			zap.String("workflow_id", workflowID),
			zap.Int("count", n),
			zap.String("reason", reason))
	}
	return n
}

// GetPendingRequests returns pending requests for workflowID, oldest first.
// An empty workflowID returns all pending requests.
func (m *Manager) GetPendingRequests(workflowID string) []Request {
	m.mu.Lock()
	out := make([]Request, 0, len(m.pending))
	for _, e := range m.pending {
		if workflowID == "" || e.req.WorkflowID == workflowID {
			out = append(out, cloneRequest(e.req))
		}
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b Request) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// armTimeout starts the expiry timer once request_created is out, so a
// timeout event never precedes it. Requests already finalized are skipped.
func (m *Manager) armTimeout(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.req.ExpiresAt == nil || m.pending[e.req.ID] != e {
		return
	}
	id := e.req.ID
	e.timer = time.AfterFunc(time.Until(*e.req.ExpiresAt), func() {
		m.finalize(id, StatusTimeout, Response{Feedback: "timed out"}, EventRequestTimeout, "timeout")
	})
}

// Get returns a pending or recently finalized request
func (m *Manager) Get(id string) (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.pending[id]; ok {
		return cloneRequest(e.req), true
	}
	if req, ok := m.finalized[id]; ok {
		return cloneRequest(req), true
	}
	return Request{}, false
}

// Close cancels every pending request and refuses new ones
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.CancelRequest(id, "manager closed")
	}
}

// finalize is the single exit point of a pending request. Only the first
// caller for an id wins; later callers get false.
func (m *Manager) finalize(id string, status RequestStatus, resp Response, evType EventType, reason string) bool {
	now := time.Now().UTC()

	m.mu.Lock()
	e, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pending, id)
	if ids := m.byWorkflow[e.req.WorkflowID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(m.byWorkflow, e.req.WorkflowID)
		}
	}
	if e.timer != nil {
		e.timer.Stop()
	}

	e.req.Status = status
	e.req.FinalizedAt = &now
	resp.RequestID = id
	resp.Status = status
	if resp.RespondedAt.IsZero() {
		resp.RespondedAt = now
	}
	e.resp = resp
	m.finalized[id] = e.req
	req := cloneRequest(e.req)
	close(e.done)
	m.mu.Unlock()

	pendingRequests.Dec()
	outcomesTotal.WithLabelValues(string(req.Type), string(status)).Inc()
	waitSeconds.WithLabelValues(string(req.Type)).Observe(now.Sub(req.CreatedAt).Seconds())
	m.logger.Info("human input finalized",
		zap.String("request_id", id),
		zap.String("workflow_id", req.WorkflowID),
		zap.String("status", string(status)))

	m.broadcast(Event{Type: evType, Request: req, Response: &resp, Reason: reason, Timestamp: now})
	return true
}

func (m *Manager) evictExpiredLocked(now time.Time) {
	for id, req := range m.finalized {
		if req.FinalizedAt != nil && now.Sub(*req.FinalizedAt) > m.cfg.Retention {
			delete(m.finalized, id)
		}
	}
}

// broadcast delivers ev without ever failing the caller
func (m *Manager) broadcast(ev Event) {
	if m.broadcaster == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			broadcastErrors.Inc()
			m.logger.Error("broadcaster panicked",
				zap.String("event", string(ev.Type)),
				zap.Any("panic", rec))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.BroadcastTimeout)
	defer cancel()
	if err := m.broadcaster.Broadcast(ctx, ev); err != nil {
		broadcastErrors.Inc()
		m.logger.Warn("broadcast failed",
			zap.String("event", string(ev.Type)),
			zap.String("request_id", ev.Request.ID),
			zap.Error(err))
	}
}

func cloneRequest(r Request) Request {
	r.Options = slices.Clone(r.Options)
	r.Metadata = maps.Clone(r.Metadata)
	return r
}
