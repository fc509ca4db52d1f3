package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

// WorkerQueue is the queue group remote workers subscribe with
const WorkerQueue = "orchestrd-workers"

var ErrRemoteNode = errors.New("remote node failed")

// DefaultServeTimeout bounds a served call when the request carries no
// deadline.
const DefaultServeTimeout = 5 * time.Minute

// RemoteRequest is the message sent to a worker. Deadline is the caller's
// deadline, if any.
type RemoteRequest struct {
	Node     orchestrator.NodeID `json:"node"`
	State    *orchestrator.State `json:"state"`
	Deadline time.Time           `json:"deadline,omitzero"`
}

// RemoteReply is the message a worker answers with.
type RemoteReply struct {
	Artifacts []orchestrator.Artifact  `json:"artifacts,omitempty"`
	Gate      *orchestrator.GateResult `json:"gate,omitempty"`
	Feedback  []string                 `json:"feedback,omitempty"`
	Data      map[string]string        `json:"data,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

func (r RemoteReply) update() orchestrator.Update {
	return orchestrator.Update{Artifacts: r.Artifacts, Gate: r.Gate, Feedback: r.Feedback, Data: r.Data}
}

func replyFrom(u orchestrator.Update) RemoteReply {
	return RemoteReply{Artifacts: u.Artifacts, Gate: u.Gate, Feedback: u.Feedback, Data: u.Data}
}

// Remote forwards node calls to a worker listening on subject.
type Remote struct {
	nc      *nats.Conn
	node    orchestrator.NodeID
	subject string
	timeout time.Duration
}

// NewRemote creates a remote node. timeout bounds each request when the
// caller's context has no earlier deadline.
func NewRemote(nc *nats.Conn, node orchestrator.NodeID, subject string, timeout time.Duration) *Remote {
	return &Remote{nc: nc, node: node, subject: subject, timeout: timeout}
}

// Run implements orchestrator.Node
func (r *Remote) Run(ctx context.Context, state *orchestrator.State) (orchestrator.Update, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	req := RemoteRequest{Node: r.node, State: state}
	if deadline, ok := ctx.Deadline(); ok {
		req.Deadline = deadline.UTC()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return orchestrator.Update{}, fmt.Errorf("encoding request: %w", err)
	}

	msg, err := r.nc.RequestWithContext(ctx, r.subject, data)
	if err != nil {
		return orchestrator.Update{}, fmt.Errorf("requesting %s on %s: %w", r.node, r.subject, err)
	}

	var reply RemoteReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return orchestrator.Update{}, fmt.Errorf("decoding reply from %s: %w", r.node, err)
	}
	if reply.Error != "" {
		return orchestrator.Update{}, fmt.Errorf("%w: %s: %s", ErrRemoteNode, r.node, reply.Error)
	}
	if reply.Gate != nil {
		reply.Gate.NodeID = r.node
	}
	return reply.update(), nil
}

// ServeRemote answers requests on subject by running node. It is the worker
// side of Remote. Each call is bounded by the request deadline, or by
// DefaultServeTimeout when there is none, and a panicking node is answered
// with an error. The subscription lives until it is drained or nc closes.
func ServeRemote(nc *nats.Conn, subject string, node orchestrator.Node, logger *zap.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return nc.QueueSubscribe(subject, WorkerQueue, func(msg *nats.Msg) {
		var req RemoteRequest
		var reply RemoteReply
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.State == nil {
			reply.Error = "malformed request"
		} else {
			update, err := serve(node, req)
			if err != nil {
				reply.Error = err.Error()
			} else {
				reply = replyFrom(update)
			}
		}
		data, err := json.Marshal(reply)
		if err != nil {
			logger.Error("encoding worker reply", zap.Error(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			logger.Warn("responding to node request", zap.String("subject", msg.Subject), zap.Error(err))
		}
	})
}

func serve(node orchestrator.Node, req RemoteRequest) (orchestrator.Update, error) {
	deadline := req.Deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(DefaultServeTimeout)
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	type outcome struct {
		upd orchestrator.Update
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- outcome{err: fmt.Errorf("%w: %v", orchestrator.ErrNodePanic, rec)}
			}
		}()
		upd, err := node.Run(ctx, req.State)
		ch <- outcome{upd: upd, err: err}
	}()

	select {
	case out := <-ch:
		return out.upd, out.err
	case <-ctx.Done():
		return orchestrator.Update{}, fmt.Errorf("%s: %w", req.Node, ctx.Err())
	}
}
