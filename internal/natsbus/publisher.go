package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/hitl"
	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

var ErrNotConnected = errors.New("nats connection not available")

// Publisher forwards engine progress events and HITL lifecycle events to NATS.
// It satisfies both orchestrator.EventSink and hitl.Broadcaster.
type Publisher struct {
	nc       *nats.Conn
	subjects Subjects
	logger   *zap.Logger
}

// NewPublisher creates a publisher on nc
func NewPublisher(nc *nats.Conn, subjects Subjects, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, subjects: subjects, logger: logger}
}

// Subjects returns the subject scheme in use
func (p *Publisher) Subjects() Subjects {
	return p.subjects
}

// Publish sends a progress event to {prefix}.workflows.{id}.events.{status}
func (p *Publisher) Publish(_ context.Context, ev orchestrator.Event) error {
	subject := p.subjects.WorkflowEvent(ev.WorkflowID, string(ev.Status))
	if err := p.publishJSON(subject, ev); err != nil {
		return err
	}
	publishedTotal.WithLabelValues("workflow").Inc()
	return nil
}

// Broadcast sends a HITL event to {prefix}.hitl.{workflow}.{request}.{type}
func (p *Publisher) Broadcast(_ context.Context, ev hitl.Event) error {
	subject := p.subjects.HITLEvent(ev.Request.WorkflowID, ev.Request.ID, string(ev.Type))
	if err := p.publishJSON(subject, ev); err != nil {
		return err
	}
	publishedTotal.WithLabelValues("hitl").Inc()
	return nil
}

func (p *Publisher) publishJSON(subject string, v any) error {
	if p.nc == nil || p.nc.IsClosed() {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		publishErrors.Inc()
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	p.logger.Debug("published event", zap.String("subject", subject), zap.Int("bytes", len(data)))
	return nil
}
