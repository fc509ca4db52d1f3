package checkpoint

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

const instrumentationName = "github.com/fyrsmithlabs/orchestrd/internal/checkpoint"

// Service wraps a Store with tracing, metrics and logging.
type Service struct {
	store  Store
	logger *zap.Logger

	tracer       trace.Tracer
	meter        metric.Meter
	saveCounter  metric.Int64Counter
	loadCounter  metric.Int64Counter
	errorCounter metric.Int64Counter
	saveDuration metric.Float64Histogram
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithTracerProvider overrides the global tracer provider
func WithTracerProvider(tp trace.TracerProvider) ServiceOption {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider overrides the global meter provider
func WithMeterProvider(mp metric.MeterProvider) ServiceOption {
	return func(s *Service) { s.meter = mp.Meter(instrumentationName) }
}

// NewService wraps store
func NewService(store Store, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initMetrics()
	return s
}

func (s *Service) initMetrics() {
	var err error

	s.saveCounter, err = s.meter.Int64Counter(
		"orchestrd.checkpoint.saves_total",
		metric.WithDescription("Total number of snapshots saved"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		s.logger.Warn("failed to create save counter", zap.Error(err))
	}

	s.loadCounter, err = s.meter.Int64Counter(
		"orchestrd.checkpoint.loads_total",
		metric.WithDescription("Total number of snapshot loads"),
		metric.WithUnit("{load}"),
	)
	if err != nil {
		s.logger.Warn("failed to create load counter", zap.Error(err))
	}

	s.errorCounter, err = s.meter.Int64Counter(
		"orchestrd.checkpoint.errors_total",
		metric.WithDescription("Total number of failed checkpoint operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		s.logger.Warn("failed to create error counter", zap.Error(err))
	}

	s.saveDuration, err = s.meter.Float64Histogram(
		"orchestrd.checkpoint.save_duration",
		metric.WithDescription("Snapshot save latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		s.logger.Warn("failed to create save duration histogram", zap.Error(err))
	}
}

// Save persists snap as the latest snapshot of workflowID
func (s *Service) Save(ctx context.Context, workflowID string, snap orchestrator.Snapshot) error {
	ctx, span := s.tracer.Start(ctx, "checkpoint.Save", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("checkpoint.last_node", string(snap.LastNode)),
		attribute.Int("checkpoint.next_phase", snap.NextPhase),
	))
	defer span.End()

	start := time.Now()
	err := s.store.Save(ctx, workflowID, snap)
	if s.saveDuration != nil {
		s.saveDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		s.recordError(ctx, span, "save", err)
		return err
	}
	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1)
	}
	s.logger.Debug("checkpoint saved",
		zap.String("workflow_id", workflowID),
		zap.String("last_node", string(snap.LastNode)))
	return nil
}

// Load returns the latest snapshot of workflowID
func (s *Service) Load(ctx context.Context, workflowID string) (*orchestrator.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.Load", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
	))
	defer span.End()

	snap, err := s.store.Load(ctx, workflowID)
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			span.SetAttributes(attribute.Bool("checkpoint.found", false))
			return nil, err
		}
		s.recordError(ctx, span, "load", err)
		return nil, err
	}
	if s.loadCounter != nil {
		s.loadCounter.Add(ctx, 1)
	}
	span.SetAttributes(attribute.Bool("checkpoint.found", true))
	return snap, nil
}

// Delete removes the snapshot of workflowID
func (s *Service) Delete(ctx context.Context, workflowID string) error {
	ctx, span := s.tracer.Start(ctx, "checkpoint.Delete", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
	))
	defer span.End()

	if err := s.store.Delete(ctx, workflowID); err != nil {
		s.recordError(ctx, span, "delete", err)
		return err
	}
	return nil
}

// List returns stored workflow ids
func (s *Service) List(ctx context.Context) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.List")
	defer span.End()

	ids, err := s.store.List(ctx)
	if err != nil {
		s.recordError(ctx, span, "list", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("checkpoint.count", len(ids)))
	return ids, nil
}

func (s *Service) recordError(ctx context.Context, span trace.Span, op string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if s.errorCounter != nil {
		s.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
	}
	s.logger.Warn("checkpoint operation failed", zap.String("operation", op), zap.Error(err))
}
