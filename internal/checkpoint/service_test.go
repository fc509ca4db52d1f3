package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

type failingStore struct {
	*MemoryStore
	err error
}

func (f *failingStore) Save(context.Context, string, orchestrator.Snapshot) error {
	return f.err
}

func newTestService(t *testing.T, store Store) (*Service, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc := NewService(store, zaptest.NewLogger(t),
		WithTracerProvider(tp),
		WithMeterProvider(noop.NewMeterProvider()))
	return svc, rec
}

func TestService_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, rec := newTestService(t, NewMemoryStore())

	require.NoError(t, svc.Save(ctx, "wf-1", testSnapshot("wf-1")))
	snap, err := svc.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", snap.WorkflowID)

	ids, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-1"}, ids)
	require.NoError(t, svc.Delete(ctx, "wf-1"))

	var names []string
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"checkpoint.Save", "checkpoint.Load", "checkpoint.List", "checkpoint.Delete"}, names)
}

func TestService_NotFoundIsNotAnError(t *testing.T) {
	svc, rec := newTestService(t, NewMemoryStore())

	_, err := svc.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
}

func TestService_SaveError(t *testing.T) {
	boom := errors.New("disk full")
	svc, rec := newTestService(t, &failingStore{MemoryStore: NewMemoryStore(), err: boom})

	err := svc.Save(context.Background(), "wf-1", testSnapshot("wf-1"))
	assert.ErrorIs(t, err, boom)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "disk full", spans[0].Status().Description)
}
