package logging

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/orchestrd/internal/config"
)

func bufferLogger(t *testing.T, cfg *Config) (*Logger, *zaptest.Buffer) {
	t.Helper()
	buf := &zaptest.Buffer{}
	core, err := newCore(cfg, buf, nil)
	require.NoError(t, err)
	return &Logger{zap: build(core, cfg)}, buf
}

func decodeLines(t *testing.T, buf *zaptest.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range buf.Lines() {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad format", func(c *Config) { c.Format = "xml" }, "format"},
		{"no output", func(c *Config) { c.Output = OutputConfig{} }, "output"},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, "tick"},
		{"sampled error level", func(c *Config) {
			c.Sampling.Levels[zapcore.ErrorLevel] = LevelSamplingConfig{Initial: 1}
		}, "cannot be sampled"},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, "invalid redaction pattern"},
		{"long pattern", func(c *Config) { c.Redaction.Patterns = []string{strings.Repeat("a", 201)} }, "too long"},
		{"empty field", func(c *Config) { c.Fields = map[string]string{"env": ""} }, "constant field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogger_ContextFields(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	logger, buf := bufferLogger(t, cfg)

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	ctx = WithWorkflowID(ctx, "wf-42")
	ctx = WithRequestID(ctx, "req-7")
	ctx = WithNode(ctx, "coder")

	logger.Info(ctx, "phase completed", zap.Int("iteration", 1))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	assert.Equal(t, "phase completed", entry["msg"])
	assert.Equal(t, "orchestrd", entry["service"])
	assert.Equal(t, "wf-42", entry["workflow_id"])
	assert.Equal(t, "req-7", entry["request_id"])
	assert.Equal(t, "coder", entry["node"])
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
}

func TestContext_EmptyIDsIgnored(t *testing.T) {
	ctx := WithRequestID(WithWorkflowID(context.Background(), ""), "")
	assert.Empty(t, ContextFields(ctx))
	assert.NotNil(t, FromContext(ctx))

	l := NewTestLogger()
	assert.Same(t, l.Logger, FromContext(WithLogger(ctx, l.Logger)))
}

func TestLogger_TraceLevel(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = TraceLevel
	cfg.Sampling.Enabled = false
	logger, buf := bufferLogger(t, cfg)

	logger.Trace(context.Background(), "payload")
	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace", lines[0]["level"])

	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)
	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestRedaction(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	logger, buf := bufferLogger(t, cfg)

	logger.With(zap.String("nats_token", "s3cr3t")).Info(context.Background(), "connecting with Bearer abc.def",
		zap.String("password", "hunter2"),
		zap.String("feedback", "use api_key=XYZ123 please"),
		zap.String("task", "add endpoint"),
		Secret("token_field", config.Secret("abcdef")),
	)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	e := lines[0]
	assert.Equal(t, "[REDACTED]", e["nats_token"])
	assert.Equal(t, "[REDACTED]", e["password"])
	assert.NotContains(t, e["feedback"], "XYZ123")
	assert.NotContains(t, e["msg"], "abc.def")
	assert.Equal(t, "add endpoint", e["task"])
	assert.Equal(t, "[REDACTED:6]", e["token_field"])
}

func TestRedaction_Disabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	cfg.Redaction.Enabled = false
	logger, buf := bufferLogger(t, cfg)

	logger.Info(context.Background(), "x", zap.String("password", "hunter2"))
	assert.Equal(t, "hunter2", decodeLines(t, buf)[0]["password"])
}

func TestSampling_PerLevel(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = zapcore.DebugLevel
	cfg.Sampling.Tick = config.Duration(time.Minute)
	cfg.Sampling.Levels = map[zapcore.Level]LevelSamplingConfig{
		zapcore.DebugLevel: {Initial: 2},
		zapcore.InfoLevel:  {Initial: 5},
	}
	logger, buf := bufferLogger(t, cfg)
	ctx := context.Background()

	for range 10 {
		logger.Debug(ctx, "debug")
		logger.Info(ctx, "info")
		logger.Warn(ctx, "warn")
		logger.Error(ctx, "error")
	}

	counts := map[string]int{}
	for _, line := range decodeLines(t, buf) {
		counts[line["msg"].(string)]++
	}
	assert.Equal(t, 2, counts["debug"])
	assert.Equal(t, 5, counts["info"])
	assert.Equal(t, 10, counts["warn"], "levels without an entry are not sampled")
	assert.Equal(t, 10, counts["error"])
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "yaml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)

	cfg = NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}
	_, err = NewLogger(cfg, nil)
	assert.Error(t, err, "otel output without a provider leaves nothing to write to")
}

func TestTestLogger(t *testing.T) {
	l := NewTestLogger()
	l.Warn(WithWorkflowID(context.Background(), "wf-1"), "gate errored", zap.String("node", "qa_gate"))

	l.AssertLogged(t, zapcore.WarnLevel, "gate errored")
	l.AssertField(t, "gate errored", "workflow_id", "wf-1")
	l.AssertField(t, "gate errored", "node", "qa_gate")
	assert.Len(t, l.All(), 1)
}

func TestNewLoggerTo(t *testing.T) {
	buf := &zaptest.Buffer{}
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false

	l, err := NewLoggerTo(cfg, buf, nil)
	require.NoError(t, err)
	l.Info(context.Background(), "hello", zap.String("k", "v"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "hello", lines[0]["msg"])
	assert.Equal(t, "orchestrd", lines[0]["service"])
}
