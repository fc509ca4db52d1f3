package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Engine.DefaultMaxIterations)
	assert.Equal(t, 5*time.Minute, cfg.Engine.NodeTimeout.Duration())
	assert.Equal(t, BackendKV, cfg.Checkpoint.Backend)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":8080"
engine:
  node_timeout: 90s
  max_iterations_policy: fail
checkpoint:
  backend: memory
nats:
  token: s3cret
nodes:
  exec:
    commands:
      reviewer: ./review.sh --strict
logging:
  level: debug
`, 0o600)
	t.Setenv("ORCHESTRD_ENGINE_DEFAULT_MAX_ITERATIONS", "5")
	t.Setenv("ORCHESTRD_SERVER_ADDR", ":9999")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr, "env wins over file")
	assert.Equal(t, 90*time.Second, cfg.Engine.NodeTimeout.Duration())
	assert.Equal(t, "fail", cfg.Engine.MaxIterationsPolicy)
	assert.Equal(t, 5, cfg.Engine.DefaultMaxIterations)
	assert.Equal(t, BackendMemory, cfg.Checkpoint.Backend)
	assert.Equal(t, "s3cret", cfg.NATS.Token.Value())
	assert.Equal(t, 30*time.Minute, cfg.Engine.ApprovalTimeout.Duration(), "untouched fields keep defaults")
	assert.Equal(t, map[string]string{"reviewer": "./review.sh --strict"}, cfg.Nodes.Exec.Commands)

	var logging struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	}
	logging.Format = "json"
	require.NoError(t, cfg.Section("logging", &logging))
	assert.Equal(t, "debug", logging.Level)
	assert.Equal(t, "json", logging.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_DefaultPathAbsent(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
}

func TestLoad_RejectsWritableFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs")
	}
	for _, perm := range []os.FileMode{0o620, 0o602, 0o666} {
		t.Run(perm.String(), func(t *testing.T) {
			_, err := Load(writeConfig(t, "server:\n  addr: :1\n", perm))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "insecure config file permissions")
		})
	}
	_, err := Load(writeConfig(t, "server:\n  addr: :1\n", 0o644))
	assert.NoError(t, err, "world readable is fine")
}

func TestLoad_TooLarge(t *testing.T) {
	body := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	_, err := Load(writeConfig(t, body, 0o600))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad policy", "engine:\n  max_iterations_policy: loop\n", "max_iterations_policy"},
		{"bad timeout policy", "engine:\n  approval_timeout_policy: maybe\n", "approval_timeout_policy"},
		{"bad backend", "checkpoint:\n  backend: s3\n", "checkpoint.backend"},
		{"no iterations", "engine:\n  default_max_iterations: 0\n", "default_max_iterations"},
		{"external without url", "nats:\n  embedded: false\n  url: \"\"\n", "nats.url"},
		{"bad duration", "engine:\n  node_timeout: soon\n", "unmarshal"},
		{"empty exec command", "nodes:\n  exec:\n    commands:\n      coder: \" \"\n", "nodes.exec.commands.coder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body, 0o600))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "engine.node_timeout", envKey("ORCHESTRD_ENGINE_NODE_TIMEOUT"))
	assert.Equal(t, "server.addr", envKey("ORCHESTRD_SERVER_ADDR"))
	assert.Equal(t, "debug", envKey("ORCHESTRD_DEBUG"))
}

func TestSection_NoLoader(t *testing.T) {
	var out struct{ Level string }
	assert.NoError(t, Default().Section("logging", &out))
}

func TestSecret(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct{ Token Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("later")))

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `"1m30s"`, string(data))
}
