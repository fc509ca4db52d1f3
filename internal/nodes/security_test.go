package nodes

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

// privateKey builds a PEM-looking block at runtime so this file is not itself flagged
func privateKey() string {
	body := strings.Repeat("MIIEowIBAAKCAQEAu1SU1LfVLPHCozMxH2Mo4lgOEePzNm0tRgeLezV6ffAt0gun\n", 4)
	return "-----BEGIN " + "RSA PRIVATE KEY-----\n" + body + "-----END " + "RSA PRIVATE KEY-----\n"
}

func gateState(artifacts ...orchestrator.Artifact) *orchestrator.State {
	st := orchestrator.NewState("wf-sec", "scan", 3)
	st.Artifacts = artifacts
	return st
}

func TestSecurityGate_Clean(t *testing.T) {
	gate, err := NewSecurityGate()
	require.NoError(t, err)

	update, err := gate.Run(context.Background(), gateState(orchestrator.Artifact{
		Path:    "main.go",
		Content: "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n",
	}))
	require.NoError(t, err)
	require.NotNil(t, update.Gate)
	assert.Equal(t, orchestrator.NodeSecurityGate, update.Gate.NodeID)
	assert.True(t, update.Gate.Approved)
	assert.Empty(t, update.Gate.Issues)
	require.NotNil(t, update.Gate.Score)
	assert.Equal(t, 1.0, *update.Gate.Score)
}

func TestSecurityGate_Finding(t *testing.T) {
	gate, err := NewSecurityGate(WithSecurityLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	update, err := gate.Run(context.Background(), gateState(
		orchestrator.Artifact{Path: "README.md", Content: "# docs\n"},
		orchestrator.Artifact{Path: "deploy/key.pem", Content: privateKey()},
	))
	require.NoError(t, err)
	require.NotNil(t, update.Gate)
	assert.False(t, update.Gate.Approved)
	require.NotEmpty(t, update.Gate.Issues)
	assert.Contains(t, update.Gate.Issues[0], "deploy/key.pem")
}

func TestSecurityGate_PathAllowlist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowlist.toml")
	require.NoError(t, os.WriteFile(path, []byte("[allowlist]\npaths = ['''^testdata/''']\n"), 0o600))

	gate, err := NewSecurityGate(WithAllowlistFile(path))
	require.NoError(t, err)

	findings, err := gate.Scan([]orchestrator.Artifact{{Path: "testdata/key.pem", Content: privateKey()}})
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestSecurityGate_CancelledContext(t *testing.T) {
	gate, err := NewSecurityGate()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = gate.Run(ctx, gateState())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadAllowlist(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr error
		paths   int
		regexes int
	}{
		{"empty path", "", nil, 0, 0},
		{"missing file", filepath.Join(dir, "nope.toml"), nil, 0, 0},
		{"valid", write("ok.toml", "[allowlist]\npaths = ['a', 'b']\nregexes = ['EXAMPLE']\n"), nil, 2, 1},
		{"invalid toml", write("bad.toml", "[allowlist\n"), ErrInvalidTOML, 0, 0},
		{"invalid regex", write("re.toml", "[allowlist]\nregexes = ['(unclosed']\n"), ErrInvalidRegex, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := LoadAllowlist(tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, a.Paths, tt.paths)
			assert.Len(t, a.Regexes, tt.regexes)
		})
	}
}

func TestSecurityGate_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowlist.toml")
	require.NoError(t, os.WriteFile(path, []byte("[allowlist]\n"), 0o600))

	gate, err := NewSecurityGate(WithAllowlistFile(path), WithSecurityLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, gate.Watch(ctx))

	artifact := orchestrator.Artifact{Path: "fixtures/key.pem", Content: privateKey()}
	findings, err := gate.Scan([]orchestrator.Artifact{artifact})
	require.NoError(t, err)
	require.NotEmpty(t, findings)

	require.NoError(t, os.WriteFile(path, []byte("[allowlist]\npaths = ['''^fixtures/''']\n"), 0o600))

	assert.Eventually(t, func() bool {
		findings, err := gate.Scan([]orchestrator.Artifact{artifact})
		return err == nil && len(findings) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSecurityGate_WatchKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowlist.toml")
	require.NoError(t, os.WriteFile(path, []byte("[allowlist]\npaths = ['''^fixtures/''']\n"), 0o600))

	gate, err := NewSecurityGate(WithAllowlistFile(path))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[allowlist\n"), 0o600))
	assert.ErrorIs(t, gate.Reload(), ErrInvalidTOML)

	findings, err := gate.Scan([]orchestrator.Artifact{{Path: "fixtures/key.pem", Content: privateKey()}})
	require.NoError(t, err)
	assert.Empty(t, findings)
}
