package nodes

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/zricethezav/gitleaks/v8/detect"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

// Finding is a secret detected in an artifact.
type Finding struct {
	RuleID string
	Path   string
	Line   int
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: possible secret (%s) at line %d", f.Path, f.RuleID, f.Line)
}

// SecurityGate is the built-in security_gate node. It approves the artifacts
// when gitleaks reports no findings.
type SecurityGate struct {
	mu        sync.RWMutex
	allowlist *Allowlist
	path      string
	logger    *zap.Logger
}

// SecurityGateOption configures a SecurityGate
type SecurityGateOption func(*SecurityGate)

// WithAllowlistFile loads the allowlist from path
func WithAllowlistFile(path string) SecurityGateOption {
	return func(g *SecurityGate) { g.path = path }
}

// WithSecurityLogger sets the logger
func WithSecurityLogger(logger *zap.Logger) SecurityGateOption {
	return func(g *SecurityGate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewSecurityGate creates the gate and loads its allowlist
func NewSecurityGate(opts ...SecurityGateOption) (*SecurityGate, error) {
	g := &SecurityGate{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	allowlist, err := LoadAllowlist(g.path)
	if err != nil {
		return nil, err
	}
	g.allowlist = allowlist
	return g, nil
}

// Scan returns the findings for a set of artifacts
func (g *SecurityGate) Scan(artifacts []orchestrator.Artifact) ([]Finding, error) {
	g.mu.RLock()
	allowlist := g.allowlist
	g.mu.RUnlock()

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating detector: %w", err)
	}
	allowlist.apply(&detector.Config)

	var findings []Finding
	for _, a := range artifacts {
		if allowlist.SkipPath(a.Path) {
			continue
		}
		for _, f := range detector.DetectString(a.Content) {
			findings = append(findings, Finding{RuleID: f.RuleID, Path: a.Path, Line: f.StartLine})
		}
	}
	return findings, nil
}

// Run implements orchestrator.Node
func (g *SecurityGate) Run(ctx context.Context, state *orchestrator.State) (orchestrator.Update, error) {
	if err := ctx.Err(); err != nil {
		return orchestrator.Update{}, err
	}
	findings, err := g.Scan(state.Artifacts)
	if err != nil {
		return orchestrator.Update{}, err
	}

	result := &orchestrator.GateResult{NodeID: orchestrator.NodeSecurityGate, Approved: len(findings) == 0}
	for _, f := range findings {
		result.Issues = append(result.Issues, f.String())
	}
	score := 1.0
	if len(findings) > 0 {
		score = 0
	}
	result.Score = &score

	g.logger.Debug("security scan complete",
		zap.String("workflow_id", state.WorkflowID),
		zap.Int("artifacts", len(state.Artifacts)),
		zap.Int("findings", len(findings)))
	return orchestrator.Update{Gate: result}, nil
}

// Reload re-reads the allowlist file. On error the previous allowlist stays.
func (g *SecurityGate) Reload() error {
	allowlist, err := LoadAllowlist(g.path)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.allowlist = allowlist
	g.mu.Unlock()
	return nil
}

// Watch reloads the allowlist whenever its file changes until ctx is done.
// It returns once the watcher is installed.
func (g *SecurityGate) Watch(ctx context.Context) error {
	if g.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating allowlist watcher: %w", err)
	}
	// watch the directory so editors that replace the file are seen
	if err := watcher.Add(filepath.Dir(g.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", g.path, err)
	}

	target := filepath.Clean(g.path)
	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := g.Reload(); err != nil {
					g.logger.Warn("allowlist reload failed, keeping previous", zap.Error(err))
					continue
				}
				g.logger.Info("allowlist reloaded", zap.String("path", g.path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				g.logger.Warn("allowlist watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
