package nodes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

// Keys written to State.Data by GitPersistence
const (
	DataCommit         = "commit"
	DataPersistedFiles = "persisted_files"
)

var ErrUnsafePath = errors.New("artifact path escapes repository")

// GitPersistence is the built-in persistence node. It writes artifacts into a
// git working tree, initializing the repository if needed, and commits them.
type GitPersistence struct {
	dir         string
	authorName  string
	authorEmail string
	logger      *zap.Logger

	// go-git worktrees are not safe for concurrent commits
	mu sync.Mutex
}

// GitPersistenceOption configures GitPersistence
type GitPersistenceOption func(*GitPersistence)

// WithAuthor sets the commit author
func WithAuthor(name, email string) GitPersistenceOption {
	return func(p *GitPersistence) {
		p.authorName = name
		p.authorEmail = email
	}
}

// WithPersistenceLogger sets the logger
func WithPersistenceLogger(logger *zap.Logger) GitPersistenceOption {
	return func(p *GitPersistence) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewGitPersistence commits into the repository at dir
func NewGitPersistence(dir string, opts ...GitPersistenceOption) *GitPersistence {
	p := &GitPersistence{
		dir:         dir,
		authorName:  "orchestrd",
		authorEmail: "orchestrd@localhost",
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *GitPersistence) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(p.dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(p.dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", p.dir, err)
		}
		repo, err = git.PlainInit(p.dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", p.dir, err)
	}
	return repo, nil
}

// Run implements orchestrator.Node
func (p *GitPersistence) Run(ctx context.Context, state *orchestrator.State) (orchestrator.Update, error) {
	if err := ctx.Err(); err != nil {
		return orchestrator.Update{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	repo, err := p.open()
	if err != nil {
		return orchestrator.Update{}, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return orchestrator.Update{}, fmt.Errorf("opening worktree: %w", err)
	}

	for _, a := range state.Artifacts {
		rel := filepath.Clean(filepath.FromSlash(a.Path))
		if !filepath.IsLocal(rel) {
			return orchestrator.Update{}, fmt.Errorf("%w: %q", ErrUnsafePath, a.Path)
		}
		full := filepath.Join(p.dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return orchestrator.Update{}, fmt.Errorf("creating directory for %s: %w", a.Path, err)
		}
		if err := os.WriteFile(full, []byte(a.Content), 0o644); err != nil {
			return orchestrator.Update{}, fmt.Errorf("writing %s: %w", a.Path, err)
		}
		if _, err := wt.Add(filepath.ToSlash(rel)); err != nil {
			return orchestrator.Update{}, fmt.Errorf("staging %s: %w", a.Path, err)
		}
	}

	status, err := wt.Status()
	if err != nil {
		return orchestrator.Update{}, fmt.Errorf("reading status: %w", err)
	}
	if status.IsClean() {
		// nothing changed since the last commit
		head, err := repo.Head()
		if err != nil {
			return orchestrator.Update{Data: map[string]string{DataPersistedFiles: "0"}}, nil
		}
		return orchestrator.Update{Data: map[string]string{
			DataCommit:         head.Hash().String(),
			DataPersistedFiles: "0",
		}}, nil
	}

	hash, err := wt.Commit(commitMessage(state), &git.CommitOptions{
		Author: &object.Signature{Name: p.authorName, Email: p.authorEmail, When: time.Now()},
	})
	if err != nil {
		return orchestrator.Update{}, fmt.Errorf("committing: %w", err)
	}

	p.logger.Info("artifacts committed",
		zap.String("workflow_id", state.WorkflowID),
		zap.String("commit", hash.String()),
		zap.Int("files", len(state.Artifacts)))

	return orchestrator.Update{Data: map[string]string{
		DataCommit:         hash.String(),
		DataPersistedFiles: strconv.Itoa(len(state.Artifacts)),
	}}, nil
}

const maxTitleBytes = 72

func commitMessage(state *orchestrator.State) string {
	title, _, _ := strings.Cut(strings.TrimSpace(state.Task), "\n")
	if len(title) > maxTitleBytes {
		cut := maxTitleBytes
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = title[:cut]
	}
	if title == "" {
		title = "workflow output"
	}
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\nWorkflow: ")
	b.WriteString(state.WorkflowID)
	b.WriteString("\nIterations: ")
	b.WriteString(strconv.Itoa(state.RefinementIteration))
	if state.ForcedApproval {
		b.WriteString("\nForced-Approval: true")
	}
	b.WriteString("\n")
	return b.String()
}
