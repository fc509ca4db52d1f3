package nodes

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

func TestGitPersistence_InitAndCommit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "repo")
	p := NewGitPersistence(dir, WithAuthor("Test", "test@example.com"))

	st := orchestrator.NewState("wf-git", "Add health endpoint\n\nwith details", 3)
	st.Artifacts = []orchestrator.Artifact{
		{Path: "main.go", Content: "package main\n"},
		{Path: "internal/health/health.go", Content: "package health\n"},
	}

	update, err := p.Run(context.Background(), st)
	require.NoError(t, err)
	require.Contains(t, update.Data, DataCommit)
	assert.Equal(t, "2", update.Data[DataPersistedFiles])

	content, err := os.ReadFile(filepath.Join(dir, "internal", "health", "health.go"))
	require.NoError(t, err)
	assert.Equal(t, "package health\n", string(content))

	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	commit, err := repo.CommitObject(plumbing.NewHash(update.Data[DataCommit]))
	require.NoError(t, err)
	assert.Equal(t, "Test", commit.Author.Name)
	assert.Contains(t, commit.Message, "Add health endpoint\n\nWorkflow: wf-git")
}

func TestGitPersistence_SecondRun(t *testing.T) {
	dir := t.TempDir()
	p := NewGitPersistence(dir)
	ctx := context.Background()

	st := orchestrator.NewState("wf-1", "first", 3)
	st.Artifacts = []orchestrator.Artifact{{Path: "a.txt", Content: "one"}}
	first, err := p.Run(ctx, st)
	require.NoError(t, err)

	// unchanged artifacts report the existing head
	same, err := p.Run(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, first.Data[DataCommit], same.Data[DataCommit])
	assert.Equal(t, "0", same.Data[DataPersistedFiles])

	st.Artifacts[0].Content = "two"
	second, err := p.Run(ctx, st)
	require.NoError(t, err)
	assert.NotEqual(t, first.Data[DataCommit], second.Data[DataCommit])
}

func TestGitPersistence_RejectsEscapingPaths(t *testing.T) {
	p := NewGitPersistence(t.TempDir())

	for _, path := range []string{"../outside.txt", "/etc/passwd", "a/../../b"} {
		st := orchestrator.NewState("wf", "task", 3)
		st.Artifacts = []orchestrator.Artifact{{Path: path, Content: "x"}}
		_, err := p.Run(context.Background(), st)
		assert.ErrorIs(t, err, ErrUnsafePath, path)
	}
}

func TestCommitMessage(t *testing.T) {
	st := orchestrator.NewState("wf-9", "", 3)
	st.RefinementIteration = 2
	st.ForcedApproval = true

	msg := commitMessage(st)
	assert.Equal(t, "workflow output\n\nWorkflow: wf-9\nIterations: 2\nForced-Approval: true\n", msg)
}

func TestCommitMessage_TruncatesOnRuneBoundary(t *testing.T) {
	tests := []struct {
		name  string
		task  string
		title string
	}{
		{"ascii", strings.Repeat("a", 80), strings.Repeat("a", 72)},
		{"rune across limit", strings.Repeat("a", 71) + "éé", strings.Repeat("a", 71)},
		{"multibyte only", strings.Repeat("日", 30), strings.Repeat("日", 24)},
		{"exact fit", strings.Repeat("a", 70) + "é", strings.Repeat("a", 70) + "é"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := commitMessage(orchestrator.NewState("wf", tt.task, 3))
			title, _, _ := strings.Cut(msg, "\n")
			assert.True(t, utf8.ValidString(title))
			assert.Equal(t, tt.title, title)
		})
	}
}
