package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchestrd/internal/natsbus/natstest"
	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

func testSnapshot(id string) orchestrator.Snapshot {
	st := orchestrator.NewState(id, "add a health endpoint", 3)
	st.Artifacts = []orchestrator.Artifact{{Path: "main.go", Content: "package main", Language: "go"}}
	st.CompletedNodes = []orchestrator.NodeID{orchestrator.NodeCoder}
	return orchestrator.Snapshot{
		LastNode:  orchestrator.NodeCoder,
		NextPhase: 1,
		State:     st,
		SavedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}

func storeContract(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, store.Save(ctx, "wf-b", testSnapshot("wf-b")))
	require.NoError(t, store.Save(ctx, "wf-a", testSnapshot("wf-a")))

	snap, err := store.Load(ctx, "wf-a")
	require.NoError(t, err)
	assert.Equal(t, "wf-a", snap.WorkflowID)
	assert.Equal(t, orchestrator.NodeCoder, snap.LastNode)
	assert.Equal(t, 1, snap.NextPhase)
	require.NotNil(t, snap.State)
	assert.Equal(t, "add a health endpoint", snap.State.Task)
	require.Len(t, snap.State.Artifacts, 1)
	assert.Equal(t, "main.go", snap.State.Artifacts[0].Path)

	// newer snapshot replaces the old one
	next := testSnapshot("wf-a")
	next.LastNode = orchestrator.NodeAggregator
	next.NextPhase = 3
	require.NoError(t, store.Save(ctx, "wf-a", next))
	snap, err = store.Load(ctx, "wf-a")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.NodeAggregator, snap.LastNode)
	assert.Equal(t, 3, snap.NextPhase)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-a", "wf-b"}, ids)

	require.NoError(t, store.Delete(ctx, "wf-a"))
	_, err = store.Load(ctx, "wf-a")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-b"}, ids)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_Isolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	snap := testSnapshot("wf-1")
	require.NoError(t, store.Save(ctx, "wf-1", snap))

	snap.State.Task = "mutated"
	loaded, err := store.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "add a health endpoint", loaded.State.Task)

	loaded.State.Task = "mutated again"
	again, err := store.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "add a health endpoint", again.State.Task)
}

func TestSave_Invalid(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tests := []struct {
		name string
		id   string
		snap orchestrator.Snapshot
	}{
		{"empty id", "", testSnapshot("x")},
		{"wildcard", "wf.*", testSnapshot("x")},
		{"space", "wf 1", testSnapshot("x")},
		{"nil state", "wf-1", orchestrator.Snapshot{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, store.Save(ctx, tt.id, tt.snap))
		})
	}
	assert.ErrorIs(t, store.Save(ctx, "", testSnapshot("x")), ErrInvalidID)
}

func TestKVStore(t *testing.T) {
	js := natstest.JetStream(t)
	store, err := NewKVStore(context.Background(), js, KVConfig{Bucket: "TEST_CHECKPOINTS"})
	require.NoError(t, err)

	storeContract(t, store)
}

func TestKVStore_EmptyBucket(t *testing.T) {
	js := natstest.JetStream(t)
	store, err := NewKVStore(context.Background(), js, KVConfig{})
	require.NoError(t, err)

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)

	assert.NoError(t, store.Delete(context.Background(), "never-saved"))
	_, err = store.Load(context.Background(), "bad id")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestKVStore_SatisfiesEngine(t *testing.T) {
	var _ orchestrator.SnapshotStore = (*KVStore)(nil)
	var _ orchestrator.SnapshotStore = (*MemoryStore)(nil)
	var _ orchestrator.SnapshotStore = (*Service)(nil)
}
