package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	coder := &countingNode{}

	require.NoError(t, r.Register(NodeCoder, coder))
	assert.ErrorIs(t, r.Register(NodeCoder, coder), ErrDuplicateNode)
	assert.Error(t, r.Register(NodeAggregator, coder), "aggregator is built in")
	assert.Error(t, r.Register(NodeReviewer, nil))

	got, err := r.Resolve(CapabilityImplementation)
	require.NoError(t, err)
	assert.Same(t, coder, got)

	_, err = r.Lookup(NodeQAGate)
	assert.ErrorIs(t, err, ErrUnknownNode)

	require.NoError(t, r.Register(NodePersistence, &countingNode{}))
	assert.Equal(t, []NodeID{NodeCoder, NodePersistence}, r.IDs())
}

func TestRegistryCheck(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NodeCoder, &countingNode{}))
	require.NoError(t, r.Register(NodePersistence, &countingNode{}))

	plan := NewPlanner().BuildPlan(
		[]Capability{CapabilityImplementation, CapabilityReview},
		StrategyStagedApproval, false)

	err := r.Check(plan)
	require.ErrorIs(t, err, ErrUnknownNode)
	assert.Contains(t, err.Error(), "reviewer")
	assert.NotContains(t, err.Error(), "aggregator")

	require.NoError(t, r.Register(NodeReviewer, newGate(true)))
	assert.NoError(t, r.Check(plan))
}

func TestRateLimited(t *testing.T) {
	inner := &countingNode{}
	limiter := rate.NewLimiter(rate.Limit(0), 1)
	node := RateLimited(inner, limiter)

	_, err := node.Run(context.Background(), NewState("wf", "", 1))
	require.NoError(t, err)

	// bucket is empty and never refills
	_, err = node.Run(context.Background(), NewState("wf", "", 1))
	require.Error(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())

	assert.Same(t, inner, RateLimited(inner, nil))
}

func TestStateClone(t *testing.T) {
	score := 0.8
	st := NewState("wf", "task", 3)
	st.Artifacts = []Artifact{{Path: "a.go", Content: "x"}}
	st.GateResults = []GateResult{{NodeID: NodeReviewer, Score: &score, Issues: []string{"nit"}}}
	st.Data["k"] = "v"

	c := st.Clone()
	c.Artifacts[0].Content = "y"
	*c.GateResults[0].Score = 0.1
	c.GateResults[0].Issues[0] = "changed"
	c.Data["k"] = "w"

	assert.Equal(t, "x", st.Artifacts[0].Content)
	assert.Equal(t, 0.8, *st.GateResults[0].Score)
	assert.Equal(t, "nit", st.GateResults[0].Issues[0])
	assert.Equal(t, "v", st.Data["k"])
}
