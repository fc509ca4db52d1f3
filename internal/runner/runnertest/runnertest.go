// Package runnertest provides stub nodes for tests that drive full runs.
package runnertest

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

// Nodes holds the stub implementations so tests can adjust them.
type Nodes struct {
	// Approve controls every gate verdict
	Approve atomic.Bool
	// Block, when set, makes the coder wait until it is closed or ctx ends
	Block chan struct{}

	CoderCalls atomic.Int32
}

// Registry returns a registry where every node is a stub. Gates approve by
// default.
func Registry(t *testing.T) (*orchestrator.Registry, *Nodes) {
	t.Helper()
	n := &Nodes{}
	n.Approve.Store(true)

	gate := func(id orchestrator.NodeID) orchestrator.Node {
		return orchestrator.NodeFunc(func(context.Context, *orchestrator.State) (orchestrator.Update, error) {
			r := &orchestrator.GateResult{NodeID: id, Approved: n.Approve.Load()}
			if !r.Approved {
				r.Issues = []string{"needs work"}
			}
			return orchestrator.Update{Gate: r}, nil
		})
	}

	reg := orchestrator.NewRegistry()
	require.NoError(t, reg.Register(orchestrator.NodeCoder, orchestrator.NodeFunc(
		func(ctx context.Context, st *orchestrator.State) (orchestrator.Update, error) {
			n.CoderCalls.Add(1)
			if n.Block != nil {
				select {
				case <-n.Block:
				case <-ctx.Done():
					return orchestrator.Update{}, ctx.Err()
				}
			}
			return orchestrator.Update{Artifacts: []orchestrator.Artifact{{Path: "main.go", Content: "package main"}}}, nil
		})))
	require.NoError(t, reg.Register(orchestrator.NodeRefiner, orchestrator.NodeFunc(
		func(context.Context, *orchestrator.State) (orchestrator.Update, error) {
			return orchestrator.Update{Feedback: []string{"refined"}}, nil
		})))
	require.NoError(t, reg.Register(orchestrator.NodePersistence, orchestrator.NodeFunc(
		func(context.Context, *orchestrator.State) (orchestrator.Update, error) {
			return orchestrator.Update{Data: map[string]string{"commit": "abc123"}}, nil
		})))
	for _, id := range []orchestrator.NodeID{orchestrator.NodeReviewer, orchestrator.NodeSecurityGate, orchestrator.NodeQAGate} {
		require.NoError(t, reg.Register(id, gate(id)))
	}
	return reg, n
}
