package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchestrd/internal/natsbus"
	"github.com/fyrsmithlabs/orchestrd/internal/natsbus/natstest"
	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

func TestRemote_RoundTrip(t *testing.T) {
	nc := natstest.Connect(t)
	subject := natsbus.Subjects{}.Node(string(orchestrator.NodeReviewer))

	worker := orchestrator.NodeFunc(func(ctx context.Context, st *orchestrator.State) (orchestrator.Update, error) {
		deadline, ok := ctx.Deadline()
		if !ok || time.Until(deadline) > 2*time.Second {
			return orchestrator.Update{}, errors.New("caller deadline not propagated")
		}
		return orchestrator.Update{
			Gate:     &orchestrator.GateResult{Approved: len(st.Artifacts) > 0, Issues: []string{"nit"}},
			Feedback: []string{"reviewed " + st.WorkflowID},
		}, nil
	})
	sub, err := ServeRemote(nc, subject, worker, nil)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	remote := NewRemote(nc, orchestrator.NodeReviewer, subject, 2*time.Second)
	st := orchestrator.NewState("wf-r", "task", 3)
	st.Artifacts = []orchestrator.Artifact{{Path: "a.go", Content: "package a"}}

	update, err := remote.Run(context.Background(), st)
	require.NoError(t, err)
	require.NotNil(t, update.Gate)
	assert.Equal(t, orchestrator.NodeReviewer, update.Gate.NodeID)
	assert.True(t, update.Gate.Approved)
	assert.Equal(t, []string{"reviewed wf-r"}, update.Feedback)
}

func TestRemote_WorkerError(t *testing.T) {
	nc := natstest.Connect(t)
	subject := natsbus.Subjects{}.Node(string(orchestrator.NodeCoder))

	_, err := ServeRemote(nc, subject, orchestrator.NodeFunc(func(context.Context, *orchestrator.State) (orchestrator.Update, error) {
		return orchestrator.Update{}, errors.New("model unavailable")
	}), nil)
	require.NoError(t, err)

	remote := NewRemote(nc, orchestrator.NodeCoder, subject, 2*time.Second)
	_, err = remote.Run(context.Background(), orchestrator.NewState("wf", "task", 3))
	assert.ErrorIs(t, err, ErrRemoteNode)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestRemote_NoWorker(t *testing.T) {
	nc := natstest.Connect(t)
	remote := NewRemote(nc, orchestrator.NodeQAGate, "orchestrd.nodes.nobody", 200*time.Millisecond)

	_, err := remote.Run(context.Background(), orchestrator.NewState("wf", "task", 3))
	assert.Error(t, err)
}

func TestServeRemote_RecoversPanic(t *testing.T) {
	nc := natstest.Connect(t)
	subject := natsbus.Subjects{}.Node(string(orchestrator.NodeQAGate))

	var calls atomic.Int32
	sub, err := ServeRemote(nc, subject, orchestrator.NodeFunc(func(context.Context, *orchestrator.State) (orchestrator.Update, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return orchestrator.Update{Gate: &orchestrator.GateResult{Approved: true}}, nil
	}), nil)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	remote := NewRemote(nc, orchestrator.NodeQAGate, subject, 2*time.Second)
	_, err = remote.Run(context.Background(), orchestrator.NewState("wf", "task", 3))
	require.ErrorIs(t, err, ErrRemoteNode)
	assert.Contains(t, err.Error(), "boom")

	// the worker keeps serving after a panic
	update, err := remote.Run(context.Background(), orchestrator.NewState("wf", "task", 3))
	require.NoError(t, err)
	require.NotNil(t, update.Gate)
	assert.True(t, update.Gate.Approved)
}

func TestServeRemote_HonorsRequestDeadline(t *testing.T) {
	nc := natstest.Connect(t)
	subject := natsbus.Subjects{}.Node(string(orchestrator.NodeReviewer))

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	sub, err := ServeRemote(nc, subject, orchestrator.NodeFunc(func(context.Context, *orchestrator.State) (orchestrator.Update, error) {
		<-release
		return orchestrator.Update{}, nil
	}), nil)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	data, err := json.Marshal(RemoteRequest{
		Node:     orchestrator.NodeReviewer,
		State:    orchestrator.NewState("wf", "task", 3),
		Deadline: time.Now().Add(100 * time.Millisecond),
	})
	require.NoError(t, err)

	start := time.Now()
	msg, err := nc.Request(subject, data, 3*time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var reply RemoteReply
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	assert.Contains(t, reply.Error, context.DeadlineExceeded.Error())
}
