package natsbus

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchestrd/internal/hitl"
	"github.com/fyrsmithlabs/orchestrd/internal/natsbus/natstest"
	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

func TestSubjects(t *testing.T) {
	s := Subjects{}
	assert.Equal(t, "orchestrd.workflows.wf-1.events.completed", s.WorkflowEvent("wf-1", "completed"))
	assert.Equal(t, "orchestrd.workflows.wf-1.events.*", s.WorkflowEvents("wf-1"))
	assert.Equal(t, "orchestrd.hitl.%.req-1.request_created", s.HITLEvent("", "req-1", "request_created"))
	assert.Equal(t, "orchestrd.hitl.>", s.HITLEvents())
	assert.Equal(t, "orchestrd.hitl.wf-1.>", s.WorkflowHITLEvents("wf-1"))

	custom := Subjects{Prefix: "acme"}
	assert.Equal(t, "acme.nodes.security_gate", custom.Node("security_gate"))
	assert.Equal(t, "acme.workflows.a%2Eb%2Ac.events.started", custom.WorkflowEvent("a.b*c", "started"))
}

func TestSubjects_DistinctIDsDoNotCollide(t *testing.T) {
	s := Subjects{}
	ids := []string{"team.a", "team_a", "team a", "team%2Ea", "team%a", "", "%", "_", "a>b", "a\tb", "a\u00a0b"}
	seen := make(map[string]string, len(ids))
	for _, id := range ids {
		subject := s.WorkflowEvents(id)
		if prev, ok := seen[subject]; ok {
			t.Fatalf("%q and %q share subject %s", prev, id, subject)
		}
		seen[subject] = id
		assert.Len(t, strings.Split(subject, "."), 5, "id %q must stay one token", id)
	}
}

func TestPublisher_Publish(t *testing.T) {
	nc := natstest.Connect(t)
	pub := NewPublisher(nc, Subjects{}, nil)

	sub, err := nc.SubscribeSync(pub.Subjects().WorkflowEvents("wf-1"))
	require.NoError(t, err)

	err = pub.Publish(context.Background(), orchestrator.Event{
		WorkflowID: "wf-1",
		Node:       orchestrator.NodeCoder,
		Status:     orchestrator.PhaseCompleted,
		Timestamp:  time.Now(),
	})
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "orchestrd.workflows.wf-1.events.completed", msg.Subject)

	var got orchestrator.Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, orchestrator.NodeCoder, got.Node)
	assert.Equal(t, orchestrator.PhaseCompleted, got.Status)
}

func TestPublisher_Broadcast(t *testing.T) {
	nc := natstest.Connect(t)
	pub := NewPublisher(nc, Subjects{Prefix: "test"}, nil)

	sub, err := nc.SubscribeSync(pub.Subjects().HITLEvents())
	require.NoError(t, err)

	err = pub.Broadcast(context.Background(), hitl.Event{
		Type:    hitl.EventRequestCreated,
		Request: hitl.Request{ID: "req-1", WorkflowID: "wf-1", Type: hitl.CheckpointApproval},
	})
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "test.hitl.wf-1.req-1.request_created", msg.Subject)
}

func TestPublisher_Closed(t *testing.T) {
	nc := natstest.Connect(t)
	nc.Close()
	pub := NewPublisher(nc, Subjects{}, nil)

	err := pub.Publish(context.Background(), orchestrator.Event{WorkflowID: "wf"})
	assert.ErrorIs(t, err, ErrNotConnected)

	err = NewPublisher(nil, Subjects{}, nil).Broadcast(context.Background(), hitl.Event{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestStartEmbedded(t *testing.T) {
	srv, err := StartEmbedded(EmbeddedConfig{StoreDir: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})

	nc, err := Connect(srv.ClientURL(), "test", nil)
	require.NoError(t, err)
	defer nc.Close()

	assert.Eventually(t, func() bool { return nc.Status() == nats.CONNECTED }, 2*time.Second, 10*time.Millisecond)
}
