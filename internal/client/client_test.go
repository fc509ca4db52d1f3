package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	api "github.com/fyrsmithlabs/orchestrd/internal/http"
	"github.com/fyrsmithlabs/orchestrd/internal/hitl"
	"github.com/fyrsmithlabs/orchestrd/internal/natsbus"
	"github.com/fyrsmithlabs/orchestrd/internal/natsbus/natstest"
	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
	"github.com/fyrsmithlabs/orchestrd/internal/runner"
	"github.com/fyrsmithlabs/orchestrd/internal/runner/runnertest"
)

type daemon struct {
	client *Client
	hitl   *hitl.Manager
	nodes  *runnertest.Nodes
}

func startDaemon(t *testing.T) *daemon {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg, nodes := runnertest.Registry(t)

	nc := natstest.Connect(t)
	pub := natsbus.NewPublisher(nc, natsbus.Subjects{}, logger)
	mgr := hitl.NewManager(hitl.Config{}, hitl.WithLogger(logger), hitl.WithBroadcaster(pub))
	r, err := runner.New(runner.Config{Registry: reg, Logger: logger, HITL: mgr, Sinks: []orchestrator.EventSink{pub}})
	require.NoError(t, err)

	srv, err := api.NewServer(r, mgr, logger, nil, api.WithEventStream(nc, pub.Subjects()), api.WithVersion("test"))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
		mgr.Close()
	})
	return &daemon{client: New(ts.URL + "/"), hitl: mgr, nodes: nodes}
}

var analysis = orchestrator.Analysis{
	RequiredCapabilities: orchestrator.AllCapabilities(),
	Strategy:             string(orchestrator.StrategyStagedApproval),
}

func waitPending(t *testing.T, c *Client, workflowID string) hitl.Request {
	t.Helper()
	var reqs []hitl.Request
	require.Eventually(t, func() bool {
		var err error
		reqs, err = c.PendingRequests(context.Background(), workflowID)
		return err == nil && len(reqs) == 1
	}, 3*time.Second, 10*time.Millisecond)
	return reqs[0]
}

func TestNew(t *testing.T) {
	assert.Equal(t, DefaultURL, New("").BaseURL())
	assert.Equal(t, "http://host:1", New("http://host:1///").BaseURL())

	c := New("", WithTimeout(time.Second))
	assert.Equal(t, time.Second, c.client.Timeout)

	hc := &http.Client{}
	assert.Same(t, hc, New("", WithHTTPClient(hc)).client)
}

func TestClient_Health(t *testing.T) {
	d := startDaemon(t)
	h, err := d.client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "test", h.Version)
	assert.True(t, h.EventStream)
}

func TestClient_Plan(t *testing.T) {
	d := startDaemon(t)
	p, err := d.client.Plan(context.Background(), analysis)
	require.NoError(t, err)
	assert.Contains(t, p.Rendered, "human_approval")
	assert.Equal(t, orchestrator.StrategyStagedApproval, p.Plan.Strategy)
}

func TestClient_ApprovalRoundTrip(t *testing.T) {
	d := startDaemon(t)
	ctx := context.Background()

	wf, err := d.client.StartWorkflow(ctx, runner.StartRequest{WorkflowID: "wf-1", Task: "build", Analysis: analysis})
	require.NoError(t, err)
	assert.Equal(t, "wf-1", wf.ID)

	req := waitPending(t, d.client, "wf-1")
	got, err := d.client.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, hitl.StatusPending, got.Status)

	res, err := d.client.Respond(ctx, hitl.Response{RequestID: req.ID, Action: hitl.ActionApprove, RespondedBy: "tester"})
	require.NoError(t, err)
	assert.Equal(t, hitl.StatusApproved, res.Status)

	_, err = d.client.Respond(ctx, hitl.Response{RequestID: req.ID, Action: hitl.ActionApprove})
	assert.True(t, IsStatus(err, http.StatusConflict))

	require.Eventually(t, func() bool {
		w, err := d.client.GetWorkflow(ctx, "wf-1")
		return err == nil && w.Done()
	}, 3*time.Second, 10*time.Millisecond)

	list, err := d.client.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, orchestrator.StatusCompleted, list[0].Status)
}

func TestClient_CancelWorkflow(t *testing.T) {
	d := startDaemon(t)
	d.nodes.Block = make(chan struct{})
	defer close(d.nodes.Block)
	ctx := context.Background()

	_, err := d.client.StartWorkflow(ctx, runner.StartRequest{WorkflowID: "wf-c", Task: "t", Analysis: analysis})
	require.NoError(t, err)
	_, err = d.client.CancelWorkflow(ctx, "wf-c", "stop")
	require.NoError(t, err)

	_, err = d.client.CancelWorkflow(ctx, "missing", "")
	assert.True(t, IsStatus(err, http.StatusNotFound))

	_, err = d.client.GetWorkflow(ctx, "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "workflow not found", apiErr.Message)
}

func TestClient_ResumeWithoutCheckpoints(t *testing.T) {
	d := startDaemon(t)
	_, err := d.client.ResumeWorkflow(context.Background(), "wf", analysis)
	assert.True(t, IsStatus(err, http.StatusNotImplemented))
}

func TestClient_CancelRequest(t *testing.T) {
	d := startDaemon(t)
	ctx := context.Background()

	_, err := d.client.StartWorkflow(ctx, runner.StartRequest{WorkflowID: "wf-r", Task: "t", Analysis: analysis})
	require.NoError(t, err)
	req := waitPending(t, d.client, "wf-r")

	got, err := d.client.CancelRequest(ctx, req.ID, "not needed")
	require.NoError(t, err)
	assert.Equal(t, hitl.StatusCancelled, got.Status)

	_, err = d.client.CancelRequest(ctx, req.ID, "")
	assert.True(t, IsStatus(err, http.StatusConflict))
}

func TestClient_StreamEvents(t *testing.T) {
	d := startDaemon(t)
	d.nodes.Block = make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := d.client.StartWorkflow(ctx, runner.StartRequest{
		WorkflowID: "wf-s",
		Task:       "t",
		Analysis:   orchestrator.Analysis{RequiredCapabilities: []orchestrator.Capability{orchestrator.CapabilityImplementation}},
	})
	require.NoError(t, err)

	var names []string
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(d.nodes.Block)
	}()
	err = d.client.StreamEvents(ctx, "wf-s", func(ev Event) error {
		names = append(names, ev.Name)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "done", names[len(names)-1])

	err = d.client.StreamEvents(ctx, "missing", func(Event) error { return nil })
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestStreamEvents_Parsing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": heartbeat\n\n")
		fmt.Fprint(w, "event: started\ndata: {\"a\":1}\n\n")
		fmt.Fprint(w, "event: hitl.request_created\ndata: line1\ndata: line2\n\n")
		fmt.Fprint(w, "event: done\ndata: {}\n\n")
		fmt.Fprint(w, "event: ignored\ndata: x\n\n")
	}))
	defer ts.Close()

	var got []Event
	err := New(ts.URL).StreamEvents(context.Background(), "wf", func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "started", got[0].Name)
	assert.JSONEq(t, `{"a":1}`, string(got[0].Data))
	assert.Equal(t, "line1\nline2", string(got[1].Data))
	assert.True(t, got[2].Done())
}

func TestStreamEvents_CallbackError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "event: started\ndata: {}\n\n")
	}))
	defer ts.Close()

	stop := fmt.Errorf("stop")
	err := New(ts.URL).StreamEvents(context.Background(), "wf", func(Event) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestDecodeError_PlainBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(ts.URL).Health(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Message)
	assert.Equal(t, "orchestrd: HTTP 502: boom", apiErr.Error())
}
