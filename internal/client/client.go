// Package client is a small HTTP client for the orchestrd API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	api "github.com/fyrsmithlabs/orchestrd/internal/http"
	"github.com/fyrsmithlabs/orchestrd/internal/hitl"
	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
	"github.com/fyrsmithlabs/orchestrd/internal/runner"
)

// DefaultURL is where orchestrd serves its API unless configured otherwise.
const DefaultURL = "http://127.0.0.1:9191"

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("orchestrd: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("orchestrd: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client talks to one orchestrd daemon.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// New creates a client for baseURL. An empty baseURL means DefaultURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the daemon address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var out api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Plan asks the daemon to plan an analysis without running it.
func (c *Client) Plan(ctx context.Context, a orchestrator.Analysis) (api.PlanResponse, error) {
	var out api.PlanResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/plan", a, &out)
	return out, err
}

// StartWorkflow starts a run and returns its initial view.
func (c *Client) StartWorkflow(ctx context.Context, req runner.StartRequest) (runner.Workflow, error) {
	var out runner.Workflow
	err := c.do(ctx, http.MethodPost, "/api/v1/workflows", req, &out)
	return out, err
}

// ListWorkflows returns every tracked run, oldest first.
func (c *Client) ListWorkflows(ctx context.Context) ([]runner.Workflow, error) {
	var out api.WorkflowList
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflows", nil, &out); err != nil {
		return nil, err
	}
	return out.Workflows, nil
}

// GetWorkflow returns one run including its events.
func (c *Client) GetWorkflow(ctx context.Context, id string) (runner.Workflow, error) {
	var out runner.Workflow
	err := c.do(ctx, http.MethodGet, "/api/v1/workflows/"+url.PathEscape(id), nil, &out)
	return out, err
}

// CancelWorkflow stops a running workflow.
func (c *Client) CancelWorkflow(ctx context.Context, id, reason string) (runner.Workflow, error) {
	var out runner.Workflow
	err := c.do(ctx, http.MethodPost, "/api/v1/workflows/"+url.PathEscape(id)+"/cancel", api.CancelRequest{Reason: reason}, &out)
	return out, err
}

// ResumeWorkflow restarts a run from its last checkpoint.
func (c *Client) ResumeWorkflow(ctx context.Context, id string, a orchestrator.Analysis) (runner.Workflow, error) {
	var out runner.Workflow
	err := c.do(ctx, http.MethodPost, "/api/v1/workflows/"+url.PathEscape(id)+"/resume", a, &out)
	return out, err
}

// PendingRequests lists pending HITL requests, optionally for one workflow.
func (c *Client) PendingRequests(ctx context.Context, workflowID string) ([]hitl.Request, error) {
	path := "/api/v1/hitl/requests"
	if workflowID != "" {
		path += "?" + url.Values{"workflow_id": {workflowID}}.Encode()
	}
	var out api.RequestList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

// GetRequest returns a pending or recently finalized request.
func (c *Client) GetRequest(ctx context.Context, id string) (hitl.Request, error) {
	var out hitl.Request
	err := c.do(ctx, http.MethodGet, "/api/v1/hitl/requests/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Respond answers a pending request.
func (c *Client) Respond(ctx context.Context, resp hitl.Response) (api.RespondResult, error) {
	var out api.RespondResult
	err := c.do(ctx, http.MethodPost, "/api/v1/hitl/requests/"+url.PathEscape(resp.RequestID)+"/respond", resp, &out)
	return out, err
}

// CancelRequest cancels a pending request.
func (c *Client) CancelRequest(ctx context.Context, id, reason string) (hitl.Request, error) {
	var out hitl.Request
	err := c.do(ctx, http.MethodPost, "/api/v1/hitl/requests/"+url.PathEscape(id)+"/cancel", api.CancelRequest{Reason: reason}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError reads echo's {"message": ...} error body.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
