// Package mcp exposes the workflow runner and the human checkpoint manager as
// MCP tools over stdio, so an agent can plan and start workflows, follow their
// progress and answer pending checkpoints.
//
// Tools: workflow_plan, workflow_start, workflow_status, workflow_cancel,
// hitl_pending, hitl_respond, hitl_cancel. Every invocation is recorded with
// otel metrics.
package mcp
