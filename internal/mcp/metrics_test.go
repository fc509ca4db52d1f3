package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/orchestrd/internal/hitl"
	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
	"github.com/fyrsmithlabs/orchestrd/internal/runner"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: task is required", runner.ErrInvalidRequest), "validation_error"},
		{fmt.Errorf("%w: bad", errInvalidInput), "validation_error"},
		{hitl.ErrInvalidResponse, "validation_error"},
		{fmt.Errorf("%w: wf", runner.ErrWorkflowNotFound), "not_found"},
		{hitl.ErrUnknownRequest, "not_found"},
		{runner.ErrWorkflowExists, "conflict"},
		{hitl.ErrAlreadyFinalized, "conflict"},
		{orchestrator.ErrUnknownNode, "unknown_node"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeError(tt.err), "%v", tt.err)
	}
}
