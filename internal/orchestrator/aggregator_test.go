package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	approved := GateResult{NodeID: NodeReviewer, Approved: true}
	rejected := GateResult{NodeID: NodeSecurityGate, Approved: false, Issues: []string{"hardcoded key"}}
	errored := GateResult{NodeID: NodeQAGate, Approved: true, Error: "timeout"}

	tests := []struct {
		name      string
		results   []GateResult
		iteration int
		max       int
		want      Decision
	}{
		{"all approved", []GateResult{approved, approved}, 0, 3, DecisionApprove},
		{"all approved at last iteration", []GateResult{approved}, 2, 3, DecisionApprove},
		{"one rejected early", []GateResult{approved, rejected}, 0, 3, DecisionRefine},
		{"one rejected second to last", []GateResult{approved, rejected}, 1, 3, DecisionRefine},
		{"one rejected at last iteration", []GateResult{approved, rejected}, 2, 3, DecisionMaxIterations},
		{"rejected past limit", []GateResult{rejected}, 5, 3, DecisionMaxIterations},
		{"single iteration budget", []GateResult{rejected}, 0, 1, DecisionMaxIterations},
		{"errored gate counts as rejection", []GateResult{approved, errored}, 0, 3, DecisionRefine},
		{"no results", nil, 0, 3, DecisionApprove},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.results, tt.iteration, tt.max))
		})
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]GateResult{
		{NodeID: NodeReviewer, Approved: true},
		{NodeID: NodeSecurityGate, Approved: false, Issues: []string{"aws key in main.go:3"}},
		{NodeID: NodeQAGate, Error: "node panicked"},
	})

	assert.Equal(t, []NodeID{NodeReviewer}, s.Approved)
	assert.Equal(t, []NodeID{NodeSecurityGate}, s.Rejected)
	assert.Equal(t, []NodeID{NodeQAGate}, s.Errored)
	assert.Equal(t, []string{"security_gate: aws key in main.go:3", "qa_gate: node panicked"}, s.Issues)
}
