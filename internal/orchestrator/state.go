package orchestrator

import (
	"maps"
)

// Artifact is a file produced by the coder or refiner.
type Artifact struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

// State is the mutable record of one workflow run. The engine owns it; nodes
// only ever receive copies made with Clone.
type State struct {
	WorkflowID          string            `json:"workflow_id"`
	Task                string            `json:"task"`
	Artifacts           []Artifact        `json:"artifacts"`
	SecurityPassed      bool              `json:"security_passed"`
	QAPassed            bool              `json:"qa_passed"`
	ReviewApproved      bool              `json:"review_approved"`
	RefinementIteration int               `json:"refinement_iteration"`
	MaxIterations       int               `json:"max_iterations"`
	CompletedNodes      []NodeID          `json:"completed_nodes"`
	Status              Status            `json:"status"`
	GateResults         []GateResult      `json:"gate_results,omitempty"`
	Feedback            []string          `json:"feedback,omitempty"`
	ForcedApproval      bool              `json:"forced_approval,omitempty"`
	FailureReason       string            `json:"failure_reason,omitempty"`
	Data                map[string]string `json:"data,omitempty"`
}

// NewState creates the initial state for a workflow
func NewState(workflowID, task string, maxIterations int) *State {
	return &State{
		WorkflowID:    workflowID,
		Task:          task,
		MaxIterations: maxIterations,
		Status:        StatusRunning,
		Data:          map[string]string{},
	}
}

// Clone returns a deep copy
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Artifacts = append([]Artifact(nil), s.Artifacts...)
	out.CompletedNodes = append([]NodeID(nil), s.CompletedNodes...)
	out.Feedback = append([]string(nil), s.Feedback...)
	if s.GateResults != nil {
		out.GateResults = make([]GateResult, len(s.GateResults))
		for i, g := range s.GateResults {
			out.GateResults[i] = g.clone()
		}
	}
	out.Data = maps.Clone(s.Data)
	if out.Data == nil {
		out.Data = map[string]string{}
	}
	return &out
}

// Terminal reports whether the run has finished
func (s *State) Terminal() bool {
	return s.Status.Terminal()
}

// LastCompleted returns the most recently completed node, or "" if none
func (s *State) LastCompleted() NodeID {
	if len(s.CompletedNodes) == 0 {
		return ""
	}
	return s.CompletedNodes[len(s.CompletedNodes)-1]
}

func (s *State) markCompleted(id NodeID) {
	s.CompletedNodes = append(s.CompletedNodes, id)
}

// Update is what a node returns. Zero-valued fields leave the state untouched.
type Update struct {
	// Artifacts replaces the artifact set when non-nil. Ignored for gates.
	Artifacts []Artifact
	// Gate carries the verdict of a quality gate
	Gate *GateResult
	// Feedback is appended to the state's feedback
	Feedback []string
	// Data is merged into the state's data map
	Data map[string]string
}

func (s *State) apply(u Update) {
	if u.Artifacts != nil {
		s.Artifacts = append([]Artifact(nil), u.Artifacts...)
	}
	s.Feedback = append(s.Feedback, u.Feedback...)
	if len(u.Data) > 0 {
		if s.Data == nil {
			s.Data = map[string]string{}
		}
		maps.Copy(s.Data, u.Data)
	}
}

// recordGates stores the latest gate verdicts and derives the pass flags
func (s *State) recordGates(results []GateResult) {
	s.GateResults = make([]GateResult, len(results))
	for i, r := range results {
		s.GateResults[i] = r.clone()
		s.setGateFlag(r.NodeID, r.Approved)
	}
}

func (s *State) setGateFlag(id NodeID, approved bool) {
	switch id {
	case NodeReviewer:
		s.ReviewApproved = approved
	case NodeSecurityGate:
		s.SecurityPassed = approved
	case NodeQAGate:
		s.QAPassed = approved
	}
}
