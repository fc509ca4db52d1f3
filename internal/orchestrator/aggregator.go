package orchestrator

// Decide folds gate verdicts into a single decision. An errored gate counts
// as not approved. The refine loop is exhausted once iteration reaches
// maxIterations-1.
func Decide(results []GateResult, iteration, maxIterations int) Decision {
	if allApproved(results) {
		return DecisionApprove
	}
	if iteration >= maxIterations-1 {
		return DecisionMaxIterations
	}
	return DecisionRefine
}

func allApproved(results []GateResult) bool {
	for _, r := range results {
		if !r.Approved || r.Failed() {
			return false
		}
	}
	return true
}

// GateSummary groups gate verdicts for reporting.
type GateSummary struct {
	Approved []NodeID `json:"approved,omitempty"`
	Rejected []NodeID `json:"rejected,omitempty"`
	Errored  []NodeID `json:"errored,omitempty"`
	Issues   []string `json:"issues,omitempty"`
}

// Summarize groups results by outcome
func Summarize(results []GateResult) GateSummary {
	var s GateSummary
	for _, r := range results {
		switch {
		case r.Failed():
			s.Errored = append(s.Errored, r.NodeID)
			s.Issues = append(s.Issues, string(r.NodeID)+": "+r.Error)
		case r.Approved:
			s.Approved = append(s.Approved, r.NodeID)
		default:
			s.Rejected = append(s.Rejected, r.NodeID)
		}
		for _, issue := range r.Issues {
			s.Issues = append(s.Issues, string(r.NodeID)+": "+issue)
		}
	}
	return s
}
