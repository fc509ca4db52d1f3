package natsbus

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultPrefix is the root token of every subject published by orchestrd
const DefaultPrefix = "orchestrd"

// Subjects builds NATS subjects:
//
//	{prefix}.workflows.{workflow_id}.events.{phase_status}
//	{prefix}.hitl.{workflow_id}.{request_id}.{event_type}
//	{prefix}.nodes.{node_id}
type Subjects struct {
	Prefix string
}

func (s Subjects) prefix() string {
	if s.Prefix == "" {
		return DefaultPrefix
	}
	return s.Prefix
}

// WorkflowEvent is the subject for one progress event
func (s Subjects) WorkflowEvent(workflowID, status string) string {
	return s.prefix() + ".workflows." + token(workflowID) + ".events." + token(status)
}

// WorkflowEvents matches every progress event of a workflow
func (s Subjects) WorkflowEvents(workflowID string) string {
	return s.prefix() + ".workflows." + token(workflowID) + ".events.*"
}

// HITLEvent is the subject for one human-in-the-loop lifecycle event
func (s Subjects) HITLEvent(workflowID, requestID, eventType string) string {
	return s.prefix() + ".hitl." + token(workflowID) + "." + token(requestID) + "." + token(eventType)
}

// WorkflowHITLEvents matches every human-in-the-loop event of a workflow
func (s Subjects) WorkflowHITLEvents(workflowID string) string {
	return s.prefix() + ".hitl." + token(workflowID) + ".>"
}

// HITLEvents matches every human-in-the-loop event
func (s Subjects) HITLEvents() string {
	return s.prefix() + ".hitl.>"
}

// Node is the request subject served by remote workers implementing a node
func (s Subjects) Node(nodeID string) string {
	return s.prefix() + ".nodes." + token(nodeID)
}

// token makes s safe to use as a single subject token. Separators, wildcards,
// whitespace and '%' are percent-escaped so distinct inputs never share a
// token. The empty string becomes a bare "%".
func token(s string) string {
	if s == "" {
		return "%"
	}
	if !strings.ContainsFunc(s, needsEscape) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if !needsEscape(r) {
			b.WriteRune(r)
			continue
		}
		var buf [utf8.UTFMax]byte
		for _, c := range buf[:utf8.EncodeRune(buf[:], r)] {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func needsEscape(r rune) bool {
	switch r {
	case '.', '*', '>', '%':
		return true
	}
	return unicode.IsSpace(r) || unicode.IsControl(r)
}
