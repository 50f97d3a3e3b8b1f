package escalation

import (
	"time"

	"github.com/agentbridge-io/agentbridge/pkg/protocol"
)

// toPayload flattens an escalation into the store payload. Timestamps are
// RFC3339 strings so the store can filter on them as plain fields.
func toPayload(e *protocol.Escalation) map[string]any {
	p := map[string]any{
		"id":         e.ID,
		"from_agent": e.FromAgent,
		"to_agent":   e.ToAgent,
		"question":   e.Question,
		"priority":   string(e.Priority),
		"status":     string(e.Status),
		"created_at": e.CreatedAt.Format(time.RFC3339),
	}
	if e.Context != "" {
		p["context"] = e.Context
	}
	if e.Answer != "" {
		p["answer"] = e.Answer
	}
	if e.ResolvedAt != nil {
		p["resolved_at"] = e.ResolvedAt.Format(time.RFC3339)
	}
	return p
}

// fromPayload rebuilds an escalation from a store payload. Unknown or
// malformed fields decode to zero values rather than failing the read.
func fromPayload(p map[string]any) *protocol.Escalation {
	e := &protocol.Escalation{
		ID:        str(p, "id"),
		FromAgent: str(p, "from_agent"),
		ToAgent:   str(p, "to_agent"),
		Question:  str(p, "question"),
		Context:   str(p, "context"),
		Priority:  protocol.EscalationPriority(str(p, "priority")),
		Status:    protocol.EscalationStatus(str(p, "status")),
		Answer:    str(p, "answer"),
	}
	if t, err := time.Parse(time.RFC3339, str(p, "created_at")); err == nil {
		e.CreatedAt = t
	}
	if raw := str(p, "resolved_at"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			e.ResolvedAt = &t
		}
	}
	return e
}

func str(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}
