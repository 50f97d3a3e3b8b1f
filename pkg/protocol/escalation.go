package protocol

import "time"

// EscalationStatus represents the lifecycle state of an escalation.
type EscalationStatus string

const (
	EscalationPending      EscalationStatus = "pending"
	EscalationAcknowledged EscalationStatus = "acknowledged"
	EscalationResolved     EscalationStatus = "resolved"
)

// EscalationPriority is advisory only; it has no scheduling effect.
type EscalationPriority string

const (
	PriorityLow    EscalationPriority = "low"
	PriorityNormal EscalationPriority = "normal"
	PriorityHigh   EscalationPriority = "high"
)

// BroadcastTarget is the reserved to_agent value meaning "visible to every
// targeted query", not just exact matches on the caller's own id.
const BroadcastTarget = "any"

// Escalation is an asynchronous help request exchanged between agents.
type Escalation struct {
	ID         string             `json:"id"`
	FromAgent  string             `json:"from_agent"`
	ToAgent    string             `json:"to_agent"`
	Question   string             `json:"question"`
	Context    string             `json:"context,omitempty"`
	Priority   EscalationPriority `json:"priority"`
	Status     EscalationStatus   `json:"status"`
	Answer     string             `json:"answer,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
}
