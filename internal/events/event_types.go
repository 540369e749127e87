package events

import (
	"time"

	"github.com/spec-kit/support-dispatch/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventAgentAssigned    EventType = "agent_assigned"
	EventAutopatchApplied EventType = "autopatch_applied"
	EventAutopatchPlanned EventType = "autopatch_planned"
	EventAutopatchFailed  EventType = "autopatch_failed"
	EventTicketEscalated  EventType = "ticket_escalated"
)

// Event represents a domain event emitted by the router.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	TicketID  string         `json:"ticket_id"`
	Agent     domain.AgentID `json:"agent,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   any            `json:"payload"`
}

// AgentAssignedPayload payload.
type AgentAssignedPayload struct {
	Agent  domain.AgentID      `json:"agent"`
	Status domain.TicketStatus `json:"status"`
	Reason string              `json:"reason,omitempty"`
}

// AutopatchPayload accompanies applied, planned and failed autopatch events.
type AutopatchPayload struct {
	PatternID     string   `json:"pattern_id"`
	Summary       string   `json:"summary"`
	ModifiedFiles []string `json:"modified_files,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// TicketEscalatedPayload payload.
type TicketEscalatedPayload struct {
	From   domain.AgentID `json:"from,omitempty"`
	To     domain.AgentID `json:"to"`
	Reason string         `json:"reason"`
}
