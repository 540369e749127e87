package domain

import "time"

// AutomationEventType captures what an agent did to a ticket.
type AutomationEventType string

const (
	EventAgentAssigned     AutomationEventType = "agent_assigned"
	EventAutopatchApplied  AutomationEventType = "autopatch_applied"
	EventAutopatchPlanned  AutomationEventType = "autopatch_planned"
	EventAutopatchFailed   AutomationEventType = "autopatch_failed"
	EventErrorHandlerRun   AutomationEventType = "error_handler_run"
	EventTicketEscalated   AutomationEventType = "ticket_escalated"
	EventTier2PlanProposed AutomationEventType = "tier2_plan_proposed"
)

// AutomationEvent is an immutable audit entry written while agents act on a ticket.
type AutomationEvent struct {
	ID        string
	TicketID  string
	Agent     AgentID
	EventType AutomationEventType
	Payload   map[string]any
	CreatedAt time.Time
}
