package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew             TicketStatus = "new"
	TicketStatusInvestigating   TicketStatus = "investigating"
	TicketStatusWaitingCustomer TicketStatus = "waiting_customer"
	TicketStatusResolved        TicketStatus = "resolved"
	TicketStatusClosed          TicketStatus = "closed"
)

// IsTerminal reports whether the router must never process the ticket again.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// OpenStatuses lists the statuses the poller re-scans.
var OpenStatuses = []TicketStatus{
	TicketStatusNew,
	TicketStatusInvestigating,
	TicketStatusWaitingCustomer,
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// EscalationEntry is one append-only step of a ticket's escalation path.
type EscalationEntry struct {
	Agent     AgentID   `json:"agent"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID             string
	Title          string
	Description    string
	Status         TicketStatus
	Priority       TicketPriority
	Category       string
	SourceMetadata SourceMetadata
	AssignedAgent  *AgentID
	EscalationPath []EscalationEntry
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Text returns title and description joined for matching.
func (t *Ticket) Text() string {
	return strings.TrimSpace(t.Title + " " + t.Description)
}

// AssignedTo reports whether the ticket is currently assigned to agent.
func (t *Ticket) AssignedTo(agent AgentID) bool {
	return t.AssignedAgent != nil && *t.AssignedAgent == agent
}

// AppendEscalation adds an entry to the escalation path. Existing entries
// are never touched.
func (t *Ticket) AppendEscalation(agent AgentID, status string, at time.Time) EscalationEntry {
	entry := EscalationEntry{Agent: agent, Status: status, Timestamp: at}
	t.EscalationPath = append(t.EscalationPath, entry)
	return entry
}

// Clone returns a deep enough copy for callers that mutate tickets locally.
func (t *Ticket) Clone() *Ticket {
	cp := *t
	cp.SourceMetadata = t.SourceMetadata.Clone()
	cp.EscalationPath = append([]EscalationEntry(nil), t.EscalationPath...)
	if t.AssignedAgent != nil {
		agent := *t.AssignedAgent
		cp.AssignedAgent = &agent
	}
	return &cp
}

// TicketUpdate carries the router-owned fields written back to the store.
// Nil fields are left untouched.
type TicketUpdate struct {
	Status           *TicketStatus
	Priority         *TicketPriority
	AssignedAgent    *AgentID
	SourceMetadata   SourceMetadata
	AppendEscalation []EscalationEntry
}

// IsEmpty reports whether the update would change nothing.
func (u TicketUpdate) IsEmpty() bool {
	return u.Status == nil && u.Priority == nil && u.AssignedAgent == nil &&
		u.SourceMetadata == nil && len(u.AppendEscalation) == 0
}

// Apply mirrors the update onto an in-memory ticket. Source metadata is
// merged key by key, like the store does.
func (u TicketUpdate) Apply(t *Ticket) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.AssignedAgent != nil {
		agent := *u.AssignedAgent
		t.AssignedAgent = &agent
	}
	if u.SourceMetadata != nil {
		merged := t.SourceMetadata.Clone()
		for k, v := range u.SourceMetadata.Clone() {
			merged[k] = v
		}
		t.SourceMetadata = merged
	}
	t.EscalationPath = append(t.EscalationPath, u.AppendEscalation...)
}

// StatusPtr is a small helper for building updates.
func StatusPtr(s TicketStatus) *TicketStatus { return &s }

// PriorityPtr is a small helper for building updates.
func PriorityPtr(p TicketPriority) *TicketPriority { return &p }

// AgentPtr is a small helper for building updates.
func AgentPtr(a AgentID) *AgentID { return &a }
