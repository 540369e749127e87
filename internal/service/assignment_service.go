package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/clock"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/events"
	"github.com/spec-kit/support-dispatch/internal/repository"
	"github.com/spec-kit/support-dispatch/internal/textscore"
)

// uiKeywords route a ticket to the UI debug agent. Matched per token.
var uiKeywords = []string{
	"ui", "button", "layout", "css", "display", "design", "page", "click",
	"anzeige", "darstellung", "seite", "formular", "knopf", "schaltfläche", "ansicht",
}

var escalationCategories = []string{"escalation", "eskalation"}

// AssignmentService handles tier-1 agent assignment.
type AssignmentService struct {
	tickets repository.TicketRepository
	audit   auditor
	clock   clock.Clock
	logger  *zap.Logger
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	TicketRepo repository.TicketRepository
	Audit      auditor
	Clock      clock.Clock
	Logger     *zap.Logger
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	return &AssignmentService{
		tickets: deps.TicketRepo,
		audit:   deps.Audit,
		clock:   deps.Clock,
		logger:  deps.Logger,
	}
}

// SelectTier1Agent picks the first-line agent from category and keywords.
func SelectTier1Agent(ticket *domain.Ticket) (domain.AgentID, string) {
	category := strings.ToLower(strings.TrimSpace(ticket.Category))
	for _, c := range escalationCategories {
		if category == c {
			return domain.AgentEscalation, "category " + ticket.Category
		}
	}
	tokens := textscore.Set(ticket.Text())
	for _, kw := range uiKeywords {
		if tokens[kw] {
			return domain.AgentUIDebug, "ui keyword " + kw
		}
	}
	return domain.AgentSupport, "default"
}

// AssignTier1 assigns the tier-1 agent. A ticket that already has an agent
// keeps it; changed reports whether a write happened.
func (s *AssignmentService) AssignTier1(ctx context.Context, ticket *domain.Ticket) (updated *domain.Ticket, agent domain.AgentID, changed bool, err error) {
	if ticket.AssignedAgent != nil {
		return ticket, *ticket.AssignedAgent, false, nil
	}
	agent, reason := SelectTier1Agent(ticket)
	update := domain.TicketUpdate{
		AssignedAgent: domain.AgentPtr(agent),
		AppendEscalation: []domain.EscalationEntry{{
			Agent:     agent,
			Status:    "assigned",
			Timestamp: s.clock.Now(),
		}},
	}
	status := ticket.Status
	if status == domain.TicketStatusNew {
		status = domain.TicketStatusInvestigating
		update.Status = domain.StatusPtr(status)
	}
	updated, err = s.tickets.Update(ctx, ticket.ID, update)
	if err != nil {
		return nil, agent, false, fmt.Errorf("assign tier-1 agent: %w", err)
	}
	s.logger.Info("tier-1 agent assigned",
		zap.String("ticket_id", ticket.ID),
		zap.String("agent", string(agent)),
		zap.String("reason", reason))
	s.audit.record(ctx, ticket.ID, agent, domain.EventAgentAssigned, map[string]any{"tier": 1, "reason": reason})
	s.publishAssignmentEvent(ctx, ticket.ID, events.AgentAssignedPayload{
		Agent:  agent,
		Status: status,
		Reason: reason,
	})
	return updated, agent, true, nil
}

func (s *AssignmentService) publishAssignmentEvent(ctx context.Context, ticketID string, payload events.AgentAssignedPayload) {
	s.audit.publish(ctx, events.EventAgentAssigned, ticketID, payload.Agent, payload)
}

// assignTier1 assigns the first-line agent and, when a planner is
// configured, asks it for a plan that may pull in tier-2 specialists.
func (r *Router) assignTier1(ctx context.Context, ticket *domain.Ticket, logger *zap.Logger) (domain.AgentID, error) {
	updated, agent, changed, err := r.assignment.AssignTier1(ctx, ticket)
	if err != nil || !changed || !r.tier2.CanPlan() {
		return agent, err
	}
	plan, err := r.tier2.PlanFor(ctx, agent, updated)
	if err != nil {
		logger.Warn("tier-1 plan failed", zap.String("agent", string(agent)), zap.Error(err))
		return agent, nil
	}
	r.audit.record(ctx, ticket.ID, agent, domain.EventTier2PlanProposed, planPayload(1, plan))
	if _, err := r.runTier2(ctx, updated, &plan); err != nil {
		return agent, err
	}
	return agent, nil
}
