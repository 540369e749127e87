package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/clock"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/events"
	"github.com/spec-kit/support-dispatch/internal/knowledge"
	"github.com/spec-kit/support-dispatch/internal/observability"
	"github.com/spec-kit/support-dispatch/internal/repository"
	"github.com/spec-kit/support-dispatch/internal/textscore"
)

// ErrTicketClosed is returned when a closed ticket is asked to escalate.
var ErrTicketClosed = errors.New("ticket already closed")

var (
	supabaseKeywords = []string{"supabase", "datenbank", "database", "rls", "policy", "sql", "postgres", "tabelle", "table"}
	hetznerKeywords  = []string{"server", "pm2", "hetzner", "nginx", "deploy", "deployment", "ssh", "restart", "neustart", "dienst"}
	frontendKeywords = []string{"ui", "frontend", "browser", "button", "seite", "page", "css", "anzeige", "layout", "formular"}
)

// knowledgeHints steer the corpus query per specialist.
var knowledgeHints = map[domain.AgentID]string{
	domain.AgentSupabaseAnalyst:     "supabase database policy",
	domain.AgentHetznerOps:          "server deployment pm2",
	domain.AgentFrontendDiagnostics: "frontend component",
	domain.AgentAutopatchArchitect:  "autopatch fix",
	domain.AgentSupport:             "support",
	domain.AgentUIDebug:             "frontend ui",
}

const (
	knowledgeLimit   = 3
	knowledgeExcerpt = 400
)

// DetermineTier2Agents derives the specialists from ticket keywords and
// the action types of a tier-1 plan. The result follows domain.Tier2Order.
func DetermineTier2Agents(ticket *domain.Ticket, plan *domain.ResolutionPlan) []domain.AgentID {
	tokens := textscore.Set(ticket.Text())
	want := make(map[domain.AgentID]bool)
	if hasAnyToken(tokens, supabaseKeywords) || plan.HasAction(domain.ActionSupabaseQuery) ||
		(plan != nil && plan.Status == domain.TicketStatusWaitingCustomer) {
		want[domain.AgentSupabaseAnalyst] = true
	}
	if hasAnyToken(tokens, hetznerKeywords) || plan.HasAction(domain.ActionHetznerCommand) {
		want[domain.AgentHetznerOps] = true
	}
	if hasAnyToken(tokens, frontendKeywords) || plan.HasAction(domain.ActionUXUpdate) {
		want[domain.AgentFrontendDiagnostics] = true
	}
	if plan != nil {
		for _, action := range plan.Actions {
			if action.Type == domain.ActionAutopatchPlan || (action.Type == domain.ActionUXUpdate && action.FixID == "") {
				want[domain.AgentAutopatchArchitect] = true
			}
		}
	}

	var agents []domain.AgentID
	for _, agent := range domain.Tier2Order {
		if want[agent] {
			agents = append(agents, agent)
		}
	}
	return agents
}

func hasAnyToken(tokens map[string]bool, keywords []string) bool {
	for _, kw := range keywords {
		if tokens[kw] {
			return true
		}
	}
	return false
}

// Tier2Step is what one specialist contributed.
type Tier2Step struct {
	Agent domain.AgentID         `json:"agent"`
	Plan  *domain.ResolutionPlan `json:"plan,omitempty"`
	Error string                 `json:"error,omitempty"`
}

// Tier2Service runs specialist agents one after another.
type Tier2Service struct {
	tickets   repository.TicketRepository
	messages  *MessageWriter
	audit     auditor
	planner   Planner
	knowledge knowledge.Corpus
	clock     clock.Clock
	logger    *zap.Logger
}

// Tier2Dependencies bundles collaborators. Planner and Knowledge are optional.
type Tier2Dependencies struct {
	TicketRepo repository.TicketRepository
	Messages   *MessageWriter
	Audit      auditor
	Planner    Planner
	Knowledge  knowledge.Corpus
	Clock      clock.Clock
	Logger     *zap.Logger
}

// NewTier2Service creates the service.
func NewTier2Service(deps Tier2Dependencies) *Tier2Service {
	return &Tier2Service{
		tickets:   deps.TicketRepo,
		messages:  deps.Messages,
		audit:     deps.Audit,
		planner:   deps.Planner,
		knowledge: deps.Knowledge,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}
}

// CanPlan reports whether an LLM planner is configured.
func (s *Tier2Service) CanPlan() bool {
	return s.planner != nil
}

// PlanFor asks the planner for a plan in the given agent's persona.
func (s *Tier2Service) PlanFor(ctx context.Context, agent domain.AgentID, ticket *domain.Ticket) (domain.ResolutionPlan, error) {
	if s.planner == nil {
		return domain.ResolutionPlan{}, errors.New("no planner configured")
	}
	return s.planner.GeneratePlan(ctx, domain.PlanRequest{
		Agent:     agent,
		Ticket:    ticket,
		Knowledge: s.knowledgeFor(ctx, agent, ticket),
	})
}

func (s *Tier2Service) knowledgeFor(ctx context.Context, agent domain.AgentID, ticket *domain.Ticket) []string {
	if s.knowledge == nil {
		return nil
	}
	docs, err := s.knowledge.Query(ctx, knowledgeHints[agent]+" "+ticket.Text(), knowledgeLimit)
	if err != nil {
		s.logger.Warn("knowledge lookup failed", zap.String("agent", string(agent)), zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		content := []rune(doc.Content)
		if len(content) > knowledgeExcerpt {
			content = content[:knowledgeExcerpt]
		}
		out = append(out, doc.Title+": "+string(content))
	}
	return out
}

// Run lets each agent plan in turn. Every agent appends to the escalation
// path before the next one starts, so later agents see earlier ones.
func (s *Tier2Service) Run(ctx context.Context, ticket *domain.Ticket, agents []domain.AgentID) (*domain.Ticket, []Tier2Step, error) {
	steps := make([]Tier2Step, 0, len(agents))
	from := domain.AgentSupport
	if ticket.AssignedAgent != nil {
		from = *ticket.AssignedAgent
	}
	for _, agent := range agents {
		if err := ctx.Err(); err != nil {
			return ticket, steps, err
		}
		logger := s.logger.With(zap.String("ticket_id", ticket.ID), zap.String("agent", string(agent)))
		step := Tier2Step{Agent: agent}
		note := fmt.Sprintf("[%s] übernimmt die Analyse.", agent)
		if s.planner != nil {
			plan, err := s.PlanFor(ctx, agent, ticket)
			if err != nil {
				logger.Warn("tier-2 plan failed", zap.Error(err))
				step.Error = err.Error()
			} else {
				step.Plan = &plan
				if plan.Summary != "" {
					note = fmt.Sprintf("[%s] %s", agent, plan.Summary)
				}
			}
		}

		payload := map[string]any{"tier": 2}
		if step.Plan != nil {
			payload = planPayload(2, *step.Plan)
		}
		if step.Error != "" {
			payload["error"] = step.Error
		}
		s.audit.record(ctx, ticket.ID, agent, domain.EventTier2PlanProposed, payload)
		if _, err := s.messages.Internal(ctx, ticket.ID, note, domain.MessageKindTier2, map[string]any{"agent": string(agent)}); err != nil {
			logger.Error("tier-2 note not stored", zap.Error(err))
		}

		updated, err := s.tickets.Update(ctx, ticket.ID, domain.TicketUpdate{
			AppendEscalation: []domain.EscalationEntry{{
				Agent:     agent,
				Status:    "tier2",
				Timestamp: s.clock.Now(),
			}},
		})
		if err != nil {
			return ticket, steps, fmt.Errorf("record tier-2 agent %s: %w", agent, err)
		}
		ticket = updated
		s.audit.publish(ctx, events.EventTicketEscalated, ticket.ID, agent, events.TicketEscalatedPayload{
			From:   from,
			To:     agent,
			Reason: "tier-2",
		})
		from = agent
		steps = append(steps, step)
		logger.Info("tier-2 agent ran")
	}
	return ticket, steps, nil
}

func planPayload(tier int, plan domain.ResolutionPlan) map[string]any {
	actions := make([]string, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		actions = append(actions, string(a.Type))
	}
	return map[string]any{
		"tier":    tier,
		"status":  string(plan.Status),
		"summary": plan.Summary,
		"actions": actions,
	}
}

// runTier2 runs the specialists a tier-1 plan calls for.
func (r *Router) runTier2(ctx context.Context, ticket *domain.Ticket, plan *domain.ResolutionPlan) ([]Tier2Step, error) {
	agents := DetermineTier2Agents(ticket, plan)
	if len(agents) == 0 {
		return nil, nil
	}
	_, steps, err := r.tier2.Run(ctx, ticket, agents)
	r.beat.tier2Ran(r.now())
	r.metrics.RecordDispatch(observability.OutcomeTier2)
	return steps, err
}

// Escalate reloads the ticket and runs tier-2 for the supplied plan.
func (r *Router) Escalate(ctx context.Context, ticketID string, plan *domain.ResolutionPlan) ([]Tier2Step, error) {
	ticket, err := r.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", ticketID, err)
	}
	if ticket.Status.IsTerminal() {
		r.logger.Debug("Ticket bereits abgeschlossen", zap.String("ticket_id", ticketID))
		return nil, ErrTicketClosed
	}
	return r.runTier2(ctx, ticket, plan)
}
