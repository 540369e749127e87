package dto

import (
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/observability"
	"github.com/spec-kit/support-dispatch/internal/service"
)

// EscalateRequest carries the plan tier-2 specialists are derived from.
type EscalateRequest struct {
	Status  domain.TicketStatus `json:"status"`
	Summary string              `json:"summary"`
	Actions []ActionRequest     `json:"actions"`
}

// ActionRequest is one proposed plan action.
type ActionRequest struct {
	Type        domain.ActionType `json:"type"`
	Description string            `json:"description"`
	FixID       string            `json:"fix_id"`
}

// Plan converts the request into a resolution plan.
func (r EscalateRequest) Plan() *domain.ResolutionPlan {
	plan := &domain.ResolutionPlan{Status: r.Status, Summary: r.Summary}
	for _, a := range r.Actions {
		plan.Actions = append(plan.Actions, domain.ResolutionAction{
			Type:        a.Type,
			Description: a.Description,
			FixID:       a.FixID,
		})
	}
	return plan
}

// EscalateResponse lists what each specialist contributed.
type EscalateResponse struct {
	TicketID string              `json:"ticket_id"`
	Steps    []service.Tier2Step `json:"steps"`
}

// DeviationResponse is a read-only preview of one detected deviation.
type DeviationResponse struct {
	Item           string                      `json:"item"`
	Type           domain.ConfigurationType    `json:"type"`
	Deviation      string                      `json:"deviation"`
	Severity       domain.Severity             `json:"severity"`
	RelevanceScore float64                     `json:"relevance_score"`
	Evidence       []string                    `json:"evidence"`
	Instructions   []domain.AutoFixInstruction `json:"instructions,omitempty"`
}

// NewDeviationResponse maps a deviation for the API.
func NewDeviationResponse(dev domain.Deviation) DeviationResponse {
	resp := DeviationResponse{
		Deviation:      dev.Deviation,
		Severity:       dev.Severity,
		RelevanceScore: dev.RelevanceScore,
		Evidence:       dev.Evidence,
		Instructions:   dev.SuggestedInstructions,
	}
	if dev.Item != nil {
		resp.Item = dev.Item.Name
		resp.Type = dev.Item.Type
	}
	return resp
}

// HeartbeatResponse is served on /health/heartbeat.
type HeartbeatResponse struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service"`
	Version string                 `json:"version"`
	Meta    service.HeartbeatMeta  `json:"meta"`
	Metrics observability.Snapshot `json:"metrics"`
}
