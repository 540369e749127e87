package domain

// VerificationResult is the verdict of a problem check.
type VerificationResult struct {
	ProblemExists bool     `json:"problemExists"`
	Evidence      []string `json:"evidence"`
	Severity      Severity `json:"severity"`
}

// FixResult reports what the autofix executor did.
type FixResult struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message,omitempty"`
	Error         string   `json:"error,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	ModifiedFiles []string `json:"modifiedFiles,omitempty"`
}

// ResolutionOutcome is the decision of the resolution guarantee.
type ResolutionOutcome struct {
	Resolved bool         `json:"resolved"`
	Status   TicketStatus `json:"status"`
	Message  string       `json:"message"`
	// Escalate asks the router to hand the ticket to the escalation agent.
	Escalate bool `json:"escalate,omitempty"`
}

// ResolutionPlan is what an LLM planner proposes for a ticket.
type ResolutionPlan struct {
	Status  TicketStatus       `json:"status"`
	Summary string             `json:"summary"`
	Actions []ResolutionAction `json:"actions"`
}

// HasAction reports whether the plan proposes an action of the given type.
func (p *ResolutionPlan) HasAction(t ActionType) bool {
	if p == nil {
		return false
	}
	for _, a := range p.Actions {
		if a.Type == t {
			return true
		}
	}
	return false
}

// PlanRequest is the input to an LLM planner.
type PlanRequest struct {
	Agent     AgentID
	Ticket    *Ticket
	Knowledge []string
}
