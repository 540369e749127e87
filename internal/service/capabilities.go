package service

import (
	"context"

	"github.com/spec-kit/support-dispatch/internal/autofix"
	"github.com/spec-kit/support-dispatch/internal/domain"
)

// FastMatcher is the synchronous signature matcher run before any I/O.
type FastMatcher interface {
	Match(ticket *domain.Ticket) *domain.AutopatchCandidate
}

// DeviationDetector compares live state against the blueprint. It returns
// every deviation; the router applies the relevance threshold.
type DeviationDetector interface {
	Detect(ctx context.Context, ticket *domain.Ticket, rootDir string) ([]domain.Deviation, error)
}

// ConfigurationMatcher is the tiered keyword/semantic/LLM matcher.
type ConfigurationMatcher interface {
	MatchTicketToConfiguration(ctx context.Context, ticket *domain.Ticket) (*domain.AutopatchCandidate, error)
}

// ProblemVerifier inspects live state before and after a fix.
type ProblemVerifier interface {
	VerifyProblem(ctx context.Context, ticket *domain.Ticket, patternID string) (domain.VerificationResult, error)
	VerifyPostFix(ctx context.Context, ticket *domain.Ticket, patternID string, fix domain.FixResult, instructions []domain.AutoFixInstruction) (domain.VerificationResult, error)
}

// AutofixExecutor applies auto-fix instructions below rootDir.
type AutofixExecutor interface {
	Execute(ctx context.Context, rootDir string, instructions []domain.AutoFixInstruction, rc autofix.RunContext) (domain.FixResult, error)
}

// ResolutionGuarantee decides the fallback status after a failed fix.
type ResolutionGuarantee interface {
	EnsureTicketResolution(ctx context.Context, ticket *domain.Ticket, fix domain.FixResult, attempt int) (domain.ResolutionOutcome, error)
}

// Planner asks an agent persona for a resolution plan.
type Planner interface {
	GeneratePlan(ctx context.Context, req domain.PlanRequest) (domain.ResolutionPlan, error)
}
