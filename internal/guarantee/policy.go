// Package guarantee decides what happens to a ticket after an automatic
// fix failed or did not survive post-fix verification.
package guarantee

import (
	"context"
	"fmt"

	"github.com/spec-kit/support-dispatch/internal/domain"
)

// DefaultMaxAttempts is how many automatic attempts a pattern gets
// before a human takes over.
const DefaultMaxAttempts = 2

// Policy is an attempt-count based resolution guarantee.
type Policy struct {
	MaxAttempts int
}

// NewPolicy returns a policy allowing maxAttempts automatic attempts.
func NewPolicy(maxAttempts int) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Policy{MaxAttempts: maxAttempts}
}

// EnsureTicketResolution keeps the ticket under investigation while
// attempts remain and escalates once they are used up.
func (p *Policy) EnsureTicketResolution(ctx context.Context, ticket *domain.Ticket, fix domain.FixResult, attempt int) (domain.ResolutionOutcome, error) {
	if err := ctx.Err(); err != nil {
		return domain.ResolutionOutcome{}, err
	}
	reason := "Fix angewendet, Problem besteht weiterhin"
	if !fix.Success {
		reason = "Fix fehlgeschlagen"
		if fix.Error != "" {
			reason += ": " + fix.Error
		}
	}
	if attempt < p.MaxAttempts {
		return domain.ResolutionOutcome{
			Status:  domain.TicketStatusInvestigating,
			Message: fmt.Sprintf("%s (Versuch %d von %d); weiterer automatischer Versuch möglich.", reason, attempt, p.MaxAttempts),
		}, nil
	}
	return domain.ResolutionOutcome{
		Status:   domain.TicketStatusInvestigating,
		Message:  fmt.Sprintf("%s (Versuch %d von %d); Übergabe an das Eskalationsteam.", reason, attempt, p.MaxAttempts),
		Escalate: true,
	}, nil
}
