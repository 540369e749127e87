package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/autofix"
	"github.com/spec-kit/support-dispatch/internal/autopatch"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/events"
)

// processAutopatch applies a verified candidate. The customer only ever
// sees the automated notice and, after a passing post-fix check, the
// support success message.
func (r *Router) processAutopatch(ctx context.Context, ticket *domain.Ticket, candidate *domain.AutopatchCandidate, logger *zap.Logger) error {
	logger = logger.With(zap.String("pattern_id", candidate.PatternID))
	prior := ticket.SourceMetadata.Autopatch()

	claimed, err := r.tickets.Update(ctx, ticket.ID, domain.TicketUpdate{
		Status:        domain.StatusPtr(domain.TicketStatusInvestigating),
		AssignedAgent: domain.AgentPtr(domain.AgentAutopatch),
		AppendEscalation: []domain.EscalationEntry{{
			Agent:     domain.AgentAutopatch,
			Status:    "autopatch_started",
			Timestamp: r.now(),
		}},
	})
	if err != nil {
		return fmt.Errorf("claim ticket for autopatch: %w", err)
	}
	ticket = claimed

	meta := map[string]any{"patternId": candidate.PatternID, "source": candidate.Source}
	state := domain.AutopatchState{PatternID: candidate.PatternID}
	finalStatus := domain.TicketStatusWaitingCustomer
	var outcome *domain.ResolutionOutcome

	if !candidate.HasInstructions() {
		note := fmt.Sprintf("Autopatch %s erkannt (%s), aber keine automatischen Fix-Instructions verfügbar. Manuelle Bearbeitung erforderlich.",
			candidate.PatternID, candidate.Summary)
		r.postInternal(ctx, ticket.ID, note, domain.MessageKindAutopatch, meta, logger)
		state.Status = domain.AutopatchStatusPlanned
		state.AutoFixMessage = note
		r.recordAutopatch(ctx, ticket.ID, domain.EventAutopatchPlanned, events.EventAutopatchPlanned, candidate, domain.FixResult{})
		logger.Info("autopatch planned, manual intervention required")
	} else {
		r.postNotice(ctx, ticket.ID, autopatch.InitialMessage(candidate), domain.MessageKindAutopatch, meta, logger)
		fix := r.execute(ctx, ticket, candidate, logger)
		state.AutoFixMessage = fix.Message

		verified := false
		if fix.Success {
			post := r.verifyPostFix(ctx, ticket, candidate, fix, logger)
			if post.ProblemExists {
				r.postInternal(ctx, ticket.ID,
					fmt.Sprintf("Autopatch %s angewendet, aber das Problem besteht laut Nachprüfung weiterhin: %s",
						candidate.PatternID, strings.Join(post.Evidence, "; ")),
					domain.MessageKindAutopatch, meta, logger)
			} else {
				verified = true
			}
		} else {
			r.postInternal(ctx, ticket.ID,
				fmt.Sprintf("Autopatch %s fehlgeschlagen: %s", candidate.PatternID, fix.Error),
				domain.MessageKindAutopatch, meta, logger)
		}

		if verified {
			message := candidate.CustomerMessage
			if message == "" {
				message = autopatch.SuccessMessage(candidate.ProblemLabel)
			}
			r.postCustomer(ctx, ticket.ID, message, domain.MessageKindAutopatch, meta, logger)
			if len(fix.Warnings) > 0 {
				r.postInternal(ctx, ticket.ID,
					fmt.Sprintf("Autopatch %s mit Warnungen angewendet: %s", candidate.PatternID, strings.Join(fix.Warnings, "; ")),
					domain.MessageKindAutopatch, meta, logger)
			}
			state.Status = domain.AutopatchStatusApplied
			r.recordAutopatch(ctx, ticket.ID, domain.EventAutopatchApplied, events.EventAutopatchApplied, candidate, fix)
			logger.Info("autopatch applied and verified", zap.Strings("modified_files", fix.ModifiedFiles))
		} else {
			state.Status = domain.AutopatchStatusFailed
			state.RetryCount = 1
			if prior.PatternID == candidate.PatternID {
				state.RetryCount = prior.RetryCount + 1
			}
			if state.AutoFixMessage == "" {
				state.AutoFixMessage = fix.Error
			}
			r.recordAutopatch(ctx, ticket.ID, domain.EventAutopatchFailed, events.EventAutopatchFailed, candidate, fix)
			finalStatus = domain.TicketStatusInvestigating
			outcome = r.ensureResolution(ctx, ticket, fix, state.RetryCount, logger)
			if outcome != nil && outcome.Status != "" {
				finalStatus = outcome.Status
			}
			logger.Warn("autopatch did not resolve the problem", zap.String("error", fix.Error), zap.Int("attempt", state.RetryCount))
		}
	}

	now := r.now()
	state.UpdatedAt = &now
	metadata := ticket.SourceMetadata.Clone()
	metadata.SetAutopatch(state)
	update := domain.TicketUpdate{
		Status:         domain.StatusPtr(finalStatus),
		SourceMetadata: metadata,
	}
	escalate := outcome != nil && outcome.Escalate
	if escalate {
		update.Priority = domain.PriorityPtr(domain.TicketPriorityHigh)
		update.AssignedAgent = domain.AgentPtr(domain.AgentEscalation)
		update.AppendEscalation = []domain.EscalationEntry{{
			Agent:     domain.AgentEscalation,
			Status:    "escalated",
			Timestamp: now,
		}}
	}
	if _, err := r.tickets.Update(ctx, ticket.ID, update); err != nil {
		return fmt.Errorf("store autopatch result: %w", err)
	}
	if escalate {
		r.postInternal(ctx, ticket.ID, outcome.Message, domain.MessageKindEscalation, meta, logger)
		r.audit.record(ctx, ticket.ID, domain.AgentEscalation, domain.EventTicketEscalated, map[string]any{
			"reason":    outcome.Message,
			"patternId": candidate.PatternID,
		})
		r.audit.publish(ctx, events.EventTicketEscalated, ticket.ID, domain.AgentEscalation, events.TicketEscalatedPayload{
			From:   domain.AgentAutopatch,
			To:     domain.AgentEscalation,
			Reason: outcome.Message,
		})
	}
	return nil
}

func (r *Router) execute(ctx context.Context, ticket *domain.Ticket, candidate *domain.AutopatchCandidate, logger *zap.Logger) domain.FixResult {
	if r.executor == nil {
		return domain.FixResult{Error: "no autofix executor configured"}
	}
	fix, err := r.executor.Execute(ctx, r.cfg.RootDir, candidate.AutoFixInstructions, autofix.RunContext{TicketID: ticket.ID})
	if err != nil {
		logger.Warn("autofix execution failed", zap.Error(err))
		fix.Success = false
		if fix.Error == "" {
			fix.Error = err.Error()
		}
	}
	return fix
}

// verifyPostFix treats a missing verifier or a verifier error as "still
// broken".
func (r *Router) verifyPostFix(ctx context.Context, ticket *domain.Ticket, candidate *domain.AutopatchCandidate, fix domain.FixResult, logger *zap.Logger) domain.VerificationResult {
	if r.verifier == nil {
		return domain.VerificationResult{ProblemExists: true, Evidence: []string{"no problem verifier configured"}}
	}
	result, err := r.verifier.VerifyPostFix(ctx, ticket, candidate.PatternID, fix, candidate.AutoFixInstructions)
	if err != nil {
		logger.Warn("post-fix verification failed", zap.Error(err))
		return domain.VerificationResult{
			ProblemExists: true,
			Evidence:      []string{"verification error: " + err.Error()},
		}
	}
	return result
}

func (r *Router) ensureResolution(ctx context.Context, ticket *domain.Ticket, fix domain.FixResult, attempt int, logger *zap.Logger) *domain.ResolutionOutcome {
	outcome, err := r.guarantee.EnsureTicketResolution(ctx, ticket, fix, attempt)
	if err != nil {
		logger.Error("resolution guarantee failed", zap.Error(err))
		return nil
	}
	if outcome.Message != "" && !outcome.Escalate {
		r.postInternal(ctx, ticket.ID, outcome.Message, domain.MessageKindAutopatch, nil, logger)
	}
	return &outcome
}

func (r *Router) recordAutopatch(ctx context.Context, ticketID string, eventType domain.AutomationEventType, published events.EventType, candidate *domain.AutopatchCandidate, fix domain.FixResult) {
	r.audit.record(ctx, ticketID, domain.AgentAutopatch, eventType, map[string]any{
		"patternId":     candidate.PatternID,
		"source":        candidate.Source,
		"summary":       candidate.Summary,
		"instructions":  len(candidate.AutoFixInstructions),
		"modifiedFiles": fix.ModifiedFiles,
		"error":         fix.Error,
	})
	r.audit.publish(ctx, published, ticketID, domain.AgentAutopatch, events.AutopatchPayload{
		PatternID:     candidate.PatternID,
		Summary:       candidate.Summary,
		ModifiedFiles: fix.ModifiedFiles,
		Error:         fix.Error,
	})
}

// The post helpers log message store failures and carry on;
// the ticket update at the end of the step is what must not be lost.
func (r *Router) postCustomer(ctx context.Context, ticketID, text, kind string, meta map[string]any, logger *zap.Logger) {
	if _, err := r.messages.Customer(ctx, ticketID, text, kind, meta); err != nil {
		logger.Error("customer message not stored", zap.Error(err))
	}
}

func (r *Router) postNotice(ctx context.Context, ticketID, text, kind string, meta map[string]any, logger *zap.Logger) {
	if _, err := r.messages.Notice(ctx, ticketID, text, kind, meta); err != nil {
		logger.Error("status notice not stored", zap.Error(err))
	}
}

func (r *Router) postInternal(ctx context.Context, ticketID, text, kind string, meta map[string]any, logger *zap.Logger) {
	if _, err := r.messages.Internal(ctx, ticketID, text, kind, meta); err != nil {
		logger.Error("internal note not stored", zap.Error(err))
	}
}
