package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/events"
)

const (
	// errorCountLimit escalates a ticket once this many errors were seen.
	errorCountLimit = 3
	// autopatchRetryLimit is how often a failed pattern is retried.
	autopatchRetryLimit = 2
)

var criticalErrorVocabulary = []string{
	"module not found",
	"cannot find module",
	"internal server error",
	"database connection error",
	"database connection failed",
	"timeout",
	"timed out",
	"crash",
	"fatal error",
	"critical error",
	"system error",
}

// errorTextReplacer lets "module-not-found" and "internal_server_error"
// match the spaced vocabulary.
var errorTextReplacer = strings.NewReplacer("-", " ", "_", " ")

// ShouldUseErrorHandler reports whether a ticket goes to the error handler
// and the reason for the first trigger that fired.
func ShouldUseErrorHandler(ticket *domain.Ticket) (bool, string) {
	if count := ticket.SourceMetadata.ErrorCount(); count >= errorCountLimit {
		return true, fmt.Sprintf("Repeated errors (%d attempts)", count)
	}
	state := ticket.SourceMetadata.Autopatch()
	if state.Exhausted(autopatchRetryLimit) {
		return true, fmt.Sprintf("Autopatch failed after %d retries", state.RetryCount)
	}
	text := errorTextReplacer.Replace(strings.ToLower(ticket.Text()))
	for _, term := range criticalErrorVocabulary {
		if strings.Contains(text, term) {
			return true, fmt.Sprintf("Critical error detected: %s", term)
		}
	}
	return false, ""
}

// runErrorHandler assigns the error handler agent and runs recovery.
// Tickets already handed to the escalation agent are left alone.
func (r *Router) runErrorHandler(ctx context.Context, ticket *domain.Ticket, reason string, logger *zap.Logger) error {
	if ticket.AssignedTo(domain.AgentEscalation) {
		logger.Debug("ticket already escalated, error handler skipped", zap.String("reason", reason))
		return nil
	}
	logger = logger.With(zap.String("reason", reason))

	assigned, err := r.tickets.Update(ctx, ticket.ID, domain.TicketUpdate{
		Status:        domain.StatusPtr(domain.TicketStatusInvestigating),
		AssignedAgent: domain.AgentPtr(domain.AgentErrorHandler),
		AppendEscalation: []domain.EscalationEntry{{
			Agent:     domain.AgentErrorHandler,
			Status:    "assigned",
			Timestamp: r.now(),
		}},
	})
	if err != nil {
		return fmt.Errorf("assign error handler: %w", err)
	}
	logger.Info("error handler assigned")
	r.postInternal(ctx, ticket.ID, "Error-Handler aktiviert: "+reason, domain.MessageKindErrorHandler, map[string]any{"reason": reason}, logger)
	r.audit.record(ctx, ticket.ID, domain.AgentErrorHandler, domain.EventErrorHandlerRun, map[string]any{"reason": reason})
	r.audit.publish(ctx, events.EventAgentAssigned, ticket.ID, domain.AgentErrorHandler, events.AgentAssignedPayload{
		Agent:  domain.AgentErrorHandler,
		Status: domain.TicketStatusInvestigating,
		Reason: reason,
	})

	return r.recoverTicket(ctx, assigned, reason, logger)
}

// recoverTicket bumps the error counter, grants one more autopatch retry
// while the counter is low and escalates once it reaches the limit. The
// grant is cleared by the next autopatch run, which rewrites the state.
func (r *Router) recoverTicket(ctx context.Context, ticket *domain.Ticket, reason string, logger *zap.Logger) error {
	metadata := ticket.SourceMetadata.Clone()
	count := metadata.ErrorCount() + 1
	metadata.SetErrorCount(count)

	state := metadata.Autopatch()
	if state.Status == domain.AutopatchStatusFailed && count < errorCountLimit {
		state.RetryCount++
		state.RetryGranted = true
		metadata.SetAutopatch(state)
	}

	update := domain.TicketUpdate{SourceMetadata: metadata}
	escalate := count >= errorCountLimit
	if escalate {
		update.Priority = domain.PriorityPtr(domain.TicketPriorityHigh)
		update.Status = domain.StatusPtr(domain.TicketStatusInvestigating)
		update.AssignedAgent = domain.AgentPtr(domain.AgentEscalation)
		update.AppendEscalation = []domain.EscalationEntry{{
			Agent:     domain.AgentEscalation,
			Status:    "escalated",
			Timestamp: r.now(),
		}}
	}
	if _, err := r.tickets.Update(ctx, ticket.ID, update); err != nil {
		return fmt.Errorf("store error handler recovery: %w", err)
	}
	logger.Info("error handler recovery", zap.Int("error_count", count), zap.Bool("escalated", escalate))
	if !escalate {
		return nil
	}

	note := fmt.Sprintf("Ticket an das Eskalationsteam übergeben (%d Fehler): %s", count, reason)
	r.postInternal(ctx, ticket.ID, note, domain.MessageKindEscalation, map[string]any{"errorCount": count}, logger)
	r.audit.record(ctx, ticket.ID, domain.AgentEscalation, domain.EventTicketEscalated, map[string]any{
		"reason":     reason,
		"errorCount": count,
	})
	r.audit.publish(ctx, events.EventTicketEscalated, ticket.ID, domain.AgentEscalation, events.TicketEscalatedPayload{
		From:   domain.AgentErrorHandler,
		To:     domain.AgentEscalation,
		Reason: reason,
	})
	return nil
}
