package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/clock"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/events"
	"github.com/spec-kit/support-dispatch/internal/repository"
)

// auditor writes automation events and publishes domain events. Neither
// is ticket state, so failures are logged and never abort a step.
type auditor struct {
	automation repository.AutomationEventRepository
	dispatcher events.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
}

func (a auditor) record(ctx context.Context, ticketID string, agent domain.AgentID, eventType domain.AutomationEventType, payload map[string]any) {
	if a.automation == nil {
		return
	}
	err := a.automation.Create(ctx, &domain.AutomationEvent{
		TicketID:  ticketID,
		Agent:     agent,
		EventType: eventType,
		Payload:   payload,
	})
	if err != nil {
		a.logger.Warn("automation event not recorded",
			zap.String("ticket_id", ticketID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

func (a auditor) publish(ctx context.Context, eventType events.EventType, ticketID string, agent domain.AgentID, payload any) {
	if a.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Agent:     agent,
		Timestamp: a.clock.Now(),
		Payload:   payload,
	}
	_ = a.dispatcher.Publish(ctx, event)
}
