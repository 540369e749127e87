package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/support-dispatch/internal/config"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/events"
)

func TestNotificationServiceForwardsEscalations(t *testing.T) {
	received := make(chan events.Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev events.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		received <- ev
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	dispatcher := events.NewInMemoryDispatcher(logger)
	NewNotificationService(dispatcher, logger, config.NotificationConfig{WebhookURL: srv.URL}).RegisterHandlers()

	_ = dispatcher.Publish(context.Background(), events.Event{
		ID:        "ev-1",
		Type:      events.EventTicketEscalated,
		TicketID:  "t-1",
		Agent:     domain.AgentEscalation,
		Timestamp: time.Now(),
		Payload:   events.TicketEscalatedPayload{To: domain.AgentEscalation, Reason: "Repeated errors (3 attempts)"},
	})

	select {
	case ev := <-received:
		if ev.TicketID != "t-1" || ev.Type != events.EventTicketEscalated {
			t.Errorf("webhook got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestNotificationServiceWithoutWebhook(t *testing.T) {
	n := NewNotificationService(nil, zaptest.NewLogger(t), config.NotificationConfig{})
	n.RegisterHandlers()
	if err := n.sendWebhook(context.Background(), events.Event{Type: events.EventAutopatchApplied}); err != nil {
		t.Errorf("sendWebhook without url = %v", err)
	}
}
