package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/clock"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/repository"
)

// Author names used on router-written messages.
const (
	supportAuthorName = "Support-Team"
	systemAuthorName  = "Dispatch"
)

// MessageWriter inserts ticket messages, dropping any message identical
// to one the same author type wrote within the dedup window.
type MessageWriter struct {
	messages repository.TicketMessageRepository
	clock    clock.Clock
	window   time.Duration
	logger   *zap.Logger
}

// NewMessageWriter creates the writer.
func NewMessageWriter(messages repository.TicketMessageRepository, clk clock.Clock, window time.Duration, logger *zap.Logger) *MessageWriter {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageWriter{messages: messages, clock: clk, window: window, logger: logger}
}

// Post stores msg unless it duplicates a recent message. It reports
// whether the message was stored.
func (w *MessageWriter) Post(ctx context.Context, msg *domain.TicketMessage) (bool, error) {
	if w.window > 0 {
		since := w.clock.Now().Add(-w.window)
		dup, err := w.messages.ExistsSince(ctx, msg.TicketID, msg.AuthorType, msg.Message, since)
		if err != nil {
			return false, fmt.Errorf("check duplicate message: %w", err)
		}
		if dup {
			w.logger.Debug("duplicate message suppressed",
				zap.String("ticket_id", msg.TicketID),
				zap.String("author_type", string(msg.AuthorType)))
			return false, nil
		}
	}
	if err := w.messages.Create(ctx, msg); err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return true, nil
}

// Customer posts a customer-visible support message.
func (w *MessageWriter) Customer(ctx context.Context, ticketID, text, kind string, metadata map[string]any) (bool, error) {
	return w.Post(ctx, &domain.TicketMessage{
		TicketID:   ticketID,
		AuthorType: domain.AuthorTypeSupport,
		AuthorName: supportAuthorName,
		Message:    text,
		Metadata:   withKind(metadata, kind),
	})
}

// Notice posts a customer-visible automated status notice.
func (w *MessageWriter) Notice(ctx context.Context, ticketID, text, kind string, metadata map[string]any) (bool, error) {
	return w.Post(ctx, &domain.TicketMessage{
		TicketID:   ticketID,
		AuthorType: domain.AuthorTypeSystem,
		AuthorName: systemAuthorName,
		Message:    text,
		Metadata:   withKind(metadata, kind),
	})
}

// Internal posts a system note hidden from the customer.
func (w *MessageWriter) Internal(ctx context.Context, ticketID, text, kind string, metadata map[string]any) (bool, error) {
	return w.Post(ctx, &domain.TicketMessage{
		TicketID:     ticketID,
		AuthorType:   domain.AuthorTypeSystem,
		AuthorName:   systemAuthorName,
		Message:      text,
		Metadata:     withKind(metadata, kind),
		InternalOnly: true,
	})
}

func withKind(metadata map[string]any, kind string) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	if kind != "" {
		out["kind"] = kind
	}
	return out
}
