package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/events"
)

const bootstrapLimit = 200

// BatchResult summarizes one pass over the open tickets.
type BatchResult struct {
	Scanned    int `json:"scanned"`
	Dispatched int `json:"dispatched"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// BootstrapOpenTickets dispatches every open ticket that is not already
// being processed. Tickets run one after another; a failing ticket does
// not stop the batch.
func (r *Router) BootstrapOpenTickets(ctx context.Context) (BatchResult, error) {
	var res BatchResult
	r.beat.polled(r.now())
	if purged := r.cache.Purge(); purged > 0 {
		r.logger.Debug("expired detections purged", zap.Int("count", purged))
	}

	tickets, err := r.tickets.ListByStatuses(ctx, domain.OpenStatuses, bootstrapLimit)
	if err != nil {
		return res, fmt.Errorf("list open tickets: %w", err)
	}
	for i := range tickets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ticket := &tickets[i]
		res.Scanned++
		busy, reason := r.isBeingProcessed(ctx, ticket)
		if busy {
			r.logger.Debug("ticket skipped, already being processed",
				zap.String("ticket_id", ticket.ID), zap.String("reason", reason))
			res.Skipped++
			continue
		}
		if _, err := r.DispatchTicket(ctx, ticket); err != nil {
			res.Failed++
			continue
		}
		res.Dispatched++
	}
	r.logger.Info("open tickets bootstrapped",
		zap.Int("scanned", res.Scanned),
		zap.Int("dispatched", res.Dispatched),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}

// isBeingProcessed is a time-window heuristic, not a lock: a ticket with
// an unanswered approval request, or one moved to investigating within
// the processing window, is left for a later pass. A failed lookup counts
// as busy.
func (r *Router) isBeingProcessed(ctx context.Context, ticket *domain.Ticket) (bool, string) {
	if ticket.Status == domain.TicketStatusInvestigating && r.now().Sub(ticket.UpdatedAt) < r.cfg.ProcessingWindow() {
		return true, "recently moved to investigating"
	}
	if r.messageRepo == nil {
		return false, ""
	}
	pending, err := r.messageRepo.HasPendingApproval(ctx, ticket.ID)
	if err != nil {
		r.logger.Warn("pending approval lookup failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return true, "approval lookup failed"
	}
	if pending {
		return true, "approval request pending"
	}
	return false, ""
}

// HandleChange reacts to a change notification by reloading and
// dispatching the affected ticket. Messages written by support or the
// system itself, and ticket updates echoing the router's own writes within
// the processing window, are ignored so the router does not wake itself up.
// Outside edits landing inside that window are left to the poller.
func (r *Router) HandleChange(ctx context.Context, ev events.ChangeEvent) {
	logger := r.logger.With(zap.String("table", ev.Table), zap.String("type", string(ev.Type)))
	if ev.Type == events.ChangeDelete {
		return
	}
	ticketID := ev.RowID
	if ev.Table == events.TableTickets && ev.Type == events.ChangeUpdate && r.written.recent(ticketID) {
		logger.Debug("own ticket update ignored", zap.String("ticket_id", ticketID))
		return
	}
	if ev.Table == events.TableTicketMessages {
		switch domain.MessageAuthorType(ev.AuthorType) {
		case domain.AuthorTypeSupport, domain.AuthorTypeSystem:
			return
		case domain.AuthorTypeCustomer:
			r.beat.customerReplied(r.now())
		}
		ticketID = ev.TicketID
	}
	if ticketID == "" {
		logger.Warn("change notification without ticket id", zap.String("row_id", ev.RowID))
		return
	}
	if _, err := r.Dispatch(ctx, ticketID); err != nil {
		logger.Warn("change-triggered dispatch failed", zap.String("ticket_id", ticketID), zap.Error(err))
	}
}
