package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/api/dto"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/service"
	apperrors "github.com/spec-kit/support-dispatch/pkg/util"
)

// TicketRouter is the part of the router the ticket endpoints drive.
type TicketRouter interface {
	Dispatch(ctx context.Context, ticketID string) (service.DispatchResult, error)
	Escalate(ctx context.Context, ticketID string, plan *domain.ResolutionPlan) ([]service.Tier2Step, error)
	BootstrapOpenTickets(ctx context.Context) (service.BatchResult, error)
}

// TicketLoader reads tickets for the preview endpoint.
type TicketLoader interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
}

// TicketsHandler exposes manual dispatch, escalation and deviation preview.
type TicketsHandler struct {
	router   TicketRouter
	tickets  TicketLoader
	detector service.DeviationDetector
	rootDir  string
	logger   *zap.Logger
}

// NewTicketsHandler constructs handler. detector may be nil, which
// disables the preview endpoint.
func NewTicketsHandler(router TicketRouter, tickets TicketLoader, detector service.DeviationDetector, rootDir string, logger *zap.Logger) *TicketsHandler {
	return &TicketsHandler{router: router, tickets: tickets, detector: detector, rootDir: rootDir, logger: logger}
}

// Dispatch POST /tickets/:id/dispatch.
func (h *TicketsHandler) Dispatch(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	res, err := h.router.Dispatch(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": res})
}

// Escalate POST /tickets/:id/escalate.
func (h *TicketsHandler) Escalate(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.EscalateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if len(req.Actions) == 0 && req.Summary == "" {
		return apperrors.NewValidationError("summary or actions required", nil)
	}
	steps, err := h.router.Escalate(c.UserContext(), id, req.Plan())
	if errors.Is(err, service.ErrTicketClosed) {
		return apperrors.NewConflict("ticket already closed", map[string]any{"ticket_id": id})
	}
	if err != nil {
		return err
	}
	if steps == nil {
		steps = []service.Tier2Step{}
	}
	return c.JSON(fiber.Map{"data": dto.EscalateResponse{TicketID: id, Steps: steps}})
}

// Deviations GET /tickets/:id/deviations.
func (h *TicketsHandler) Deviations(c *fiber.Ctx) error {
	if h.detector == nil {
		return apperrors.NewUnavailable("deviation detector", nil)
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.GetByID(c.UserContext(), id)
	if err != nil {
		return err
	}
	devs, err := h.detector.Detect(c.UserContext(), ticket, h.rootDir)
	if err != nil {
		return err
	}
	items := make([]dto.DeviationResponse, 0, len(devs))
	for _, dev := range devs {
		items = append(items, dto.NewDeviationResponse(dev))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Poll POST /dispatch/poll runs one bootstrap pass immediately.
func (h *TicketsHandler) Poll(c *fiber.Ctx) error {
	res, err := h.router.BootstrapOpenTickets(c.UserContext())
	if err != nil {
		return err
	}
	h.logger.Info("manual poll finished", zap.Int("dispatched", res.Dispatched))
	return c.JSON(fiber.Map{"data": res})
}

func ticketID(c *fiber.Ctx) (string, error) {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return "", apperrors.NewValidationError("ticket id required", nil)
	}
	return id, nil
}
