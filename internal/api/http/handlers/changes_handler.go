package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/events"
	apperrors "github.com/spec-kit/support-dispatch/pkg/util"
)

// ChangeQueue accepts change notifications for asynchronous handling.
type ChangeQueue interface {
	Submit(ev events.ChangeEvent) bool
}

// ChangesHandler receives change notifications pushed over HTTP.
type ChangesHandler struct {
	queue  ChangeQueue
	logger *zap.Logger
}

// NewChangesHandler constructs handler.
func NewChangesHandler(queue ChangeQueue, logger *zap.Logger) *ChangesHandler {
	return &ChangesHandler{queue: queue, logger: logger}
}

// Receive POST /webhooks/changes.
func (h *ChangesHandler) Receive(c *fiber.Ctx) error {
	ev, err := events.ParseChangeEvent(c.Body())
	if err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}
	if !h.queue.Submit(ev) {
		h.logger.Warn("change queue full, notification dropped",
			zap.String("table", ev.Table), zap.String("row_id", ev.RowID))
		return apperrors.NewUnavailable("change queue", nil)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
}
