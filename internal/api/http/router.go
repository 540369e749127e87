package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-dispatch/internal/api/http/handlers"
	"github.com/spec-kit/support-dispatch/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	Tickets *handlers.TicketsHandler
	Changes *handlers.ChangesHandler
	Guard   *auth.ServiceGuard
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/health/heartbeat", cfg.Health.Heartbeat)

	app.Post("/webhooks/changes", cfg.Guard.Handle, auth.RequireScope(auth.ScopeChanges), cfg.Changes.Receive)

	dispatchScope := auth.RequireScope(auth.ScopeDispatch)
	tickets := app.Group("/tickets", cfg.Guard.Handle, dispatchScope)
	tickets.Post("/:id/dispatch", cfg.Tickets.Dispatch)
	tickets.Post("/:id/escalate", cfg.Tickets.Escalate)
	tickets.Get("/:id/deviations", cfg.Tickets.Deviations)

	app.Post("/dispatch/poll", cfg.Guard.Handle, dispatchScope, cfg.Tickets.Poll)
}
