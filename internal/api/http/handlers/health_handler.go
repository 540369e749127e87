package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-dispatch/internal/api/dto"
	"github.com/spec-kit/support-dispatch/internal/observability"
	"github.com/spec-kit/support-dispatch/internal/service"
	apperrors "github.com/spec-kit/support-dispatch/pkg/util"
)

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HeartbeatSource reports router progress.
type HeartbeatSource interface {
	HeartbeatMeta() service.HeartbeatMeta
}

// Dependency names a readiness check.
type Dependency struct {
	Name   string
	Pinger Pinger
}

// HealthHandler responds to liveness, readiness and heartbeat probes.
type HealthHandler struct {
	serviceName  string
	version      string
	dependencies []Dependency
	heartbeat    HeartbeatSource
	metrics      *observability.Metrics
}

// NewHealthHandler returns a new handler instance.
func NewHealthHandler(serviceName, version string, heartbeat HeartbeatSource, metrics *observability.Metrics, deps ...Dependency) *HealthHandler {
	return &HealthHandler{
		serviceName:  serviceName,
		version:      version,
		dependencies: deps,
		heartbeat:    heartbeat,
		metrics:      metrics,
	}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready reports service readiness by checking dependencies.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	depStatus := fiber.Map{}
	var firstErr error
	var failed string
	for _, dep := range h.dependencies {
		if err := dep.Pinger.Ping(ctx); err != nil {
			depStatus[dep.Name] = err.Error()
			if firstErr == nil {
				firstErr, failed = err, dep.Name
			}
			continue
		}
		depStatus[dep.Name] = "ok"
	}

	if firstErr != nil {
		unavailable := apperrors.NewUnavailable(failed, firstErr).(*apperrors.DomainError)
		unavailable.Details = depStatus
		return unavailable
	}
	return c.JSON(fiber.Map{
		"status":       "ready",
		"dependencies": depStatus,
	})
}

// Heartbeat reports router counters and dispatch metrics.
func (h *HealthHandler) Heartbeat(c *fiber.Ctx) error {
	resp := dto.HeartbeatResponse{
		Status:  "ok",
		Service: h.serviceName,
		Version: h.version,
		Metrics: h.metrics.Snapshot(),
	}
	if h.heartbeat != nil {
		resp.Meta = h.heartbeat.HeartbeatMeta()
	}
	return c.JSON(resp)
}
