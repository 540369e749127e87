package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// ErrNoHealthEndpoint is returned for targets without a configured URL.
var ErrNoHealthEndpoint = errors.New("no health endpoint configured")

// TargetChecker reports whether a remote target is healthy again after a
// command ran on it.
type TargetChecker interface {
	CheckTarget(ctx context.Context, target string) error
}

// HealthEndpoints checks targets by calling their health URL. Any status
// below 400 counts as healthy.
type HealthEndpoints struct {
	urls    map[string]string
	timeout time.Duration
}

// NewHealthEndpoints creates a checker for the given target URLs.
func NewHealthEndpoints(urls map[string]string, timeout time.Duration) *HealthEndpoints {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthEndpoints{urls: urls, timeout: timeout}
}

func (h *HealthEndpoints) CheckTarget(ctx context.Context, target string) error {
	url, ok := h.urls[target]
	if !ok {
		return ErrNoHealthEndpoint
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := h.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	code, _, errs := fiber.Get(url).Timeout(timeout).Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("health check %s: %w", target, errors.Join(errs...))
	}
	if code >= fiber.StatusBadRequest {
		return fmt.Errorf("health check %s: status %d", target, code)
	}
	return nil
}
