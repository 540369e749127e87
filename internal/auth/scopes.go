package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/support-dispatch/pkg/util"
)

// Scope is a permission carried in a service token.
type Scope string

const (
	// ScopeChanges allows posting change notifications.
	ScopeChanges Scope = "changes:write"
	// ScopeDispatch allows triggering dispatch and escalation by hand.
	ScopeDispatch Scope = "dispatch:write"
	ScopeAdmin    Scope = "admin"
)

// RequireScope ensures the principal carries one of the allowed scopes.
func RequireScope(allowed ...Scope) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		for _, scope := range allowed {
			if principal.Has(scope) {
				return c.Next()
			}
		}
		return apperrors.NewForbidden("insufficient scope")
	}
}
