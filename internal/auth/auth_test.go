package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/support-dispatch/pkg/util"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", "support-intake", 5)
	token, expires, err := tm.GenerateToken("intake-worker", ScopeChanges)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if !expires.After(time.Now()) {
		t.Errorf("expiry %v is not in the future", expires)
	}
	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "intake-worker" || len(claims.Scopes) != 1 || claims.Scopes[0] != ScopeChanges {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	tm := NewTokenManager("secret", "support-intake", 5)

	other, _, err := NewTokenManager("other-secret", "support-intake", 5).GenerateToken("x", ScopeChanges)
	if err != nil {
		t.Fatal(err)
	}
	wrongIssuer, _, err := NewTokenManager("secret", "someone-else", 5).GenerateToken("x", ScopeChanges)
	if err != nil {
		t.Fatal(err)
	}
	expiredManager := NewTokenManager("secret", "support-intake", 1)
	expiredManager.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := expiredManager.GenerateToken("x", ScopeChanges)
	if err != nil {
		t.Fatal(err)
	}

	for name, token := range map[string]string{
		"wrong secret": other,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"garbage":      "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := tm.ParseToken(token); err == nil {
				t.Error("token accepted")
			}
		})
	}
}

func TestServiceGuard(t *testing.T) {
	tm := NewTokenManager("secret", "support-intake", 5)
	guard := NewServiceGuard(tm)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(apperrors.ToDomainError(err).HTTPStatus)
		},
	})
	app.Post("/changes", guard.Handle, RequireScope(ScopeChanges), func(c *fiber.Ctx) error {
		p, _ := PrincipalFromContext(c)
		return c.SendString(p.Subject)
	})

	changes, _, _ := tm.GenerateToken("intake", ScopeChanges)
	dispatchOnly, _, _ := tm.GenerateToken("operator", ScopeDispatch)
	admin, _, _ := tm.GenerateToken("root", ScopeAdmin)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"missing scope", "Bearer " + dispatchOnly, http.StatusForbidden},
		{"matching scope", "Bearer " + changes, http.StatusOK},
		{"admin scope", "bearer " + admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/changes", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
