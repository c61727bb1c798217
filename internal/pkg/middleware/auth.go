package middleware

import (
	"strings"

	"github.com/ManuelReschke/SaaSBase/internal/pkg/identity"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// SessionCookieName is the identity provider's session cookie.
const SessionCookieName = "__session"

// TokenVerifier validates a session token and returns its claims.
type TokenVerifier interface {
	Verify(raw string) (*identity.SessionClaims, error)
}

// RequireIdentity authenticates API routes with the identity provider's
// session token and returns JSON 401 when it is missing or invalid.
func RequireIdentity(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := extractSessionToken(c)
		if raw == "" {
			return unauthorized(c, "Missing session token")
		}
		if verifier == nil {
			log.Error("[Auth] Session verifier is not configured")
			return unauthorized(c, "Authentication is not configured")
		}

		claims, err := verifier.Verify(raw)
		if err != nil {
			log.Debugf("[Auth] Rejected session token: %v", err)
			return unauthorized(c, "Invalid session token")
		}

		usercontext.SetUserContext(c, usercontext.UserContext{
			OwnerID:    claims.Subject,
			SessionID:  claims.SessionID,
			IsLoggedIn: true,
		})
		return c.Next()
	}
}

// RequireAPISessionAuth rejects requests that did not pass RequireIdentity.
func RequireAPISessionAuth(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return unauthorized(c, "login required")
	}
	return c.Next()
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":   "unauthorized",
		"message": message,
	})
}

// extractSessionToken prefers the Authorization header over the cookie.
func extractSessionToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(c.Cookies(SessionCookieName))
}
