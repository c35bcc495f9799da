package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// FingerprintHeader carries the terminal's device fingerprint.
const FingerprintHeader = "X-Device-Fingerprint"

const (
	sessionIDKey   = "session_id"
	fingerprintKey = "device_fingerprint"
)

// SessionAuth extracts the bearer session id and device fingerprint. The
// session itself is validated by the service on every call.
func SessionAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer session")
		}
		sessionID := strings.TrimSpace(authz[len("Bearer "):])
		if sessionID == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer session")
		}
		c.Locals(sessionIDKey, sessionID)
		c.Locals(fingerprintKey, c.Get(FingerprintHeader))
		return c.Next()
	}
}

// Session returns the session id and fingerprint stored by SessionAuth.
func Session(c *fiber.Ctx) (sessionID, fingerprint string) {
	sessionID, _ = c.Locals(sessionIDKey).(string)
	fingerprint, _ = c.Locals(fingerprintKey).(string)
	return sessionID, fingerprint
}
