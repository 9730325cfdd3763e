package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"pal-backend/internal/config"
	"pal-backend/internal/models"
)

const (
	CtxUserIDKey       = "user_id"
	CtxUserRoleKey     = "user_role"
	CtxFranchiseeIDKey = "franchisee_id"
	CtxTechnicianIDKey = "technician_id"
)

// SessionCookie carries the same JWT as the Authorization header for browser
// clients (technician dashboard).
const SessionCookie = "pal_session"

func JWTMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := c.Cookies(SessionCookie)

		if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				return fiber.NewError(fiber.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			}
			tokenStr = parts[1]
		}

		if tokenStr == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Missing credentials")
		}

		claims, err := ParseToken(cfg.JWTSecret, tokenStr)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired token")
		}

		c.Locals(CtxUserIDKey, claims.UserID)
		c.Locals(CtxUserRoleKey, claims.Role)
		c.Locals(CtxFranchiseeIDKey, claims.FranchiseeID)
		c.Locals(CtxTechnicianIDKey, claims.TechnicianID)

		return c.Next()
	}
}

func RequireRole(allowedRoles ...models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, ok := c.Locals(CtxUserRoleKey).(models.UserRole)
		if !ok {
			return fiber.NewError(fiber.StatusForbidden, "Role missing from session")
		}

		for _, r := range allowedRoles {
			if r == role {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "You are not allowed to perform this action")
	}
}
