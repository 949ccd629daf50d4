package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmburu/mingle/database"
	"github.com/mmburu/mingle/models"
)

// UpdateLastActive stamps the authenticated user's last_active_at on every
// protected call. Failures never block the request.
func UpdateLastActive() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token, ok := c.Locals("user").(*jwt.Token); ok {
			claims := token.Claims.(jwt.MapClaims)
			if raw, ok := claims["user_id"].(string); ok {
				if userID, err := uuid.Parse(raw); err == nil {
					err := database.DB.Model(&models.User{}).
						Where("id = ?", userID).
						Update("last_active_at", time.Now()).Error
					if err != nil {
						zap.S().Warnw("last active update failed", "user_id", userID, "error", err)
					}
				}
			}
		}
		return c.Next()
	}
}
