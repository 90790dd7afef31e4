package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/voiceforge/api/internal/auth"
	"github.com/voiceforge/api/pkg/response"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	jwtSecret string
}

// NewAuthMiddleware creates a new auth middleware using HMAC token verification
func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: jwtSecret}
}

// Authenticate validates the JWT token from the Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		claims, err := auth.ValidateToken(parts[1], m.jwtSecret)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		c.Locals("userId", claims.UserID)
		c.Locals("email", claims.Email)
		c.Locals("claims", claims)
		return c.Next()
	}
}

// ValidateToken verifies a raw token string. Used by the websocket routes,
// where the token arrives as a query parameter instead of a header.
func (m *AuthMiddleware) ValidateToken(tokenString string) (*auth.Claims, error) {
	return auth.ValidateToken(tokenString, m.jwtSecret)
}

// GetUserID extracts the user ID from the request context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts the user email from the request context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}
