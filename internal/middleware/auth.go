package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/services"
)

// Context keys set by Auth.
const (
	ContextUserID   = "user_id"
	ContextRole     = "role"
	ContextUsername = "username"
)

// Auth accepts either a JWT or a raw API key as a bearer credential. API key
// callers name themselves with X-User-ID.
func Auth(authService *services.AuthService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, http.StatusUnauthorized, "MISSING_AUTHORIZATION", "Authorization header is required")
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			abortWithError(c, http.StatusUnauthorized, "INVALID_AUTHORIZATION_FORMAT", "Authorization header must be in format 'Bearer <token>'")
			return
		}
		credential := tokenParts[1]

		// API keys carry no dots, JWTs always do
		if !strings.Contains(credential, ".") {
			role, err := authService.ValidateAPIKey(credential)
			if err != nil {
				logger.WithError(err).Warn("Invalid API key")
				abortWithError(c, http.StatusUnauthorized, "INVALID_API_KEY", "Invalid API key")
				return
			}

			userIDStr := c.GetHeader("X-User-ID")
			if userIDStr == "" {
				abortWithError(c, http.StatusBadRequest, "MISSING_USER_ID", "X-User-ID header is required with API key authentication")
				return
			}
			userID, err := uuid.Parse(userIDStr)
			if err != nil {
				abortWithError(c, http.StatusBadRequest, "INVALID_USER_ID", "Invalid user ID format")
				return
			}

			c.Set(ContextUserID, userID)
			c.Set(ContextRole, role)
			c.Next()
			return
		}

		claims, err := authService.ValidateToken(c.Request.Context(), credential)
		if err != nil {
			logger.WithError(err).Warn("Invalid JWT token")
			abortWithError(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextUsername, claims.Username)
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin role. It must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != services.RoleAdmin {
			abortWithError(c, http.StatusForbidden, "ADMIN_REQUIRED", "This operation requires an admin credential")
			return
		}
		c.Next()
	}
}

// GetUserFromContext returns the caller identity set by Auth.
func GetUserFromContext(c *gin.Context) (uuid.UUID, string, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, "", false
	}
	userID, ok := v.(uuid.UUID)
	if !ok {
		return uuid.Nil, "", false
	}
	return userID, c.GetString(ContextRole), true
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
