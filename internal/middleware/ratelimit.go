package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/services"
)

// RateLimit throttles authenticated callers by user and role, and anonymous
// callers by client IP.
func RateLimit(rateLimitService *services.RateLimitService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := "ip:" + c.ClientIP()
		role := services.RoleUser
		if userID, r, ok := GetUserFromContext(c); ok {
			clientID = "user:" + userID.String()
			role = r
		}

		allowed, info, err := rateLimitService.IsAllowed(c.Request.Context(), clientID, role)
		if err != nil {
			logger.WithError(err).Error("Failed to check rate limit")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime, 10))

		if !allowed {
			logger.WithFields(logrus.Fields{
				"client": clientID,
				"role":   role,
				"limit":  info.Limit,
			}).Warn("Rate limit exceeded")

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Rate limit exceeded. Please try again later.",
				},
				"rate_limit": info,
			})
			return
		}

		c.Next()
	}
}
