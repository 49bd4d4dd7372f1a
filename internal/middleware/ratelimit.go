package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/internal/services"
)

// RateLimit throttles requests per authenticated subject, or per client IP
// when no subject is set.
func RateLimit(limiter *services.RateLimiter, action string, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := GetSubject(c)
		if subject == "" {
			subject = c.ClientIP()
		}

		allowed, info := limiter.Allow(c.Request.Context(), subject, action)

		c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime, 10))

		if !allowed {
			logger.WithFields(logrus.Fields{
				"subject": subject,
				"action":  action,
				"limit":   info.Limit,
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
