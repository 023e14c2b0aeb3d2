package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/aman-churiwal/velero-api/internal/metrics"
	"github.com/aman-churiwal/velero-api/internal/ratelimit"
)

const rateLimitedKey = "rate_limited"

// RouteLimit identifies the route being gated.
type RouteLimit struct {
	Path string
	Tag  string
	Name string
	Tier string
}

// RateLimit gates one route. The window is resolved on every request so a
// custom rule for (Tag, Name) takes precedence over the route tier. Clients are
// identified by principal, falling back to the client IP.
func RateLimit(gate *ratelimit.Gate, route RouteLimit, clk clock.PassiveClock, m *metrics.ServerMetrics, logger logrus.FieldLogger) gin.HandlerFunc {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return func(c *gin.Context) {
		window := gate.Resolve(route.Tag, route.Name, route.Tier)

		clientID := c.ClientIP()
		if p := Principal(c); p.Authenticated() {
			clientID = p.Identity()
		}

		decision, err := gate.Admit(c.Request.Context(), window, clientID)
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{"route": route.Path, "client": clientID}).Error("Rate limit check failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Rate limit check failed",
			})
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetAt.Unix()))
		c.Header("X-RateLimit-Tier", window.Key)

		if !decision.Allowed {
			retryAfter := int(decision.ResetAt.Sub(clk.Now()).Round(time.Second).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}

			m.RegisterRateLimitRejection(route.Path)
			logger.WithFields(logrus.Fields{"route": route.Path, "client": clientID, "window": window.Key}).Debug("Rate limit exceeded")

			c.Set(rateLimitedKey, true)
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"tier":        window.Key,
				"limit":       decision.Limit,
				"retry_after": decision.ResetAt.Unix(),
			})
			return
		}

		c.Next()
	}
}
