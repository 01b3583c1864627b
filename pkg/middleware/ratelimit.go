package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"minerush-rewardplane/pkg/config"
	"minerush-rewardplane/pkg/errutil"
	"minerush-rewardplane/pkg/ratelimit"
	"minerush-rewardplane/pkg/rediskey"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RealIP extracts the client's real IP address, preferring X-Forwarded-For
// and falling back to RemoteAddr.
func RealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// first IP in the chain is the original client
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit admits requests per client IP using the shared token bucket. On a
// limiter backend failure the route's fail-open/fail-closed policy decides.
func RateLimit(limiter ratelimit.Limiter, route string, rl config.RouteLimit) gin.HandlerFunc {
	cfg := ratelimit.Config{
		TokensPerInterval: rl.TokensPerInterval,
		Interval:          rl.Interval,
		MaxTokens:         rl.MaxTokens,
	}

	return func(c *gin.Context) {
		key := rediskey.BuildRateLimitKey(route, "ip:"+RealIP(c.Request))

		res, err := limiter.Consume(c.Request.Context(), key, cfg, 1)
		if err != nil {
			zap.L().Warn("rate limiter unavailable",
				zap.String("route", route),
				zap.Bool("fail_open", rl.FailOpen),
				zap.Error(err),
			)
			if rl.FailOpen {
				c.Next()
				return
			}
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errutil.BaseError{
				Code:    errutil.StatusServiceUnavailable,
				Message: "admission control unavailable",
			}.JSON())
			return
		}

		if !res.Allowed {
			retrySec := int64(res.RetryAfter.Seconds())
			if retrySec < 1 {
				retrySec = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retrySec))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":           errutil.StatusTooManyRequests,
					"message":        "too many requests",
					"retryable":      true,
					"retry_after_ms": res.RetryAfter.Milliseconds(),
				},
			})
			return
		}

		c.Next()
	}
}
