package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v7"
	log "github.com/sirupsen/logrus"
)

// RateLimiter is a fixed-window limiter backed by redis. One window per
// user (falling back to client IP for anonymous requests).
type RateLimiter struct {
	Redis  *redis.Client
	Limit  int
	Window time.Duration
}

// Middleware enforces the limit. Redis being down fails open: losing the
// limiter must never take the linking flow down with it.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.Redis == nil || r.Limit <= 0 {
			c.Next()
			return
		}
		subject := c.GetString("mobile")
		if subject == "" {
			subject = c.ClientIP()
		}
		key := "ratelimit:" + subject
		count, err := r.Redis.Incr(key).Result()
		if err != nil {
			log.WithFields(log.Fields{"code": err.Error()}).Warn("rate limiter unavailable")
			c.Next()
			return
		}
		if count == 1 {
			r.Redis.Expire(key, r.Window)
		}
		if count > int64(r.Limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": "too many linking attempts", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}
