package gin

import (
	"fmt"
	"net/http"
	"time"

	gongin "github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/sinuapp/sinu-api/pkg/lifecycle"
)

// RateLimitConfig holds login rate limiter configuration
type RateLimitConfig struct {
	// Client is the Redis client backing the counters (required)
	Client *redis.Client

	// Limit is the number of requests allowed per window per client IP
	// Default: 10
	Limit int

	// Window is the length of the fixed window
	// Default: 1 minute
	Window time.Duration

	// KeyPrefix namespaces the Redis keys
	// Default: "ratelimit:login"
	KeyPrefix string

	// Logger is used for structured logging (default: NoopLogger).
	Logger lifecycle.Logger
}

// RateLimit creates middleware that throttles a route per client IP using a
// fixed window counter in Redis. Redis failures fail open: a broken limiter
// must not take logins down with it.
func RateLimit(cfg RateLimitConfig) gongin.HandlerFunc {
	if cfg.Client == nil {
		panic("sinu/gin: Config.Client is required")
	}

	// Set defaults
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ratelimit:login"
	}
	if cfg.Logger == nil {
		cfg.Logger = &lifecycle.NoopLogger{}
	}

	return func(c *gongin.Context) {
		ctx := c.Request.Context()
		key := fmt.Sprintf("%s:%s", cfg.KeyPrefix, c.ClientIP())

		count, err := cfg.Client.Incr(ctx, key).Result()
		if err != nil {
			cfg.Logger.Warn("rate limiter unavailable, allowing request",
				lifecycle.Field{Key: "error", Value: err.Error()})
			c.Next()
			return
		}
		if count == 1 {
			// First hit of the window starts the clock.
			if err := cfg.Client.Expire(ctx, key, cfg.Window).Err(); err != nil {
				cfg.Logger.Warn("rate limiter expire failed",
					lifecycle.Field{Key: "error", Value: err.Error()})
			}
		}

		if count > int64(cfg.Limit) {
			c.Header("Retry-After", fmt.Sprintf("%.0f", cfg.Window.Seconds()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gongin.H{"detail": "Too many requests"})
			return
		}
		c.Next()
	}
}
