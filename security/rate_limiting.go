package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// GateIDHeader names the gate a superuser acts for. Gate devices are
// identified by their auth record instead.
const GateIDHeader = "X-Gate-ID"

type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

// NewRateLimiter allows limit requests per window for each caller.
func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: redisClient, limit: int64(limit), window: window}
}

// GateRateLimit limits scan requests per authenticated gate device, falling
// back to the client IP for other callers.
func (r *RateLimiter) GateRateLimit() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		key := callerKey(e)

		allowed, err := r.allowRequest(e.Request.Context(), key)
		if err != nil {
			// Redis trouble must not lock gates out.
			slog.Warn("Rate limit check failed", "key", key, "error", err)
			return e.Next()
		}
		if !allowed {
			slog.Warn("Gate rate limit exceeded", "key", key, "security_event", true)
			return e.JSON(http.StatusTooManyRequests, map[string]any{
				"error":     "Rate limit exceeded. Please try again later.",
				"retryable": true,
			})
		}

		return e.Next()
	}
}

func (r *RateLimiter) allowRequest(ctx context.Context, key string) (bool, error) {
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, r.window).Err(); err != nil {
			return false, err
		}
	}
	return count <= r.limit, nil
}

func callerKey(e *core.RequestEvent) string {
	if gateID := CallerGateID(e, ""); gateID != "" {
		return fmt.Sprintf("ratelimit:gate:%s", gateID)
	}
	return fmt.Sprintf("ratelimit:ip:%s", e.RealIP())
}
