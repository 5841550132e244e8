package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lanternhq/lantern/internal/auth"
	"github.com/lanternhq/lantern/internal/circuitbreaker"
	"github.com/lanternhq/lantern/internal/metrics"
)

// RateLimiter enforces a per-caller fixed window in Redis. The window is
// keyed by the caller's rate key (user id or service name) and sized by
// requests-per-minute. Redis trouble fails open: availability beats strict
// enforcement for this service.
type RateLimiter struct {
	redis  *circuitbreaker.RedisWrapper
	rpm    int
	window time.Duration
	logger *zap.Logger
}

func NewRateLimiter(redis *circuitbreaker.RedisWrapper, requestsPerMinute int, logger *zap.Logger) *RateLimiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 60
	}
	return &RateLimiter{
		redis:  redis,
		rpm:    requestsPerMinute,
		window: time.Minute,
		logger: logger,
	}
}

// Middleware applies the limit to authenticated requests. It must run after
// the auth middleware so the caller identity is available.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userCtx, err := auth.GetUserContext(r.Context())
		if err != nil {
			// No identity to key on; let the handler reject instead.
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		bucket := time.Now().Unix() / int64(rl.window.Seconds())
		key := fmt.Sprintf("ratelimit:%s:%d", userCtx.RateKey(), bucket)

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			rl.logger.Warn("Rate limit check failed, allowing request", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			// First hit in this window owns the expiry.
			if err := rl.redis.Expire(ctx, key, rl.window).Err(); err != nil {
				rl.logger.Warn("Rate limit expiry failed", zap.Error(err))
			}
		}

		remaining := int64(rl.rpm) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.rpm))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(rl.rpm) {
			metrics.RateLimitRejections.WithLabelValues(r.URL.Path).Inc()
			retryAfter := int64(rl.window.Seconds()) - (time.Now().Unix() % int64(rl.window.Seconds()))
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			httpError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
