package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/flowerwine/filebounty-backend/pkg/clientip"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// RateLimitWindow is 120 seconds
	RateLimitWindow = 120 * time.Second
	// RateLimitMaxRequests is the number of requests allowed per window
	RateLimitMaxRequests = 300
	// RateLimitKeyPrefix is the Redis key prefix for rate limiting
	RateLimitKeyPrefix = "ratelimit:"
	// BlockedIPKeyPrefix is the Redis key prefix for blocked IPs
	BlockedIPKeyPrefix = "blocked_ip:"
	// BlockedIPDuration is how long an IP stays blocked
	BlockedIPDuration = 15 * time.Minute
)

// RedisRateLimiter counts requests per client IP in a fixed Redis window
// and blocks IPs that go over the limit.
type RedisRateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	block  time.Duration
	now    func() time.Time
}

func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{
		rdb:    rdb,
		limit:  RateLimitMaxRequests,
		window: RateLimitWindow,
		block:  BlockedIPDuration,
		now:    time.Now,
	}
}

// Middleware fails open when Redis is unavailable.
func (l *RedisRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := clientip.Of(r)

		blockedKey := BlockedIPKeyPrefix + ip
		blocked, err := l.rdb.Exists(ctx, blockedKey).Result()
		if err == nil && blocked > 0 {
			writeError(w, http.StatusTooManyRequests, "your IP has been temporarily blocked due to excessive requests")
			return
		}

		key := RateLimitKeyPrefix + ip
		n, err := l.rdb.Incr(ctx, key).Result()
		if err != nil {
			zap.S().Warnf("ratelimit: redis unavailable, allowing %s: %v", ip, err)
			next.ServeHTTP(w, r)
			return
		}
		if n == 1 {
			l.rdb.Expire(ctx, key, l.window)
		}
		count := int(n)

		if count > l.limit {
			if err := l.rdb.Set(ctx, blockedKey, "1", l.block).Err(); err != nil {
				zap.S().Warnf("ratelimit: block %s: %v", ip, err)
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(l.block.Seconds())))
			writeError(w, http.StatusTooManyRequests, fmt.Sprintf("rate limit exceeded, retry after %d seconds", int(l.block.Seconds())))
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(l.limit-count))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(l.now().Add(l.window).Unix(), 10))
		next.ServeHTTP(w, r)
	})
}
