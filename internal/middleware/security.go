package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/flowerwine/filebounty-backend/pkg/clientip"
	"golang.org/x/time/rate"
)

const (
	headerXContentTypeOptions     = "X-Content-Type-Options"
	headerXFrameOptions           = "X-Frame-Options"
	headerXXSSProtection          = "X-XSS-Protection"
	headerStrictTransportSecurity = "Strict-Transport-Security"
	headerReferrerPolicy          = "Referrer-Policy"
)

// SecurityHeaders sets security-related response headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerXContentTypeOptions, "nosniff")
		w.Header().Set(headerXFrameOptions, "DENY")
		w.Header().Set(headerXXSSProtection, "1; mode=block")
		w.Header().Set(headerStrictTransportSecurity, "max-age=31536000; includeSubDomains")
		w.Header().Set(headerReferrerPolicy, "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

const (
	globalRateLimitRPS   = 10
	globalRateLimitBurst = 40

	loginRateLimitEvery = 5 * time.Second
	loginRateLimitBurst = 3

	limiterCleanupInterval = 5 * time.Minute
	limiterTTL             = 30 * time.Minute
)

var loginPaths = map[string]bool{
	"/api/user/login":       true,
	"/api/admin/auth/login": true,
}

type limiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// IPLimiter keeps one token bucket per client IP and forgets idle ones.
type IPLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	entries map[string]*limiterEntry
	now     func() time.Time
}

func NewIPLimiter(limit rate.Limit, burst int) *IPLimiter {
	return &IPLimiter{
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[ip] = e
	}
	e.lastUse = l.now()
	return e.limiter.Allow()
}

// Sweep drops entries unused for longer than ttl.
func (l *IPLimiter) Sweep(ttl time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for ip, e := range l.entries {
		if now.Sub(e.lastUse) > ttl {
			delete(l.entries, ip)
			removed++
		}
	}
	return removed
}

// RunCleanup sweeps idle entries until ctx is done.
func (l *IPLimiter) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(limiterTTL)
		}
	}
}

// GlobalRateLimit limits every request per IP. Returns 429 when exceeded.
func GlobalRateLimit(l *IPLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientip.Of(r)) {
				writeError(w, http.StatusTooManyRequests, "too many requests, please slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoginRateLimit applies a stricter limit to the sign-in routes only.
func LoginRateLimit(l *IPLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !loginPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if !l.Allow(clientip.Of(r)) {
				writeError(w, http.StatusTooManyRequests, "too many login attempts, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ProductionSecurity returns SecurityHeaders → GlobalRateLimit → LoginRateLimit.
// The limiters' idle entries are swept until ctx is done.
func ProductionSecurity(ctx context.Context) []func(http.Handler) http.Handler {
	global := NewIPLimiter(rate.Limit(globalRateLimitRPS), globalRateLimitBurst)
	login := NewIPLimiter(rate.Every(loginRateLimitEvery), loginRateLimitBurst)
	go global.RunCleanup(ctx)
	go login.RunCleanup(ctx)
	return []func(http.Handler) http.Handler{
		SecurityHeaders,
		GlobalRateLimit(global),
		LoginRateLimit(login),
	}
}
