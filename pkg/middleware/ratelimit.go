package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/platinummonkey/schoolbilling/pkg/contextkeys"
	"github.com/platinummonkey/schoolbilling/pkg/httputil"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate per caller
	RequestsPerMinute int
	// BurstSize allows temporary bursts above the rate
	BurstSize int
	// IdleTimeout drops a caller's limiter after this long without requests
	IdleTimeout time.Duration
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 120,
		BurstSize:         20,
		IdleTimeout:       10 * time.Minute,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller key
type RateLimiter struct {
	config   RateLimitConfig
	limit    rate.Limit
	visitors map[string]*visitor
	mu       sync.Mutex
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	defaults := DefaultRateLimitConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if config.BurstSize <= 0 {
		config.BurstSize = defaults.BurstSize
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}

	return &RateLimiter{
		config:   config,
		limit:    rate.Limit(float64(config.RequestsPerMinute) / 60.0),
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.config.BurstSize)}
		rl.visitors[key] = v
	}
	v.lastSeen = rl.now()
	return v.limiter
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(key string) bool {
	return rl.get(key).AllowN(rl.now(), 1)
}

// Remaining returns the whole tokens left for a key
func (rl *RateLimiter) Remaining(key string) int {
	return int(rl.get(key).TokensAt(rl.now()))
}

// Cleanup removes limiters idle longer than IdleTimeout
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	cutoff := rl.now().Add(-rl.config.IdleTimeout)
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every IdleTimeout until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.IdleTimeout)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Handler wraps an HTTP handler with rate limiting. Authenticated callers are keyed by
// user id, everyone else by client address.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + clientIP(r)
		if authCtx := GetAuthContext(r); authCtx != nil && authCtx.User != nil {
			key = fmt.Sprintf("user:%d", authCtx.User.ID)
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.config.RequestsPerMinute))
		if !rl.Allow(key) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(60/float64(rl.config.RequestsPerMinute)))))
			w.Header().Set("X-RateLimit-Remaining", "0")
			httputil.WriteDetail(w, http.StatusTooManyRequests, "Request was throttled.")
			return
		}

		remaining := rl.Remaining(key)
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		ctx := contextkeys.WithRateLimitRemaining(r.Context(), float64(remaining))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
