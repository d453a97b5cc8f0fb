package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/schoolbilling/pkg/auth"
	"github.com/platinummonkey/schoolbilling/pkg/contextkeys"
)

func newTestLimiter(cfg RateLimitConfig) (*RateLimiter, *time.Time) {
	rl := NewRateLimiter(cfg)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestNewRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})
	assert.Equal(t, DefaultRateLimitConfig(), rl.config)
}

func TestRateLimiterAllow(t *testing.T) {
	rl, now := newTestLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 2})

	assert.True(t, rl.Allow("user:1"))
	assert.True(t, rl.Allow("user:1"))
	assert.False(t, rl.Allow("user:1"))

	// keys are independent
	assert.True(t, rl.Allow("user:2"))

	// one token per second at 60/min
	*now = now.Add(time.Second)
	assert.True(t, rl.Allow("user:1"))
	assert.False(t, rl.Allow("user:1"))
}

func TestRateLimiterRemaining(t *testing.T) {
	rl, _ := newTestLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 5})

	assert.Equal(t, 5, rl.Remaining("ip:10.0.0.1"))
	rl.Allow("ip:10.0.0.1")
	rl.Allow("ip:10.0.0.1")
	assert.Equal(t, 3, rl.Remaining("ip:10.0.0.1"))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, now := newTestLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 5, IdleTimeout: time.Minute})

	rl.Allow("stale")
	*now = now.Add(2 * time.Minute)
	rl.Allow("fresh")

	assert.Equal(t, 1, rl.Cleanup())
	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "fresh")
}

func TestRateLimiterStartCleanupStops(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{IdleTimeout: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	rl.StartCleanup(ctx)
	cancel()
}

func TestRateLimiterHandler(t *testing.T) {
	rl, _ := newTestLimiter(RateLimitConfig{RequestsPerMinute: 30, BurstSize: 1})

	var remaining interface{}
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining = r.Context().Value(contextkeys.RateLimitKey)
		w.WriteHeader(http.StatusOK)
	}))

	request := func(userID int64, remoteAddr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
		r.RemoteAddr = remoteAddr
		if userID != 0 {
			r = r.WithContext(contextkeys.WithAuth(r.Context(), &auth.AuthContext{User: &auth.User{ID: userID}}))
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	w := request(1, "10.0.0.1:1234")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "30", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, float64(0), remaining)

	w = request(1, "10.0.0.2:1234")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"detail":"Request was throttled."}`, w.Body.String())

	// same address, different caller
	assert.Equal(t, http.StatusOK, request(2, "10.0.0.1:1234").Code)

	// anonymous callers are keyed by address
	assert.Equal(t, http.StatusOK, request(0, "10.0.0.9:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, request(0, "10.0.0.9:4321").Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "192.0.2.1:5000", want: "192.0.2.1"},
		{name: "remote addr without port", remote: "192.0.2.1", want: "192.0.2.1"},
		{name: "forwarded for", headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, remote: "10.0.0.1:80", want: "203.0.113.5"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "203.0.113.9"}, remote: "10.0.0.1:80", want: "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}
