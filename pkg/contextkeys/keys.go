// Package contextkeys provides centralized context key definitions
//
// All request-scoped values set by middleware and read by handlers are keyed here.
//
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
//
// Request ids, user ids and loggers for structured logging live in pkg/observability.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.AuthContext
	// Set by: middleware.AuthMiddleware
	// Required by: every /api/v1 endpoint
	AuthKey Key = "auth_context"

	// RateLimitKey contains the remaining request allowance as a float64
	// Set by: middleware.RateLimiter
	RateLimitKey Key = "rate_limit_remaining"
)

// WithAuth adds authentication context to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithRateLimitRemaining records the caller's remaining allowance
func WithRateLimitRemaining(ctx context.Context, remaining float64) context.Context {
	return context.WithValue(ctx, RateLimitKey, remaining)
}
