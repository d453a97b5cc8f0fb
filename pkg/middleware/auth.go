package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/schoolbilling/pkg/auth"
	"github.com/platinummonkey/schoolbilling/pkg/contextkeys"
	"github.com/platinummonkey/schoolbilling/pkg/httputil"
	"github.com/platinummonkey/schoolbilling/pkg/observability"
)

const (
	msgNotAuthenticated = "Authentication credentials were not provided."
	msgInvalidToken     = "Invalid token."
	msgPermissionDenied = "You do not have permission to perform this action."
)

// TokenValidator resolves a bearer token to its caller
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.AuthContext, error)
}

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	validator TokenValidator
	optional  bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(validator TokenValidator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		optional:  optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteDetail(w, http.StatusUnauthorized, msgNotAuthenticated)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			httputil.WriteDetail(w, http.StatusUnauthorized, msgInvalidToken)
			return
		}

		authCtx, err := m.validator.ValidateToken(r.Context(), parts[1])
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Debug("token rejected")
			httputil.WriteDetail(w, http.StatusUnauthorized, msgInvalidToken)
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		if authCtx.User != nil {
			ctx = observability.WithUserID(ctx, authCtx.User.ID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, ok := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// RequireAuthenticated rejects requests without an active caller
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := GetAuthContext(r)
		if authCtx == nil || authCtx.User == nil || !authCtx.User.IsActive {
			httputil.WriteDetail(w, http.StatusUnauthorized, msgNotAuthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireManager rejects callers without the manager capability
func RequireManager(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := GetAuthContext(r)
		if authCtx == nil || authCtx.User == nil {
			httputil.WriteDetail(w, http.StatusUnauthorized, msgNotAuthenticated)
			return
		}
		if !authCtx.IsManager() {
			httputil.WriteDetail(w, http.StatusForbidden, msgPermissionDenied)
			return
		}
		next.ServeHTTP(w, r)
	})
}
