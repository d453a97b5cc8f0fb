// Package middleware provides HTTP middleware for bearer token authentication,
// manager authorization and per-caller rate limiting.
//
// Typical wiring on a gorilla/mux subrouter:
//
//	authMW := middleware.NewAuthMiddleware(tokenManager, false)
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	api.Use(authMW.Handler, limiter.Handler)
//	api.Handle("/plans", middleware.RequireManager(http.HandlerFunc(h.listPlans)))
//
// Rejections use the {"detail": ...} envelope: 401 when credentials are missing or invalid,
// 403 when the caller is not a manager, 429 when the caller is throttled.
package middleware
