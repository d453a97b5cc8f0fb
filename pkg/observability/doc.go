// Package observability provides structured logging, Prometheus metrics, health checks
// and OpenTelemetry tracing for the billing gateway.
//
// # Structured Logging
//
//	logger := observability.NewLogger(logrus.InfoLevel, observability.LogFormatJSON, os.Stdout)
//	observability.FromContext(ctx).WithField("school_id", id).Info("subscription updated")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// All Observe* helpers accept a nil *Metrics so tests can skip wiring.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.RegisterRoutes(router)
//
// Postgres down is unhealthy. Redis down is degraded since it only backs the plan cache.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
package observability
