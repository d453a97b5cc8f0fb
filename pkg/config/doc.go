// Package config loads service configuration from defaults, an optional YAML file and
// SCHOOLBILLING_* environment variables, in that order of precedence (later wins).
//
// A .env file in the working directory, or the file named by SCHOOLBILLING_ENV_FILE, is
// read first; it never overrides variables already present in the environment.
//
// Required settings:
//
//	SCHOOLBILLING_POSTGRES_URL="postgres://localhost/schoolbilling?sslmode=disable"
//	SCHOOLBILLING_STRIPE_SECRET_KEY="sk_test_..."
//
// Commonly tuned settings:
//
//	SCHOOLBILLING_PORT="8080"
//	SCHOOLBILLING_REDIS_URL="redis://localhost:6379/0"   # enables the plan cache
//	SCHOOLBILLING_STRIPE_WEBHOOK_SECRET="whsec_..."      # enables the webhook
//	SCHOOLBILLING_STRIPE_REACTIVATE_MODE="single"         # or legacy
//	SCHOOLBILLING_RECONCILER_SCHEDULE="*/15 * * * *"
//	SCHOOLBILLING_LOG_LEVEL="info"
//	SCHOOLBILLING_LOG_FORMAT="json"                       # or text
//	SCHOOLBILLING_OTEL_ENABLED="false"
//
// The same keys are available in YAML under server, database, redis, stripe, auth,
// observability, reconciler and rate_limit (see SCHOOLBILLING_CONFIG_FILE).
package config
