// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults, and optionally overlays a YAML file that can be hot reloaded.
//
// # Configuration Structure
//
// Server settings:
//
//	PIXELMINT_HOST="0.0.0.0"
//	PIXELMINT_PORT="8080"
//	PIXELMINT_HEALTH_PORT="9090"
//	PIXELMINT_READ_TIMEOUT="15s"
//	PIXELMINT_WRITE_TIMEOUT="15s"
//
// Storage settings:
//
//	PIXELMINT_POSTGRES_URL="postgres://localhost/pixelmint"
//	PIXELMINT_POSTGRES_MAX_CONNS="20"
//	PIXELMINT_S3_BUCKET="pixelmint-images"
//	PIXELMINT_S3_ENDPOINT="https://accountid.r2.cloudflarestorage.com"
//	PIXELMINT_REDIS_URL="redis://localhost:6379"
//
// Billing settings:
//
//	PIXELMINT_CREEM_API_KEY="creem_sk_..."
//	PIXELMINT_CREEM_WEBHOOK_SECRET="whsec_..."
//	PIXELMINT_STRIPE_API_KEY="sk_live_..."
//	PIXELMINT_STRIPE_WEBHOOK_SECRET="whsec_..."
//	PIXELMINT_STRIPE_TOLERANCE="5m"
//	PIXELMINT_CHECKOUT_SUCCESS_URL="https://pixelmint.app/billing/success"
//	PIXELMINT_CHECKOUT_CANCEL_URL="https://pixelmint.app/billing/cancel"
//
// Auth settings:
//
//	PIXELMINT_OIDC_ISSUER="https://accounts.google.com"
//	PIXELMINT_OIDC_CLIENT_ID="..."
//	PIXELMINT_SESSION_TTL="720h"
//
// Observability settings:
//
//	PIXELMINT_LOG_LEVEL="info"  # debug, info, warn, error
//	PIXELMINT_METRICS_ENABLED="true"
//	PIXELMINT_OTEL_ENABLED="true"
//	PIXELMINT_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
