// Package observability provides structured logging, Prometheus metrics,
// health checks, OpenTelemetry wiring, and graceful shutdown for the
// Pixelmint billing service.
//
// # Logging
//
// Logger is a thin wrapper over slog emitting JSON to stdout. Handlers attach
// request-scoped fields (request id, user id) via context helpers.
//
// # Metrics
//
// Metrics registers HTTP metrics plus billing business metrics: events
// processed/rejected/replayed per provider, credits granted, and checkout
// sessions created. Exposed on the health port at /metrics.
//
// # Health
//
// HealthChecker probes PostgreSQL (required) and Redis (optional, degraded
// when down) and serves the /health, /health/live, and /health/ready probes.
package observability
