// Package middleware provides HTTP middleware for the Pixelmint API.
//
// Included:
//   - RequestIDMiddleware: assigns a request id and start time to the context
//   - AuthMiddleware: resolves a session token or OIDC bearer token to a user
//   - RateLimitMiddleware: Redis-backed distributed rate limiting shared
//     across instances; fails open on Redis errors
//
// Webhook endpoints bypass AuthMiddleware; their payloads are authenticated
// by provider signature instead.
package middleware
