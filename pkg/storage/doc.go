// Package storage defines the shared storage configuration and the Querier
// abstraction used by all persistence-backed packages.
//
// # Querier
//
// Stores accept a Querier rather than a concrete handle so that a method can
// run against either a pooled *sql.DB or an in-flight *sql.Tx. The billing
// event handler relies on this to compose subscription and ledger writes into
// a single transaction.
//
// # Backends
//
//   - PostgreSQL (pkg/storage/postgres): primary plus optional read replicas
//   - Redis: rate limiting and short-lived checkout state
//   - S3-compatible object storage: generated image bytes (AWS S3 or
//     Cloudflare R2 via a custom endpoint)
package storage
