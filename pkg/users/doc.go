// Package users manages user accounts and their cached profiles.
//
// # Overview
//
// Users are the billing subjects: every subscription, credit transaction, and
// billing event references a user row. The store keeps a small in-process
// read cache for profile lookups; any write path that touches a user must
// invalidate the cached entry.
//
// # Row Locking
//
// Billing event handling serializes per user by taking a row lock:
//
//	if err := store.LockForUpdate(ctx, tx, userID); err != nil { ... }
//
// The lock is held for the remainder of the enclosing transaction.
//
// # Related Packages
//
//   - pkg/ledger: Credit balance updates against the users table
//   - pkg/billing: Takes the per-user lock while applying events
package users
