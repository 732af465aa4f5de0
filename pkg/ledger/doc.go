// Package ledger maintains the append-only credit ledger.
//
// # Overview
//
// Every credit movement is a signed transaction row; the running balance on
// the users table is derived state kept in sync in the same statement set.
// The invariant SUM(delta) == users.credits_balance holds at all times and
// can be checked with VerifyBalance.
//
// # Idempotency
//
// Transactions sourced from billing events carry (source_provider,
// source_event_id, reason) as an idempotency key enforced by a partial unique
// index. A duplicate apply returns ErrDuplicateApply without touching the
// balance:
//
//	err := store.ApplyDelta(ctx, tx, userID, 500, "checkout.completed", "creem", "evt_1")
//	if errors.Is(err, ledger.ErrDuplicateApply) { ... }
//
// # Related Packages
//
//   - pkg/billing: The only production writer, inside its event transaction
//   - pkg/users: Holds the derived credits_balance column
package ledger
