// Package subscriptions manages subscription rows and the blocking invariant.
//
// # Overview
//
// A subscription row is open while ended_at IS NULL. At most one open row may
// exist per user; a user with an open, unlapsed subscription is "blocked" from
// starting another checkout. The invariant is enforced three ways:
//
//   - read-time predicate in GetBlockingSubscription
//   - the caller's per-user row lock during event handling
//   - a partial unique index ON subscriptions(user_id) WHERE ended_at IS NULL
//
// # Transactions
//
// All write methods accept a storage.Querier so the billing event handler can
// compose them with the idempotency claim and ledger writes in one transaction:
//
//	tx, _ := db.BeginTx(ctx, nil)
//	sub, err := store.GetBlockingSubscription(ctx, tx, userID)
//	...
//
// # Related Packages
//
//   - pkg/billing: Drives all subscription state changes from provider events
//   - pkg/ledger: Credit grants recorded alongside subscription changes
package subscriptions
