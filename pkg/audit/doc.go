// Package audit records billing decisions in an append-only audit log.
//
// # Overview
//
// Every billing event outcome (applied, rejected, replayed) and every
// checkout initiation is recorded with its idempotency key, so rejected
// events can be reconciled against the provider dashboard later.
//
// # Usage
//
//	auditLogger := audit.NewDBLogger(db)
//	auditLogger.Record(ctx, audit.Entry{
//		Actor:    userID,
//		Action:   audit.ActionBillingEvent,
//		Resource: "creem/evt_123",
//		Outcome:  "rejected",
//		Detail:   map[string]interface{}{"reject_code": "subscription_conflict"},
//	})
//
// Audit writes never fail the business operation; callers log and continue
// on error. Retention is enforced by Prune, run from the maintenance cron.
//
// # Related Packages
//
//   - pkg/billing: Records event outcomes
//   - cmd/pixelmint: Schedules retention pruning
package audit
