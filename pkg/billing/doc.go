// Package billing implements the payment event pipeline: provider payload
// normalization, the idempotent event handler, the plan catalog, and the
// checkout provider adapters.
//
// # Overview
//
// Provider webhooks deliver signed payloads. A Normalizer verifies the
// signature and maps the payload into a canonical Event; the Handler then
// applies the event's ledger and subscription effects exactly once inside a
// single database transaction:
//
//	event, err := normalizer.Normalize(body, r.Header.Get("creem-signature"))
//	if err != nil { ... } // InvalidPayloadError -> 400
//	result, err := handler.Handle(ctx, event)
//
// # Event lifecycle
//
// received -> verified -> normalized -> applied | rejected
//
// The (provider, event id) pair is the idempotency key. A redelivered event
// replays the stored outcome without reapplying effects; business-rule
// rejections are committed so redeliveries replay the rejection too. Only
// storage failures roll the event back entirely, signalling the provider to
// retry.
//
// # Checkout
//
// CheckoutService creates provider checkout sessions through the registered
// CheckoutProvider adapters, refusing when the user already has a blocking
// subscription. The same check runs again when the resulting
// checkout.completed event arrives.
//
// # Related Packages
//
//   - pkg/ledger: At-most-once credit application
//   - pkg/subscriptions: Blocking invariant and subscription rows
//   - pkg/api: HTTP surface for webhooks and checkout
package billing
