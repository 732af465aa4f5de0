// Package api implements the Pixelmint HTTP surface.
//
// Routes:
//
//	POST /api/v1/webhooks/{provider}       provider webhook intake (signature-authenticated)
//	POST /api/v1/checkout                  create a provider checkout session
//	GET  /api/v1/plans                     purchasable plan catalog
//	GET  /api/v1/me/subscription           caller's blocking subscription, if any
//	GET  /api/v1/me/credits                caller's credit balance
//	GET  /api/v1/me/credits/history        caller's ledger history
//	GET  /api/v1/images/{key}              stream or presign a generated image
//
// Webhook endpoints always answer 200 for outcomes the provider must not
// retry (applied, replayed, ignored) and for committed business rejections a
// 4xx with a machine-readable code; only storage failures return 500.
package api
