// Package auth provides session authentication for the Pixelmint API.
//
// Two credential kinds resolve to a user id:
//
//   - Opaque session tokens ("pm_" prefix) issued by this service. Only the
//     SHA-256 hash is stored; the plaintext token is returned once at creation.
//   - OIDC bearer tokens from the dashboard's identity provider, verified with
//     coreos/go-oidc against the issuer's JWKS.
//
// Webhook endpoints are NOT authenticated here; they carry their own
// provider signature verification.
package auth
