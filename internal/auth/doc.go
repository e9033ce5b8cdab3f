// Package auth provides bearer-token authentication for the hub's API
// and session surfaces.
//
// The model is deliberately small: a shared HS256 secret signs
// short-lived JWT access tokens carrying a role claim. Admin tokens may
// commission devices, send commands and write attributes; viewer tokens
// are read-only. Validation is signature-only, so no database is
// involved on the request path and revocation happens by rotating the
// secret.
package auth
