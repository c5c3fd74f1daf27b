// Package session implements the marketplace refresh-session engine.
//
// It provides long-lived login sessions behind short-lived signed access tokens:
// refresh-token rotation inside a single locked transaction, reuse detection that
// revokes the whole token family, three composed expiry policies (sliding,
// absolute, inactivity) and per-session / per-user revocation.
//
// Refresh secrets are opaque random strings; only their digest is persisted
// (see cmd/security/token). Access tokens are PASETO v4.public by default,
// with JWT (HS256) available as an alternative format.
//
// HTTP transport lives in cmd/internal/auth/api.
package session
