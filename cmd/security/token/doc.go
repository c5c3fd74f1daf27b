// Package token provides the refresh-token codec for the marketplace.
//
// It is the single source of truth for how opaque refresh secrets are
// generated and how they are digested for storage and lookup.
//
// Design goals:
// - Secrets carry at least 256 bits from crypto/rand and are base64url without padding.
// - Dev mode: SHA-256(secret) when no digest key is configured.
// - Keyed mode: HMAC-SHA256(secret, k) where k is derived from the configured
//   key material with HKDF-SHA256, so the raw configured key never touches a digest.
// - Stable 64-char hex output for storage and equality lookup.
//
// Nothing in this package logs. Callers must never log a raw secret.
package token
