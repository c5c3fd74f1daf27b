package token

import "errors"

// Public, stable errors for callers.
var (
	ErrDigestKeyMissing  = errors.New("token digest key missing")
	ErrDigestKeyTooShort = errors.New("token digest key too short")
	ErrSecretTooShort    = errors.New("token secret size below minimum")
)
