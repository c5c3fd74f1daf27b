package app

import (
	"errors"
	"fmt"

	"marketplace/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy and returns the
// digester every refresh secret is hashed with.
//
// With REQUIRE_TOKEN_DIGEST_KEY=true a missing or short key fails startup
// instead of falling back to unkeyed SHA-256.
func ValidateSecurityConfig(cfg Config) (token.Digester, error) {
	if !cfg.RequireTokenDigestKey {
		d, err := token.NewDigester(cfg.TokenDigestKey)
		if err != nil {
			return token.Digester{}, fmt.Errorf("security policy: TOKEN_DIGEST_KEY: %w", err)
		}
		return d, nil
	}

	d, err := token.RequireKeyed(cfg.TokenDigestKey)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrDigestKeyMissing):
			return token.Digester{}, errors.New("security policy: MARKETPLACE_REQUIRE_TOKEN_DIGEST_KEY=true but MARKETPLACE_TOKEN_DIGEST_KEY is missing")
		case errors.Is(err, token.ErrDigestKeyTooShort):
			return token.Digester{}, fmt.Errorf("security policy: MARKETPLACE_TOKEN_DIGEST_KEY is too short (min %d bytes)", token.MinDigestKeyBytes)
		default:
			return token.Digester{}, err
		}
	}

	if !d.Keyed() {
		return token.Digester{}, errors.New("security policy: digest key required but digester is not keyed")
	}
	return d, nil
}
