package session

import (
	"fmt"
	"strings"
	"time"

	"marketplace/cmd/security/token"
)

// Access token formats.
const (
	FormatPaseto = "paseto"
	FormatJWT    = "jwt"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls the three expiry windows, refresh entropy size, and how access
// tokens are signed. Values are loaded by the app layer and validated here.
type Config struct {
	// Policy holds the sliding, absolute and inactivity windows.
	Policy Policy

	// SecretBytes is the number of random bytes in a refresh secret.
	SecretBytes int

	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of access tokens.
	AccessTokenTTL time.Duration

	// AccessTokenFormat selects FormatPaseto or FormatJWT.
	AccessTokenFormat string

	// ClockSkew defines the allowed time skew during access-token validation.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key for PASETO v4.public.
	PasetoV4SecretKeyHex string

	// JWTSigningKey is the HMAC key for HS256 access tokens.
	JWTSigningKey string
}

// DefaultConfig returns the default configuration. Signing keys are left empty.
func DefaultConfig() Config {
	return Config{
		Policy:            DefaultPolicy(),
		SecretBytes:       32,
		Issuer:            "marketplace",
		AccessTokenTTL:    15 * time.Minute,
		AccessTokenFormat: FormatPaseto,
		ClockSkew:         30 * time.Second,
	}
}

// Validate checks invariants. Errors wrap ErrConfig.
func (c Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if c.SecretBytes < token.MinSecretBytes || c.SecretBytes > 64 {
		return fmt.Errorf("%w: refresh secret bytes must be within [%d, 64]", ErrConfig, token.MinSecretBytes)
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("%w: access token ttl must be positive", ErrConfig)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("%w: clock skew must not be negative", ErrConfig)
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: issuer is required", ErrConfig)
	}

	switch c.AccessTokenFormat {
	case FormatPaseto:
		if strings.TrimSpace(c.PasetoV4SecretKeyHex) == "" {
			return fmt.Errorf("%w: paseto secret key is required", ErrConfig)
		}
	case FormatJWT:
		if len(c.JWTSigningKey) < 32 {
			return fmt.Errorf("%w: jwt signing key must be at least 32 bytes", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown access token format %q", ErrConfig, c.AccessTokenFormat)
	}
	return nil
}
