package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	return cfg
}

func TestConfigValidate_Defaults(t *testing.T) {
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Policy.SlidingWindow != 30*24*time.Hour {
		t.Fatalf("sliding default mismatch: %v", cfg.Policy.SlidingWindow)
	}
	if cfg.Policy.AbsoluteWindow != 90*24*time.Hour {
		t.Fatalf("absolute default mismatch: %v", cfg.Policy.AbsoluteWindow)
	}
	if cfg.Policy.InactivityWindow != 14*24*time.Hour {
		t.Fatalf("inactivity default mismatch: %v", cfg.Policy.InactivityWindow)
	}
}

func TestConfigValidate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing paseto key", mutate: func(c *Config) { c.PasetoV4SecretKeyHex = "" }},
		{name: "small secret", mutate: func(c *Config) { c.SecretBytes = 16 }},
		{name: "huge secret", mutate: func(c *Config) { c.SecretBytes = 65 }},
		{name: "zero access ttl", mutate: func(c *Config) { c.AccessTokenTTL = 0 }},
		{name: "negative skew", mutate: func(c *Config) { c.ClockSkew = -time.Second }},
		{name: "blank issuer", mutate: func(c *Config) { c.Issuer = "  " }},
		{name: "unknown format", mutate: func(c *Config) { c.AccessTokenFormat = "saml" }},
		{name: "short jwt key", mutate: func(c *Config) { c.AccessTokenFormat = FormatJWT; c.JWTSigningKey = "short" }},
		{name: "sliding over absolute", mutate: func(c *Config) { c.Policy.SlidingWindow = 100 * 24 * time.Hour }},
		{name: "zero inactivity", mutate: func(c *Config) { c.Policy.InactivityWindow = 0 }},
	}

	for _, tc := range cases {
		cfg := validTestConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", tc.name, err)
		}
	}
}

func TestConfigValidate_JWTFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AccessTokenFormat = FormatJWT
	cfg.JWTSigningKey = strings.Repeat("j", 32)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
