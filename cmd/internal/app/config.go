package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	authapi "marketplace/cmd/internal/auth/api"
	"marketplace/cmd/internal/auth/session"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable (MARKETPLACE_HTTP_ADDR, ...).
// Keys in an optional .env file are written without it.
const EnvPrefix = "MARKETPLACE"

// Config contains all runtime configuration.
type Config struct {
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFormat   string `mapstructure:"LOG_FORMAT"`
	ServiceName string `mapstructure:"SERVICE_NAME"`

	ReadHeaderTimeout time.Duration `mapstructure:"HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `mapstructure:"HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `mapstructure:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `mapstructure:"HTTP_IDLE_TIMEOUT"`
	MaxHeaderBytes    int           `mapstructure:"HTTP_MAX_HEADER_BYTES"`

	// DatabaseURL selects the Postgres store; empty runs the in-memory dev store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool `mapstructure:"READINESS_REQUIRE_DB"`

	// If true, TOKEN_DIGEST_KEY must be set (>= 32 bytes) and digests are HMAC-based.
	RequireTokenDigestKey bool   `mapstructure:"REQUIRE_TOKEN_DIGEST_KEY"`
	TokenDigestKey        string `mapstructure:"TOKEN_DIGEST_KEY"`

	// OTLPEndpoint enables trace export (host:port of an OTLP/HTTP collector).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTLP_INSECURE"`

	SessionSlidingWindow    time.Duration `mapstructure:"SESSION_SLIDING_WINDOW"`
	SessionAbsoluteWindow   time.Duration `mapstructure:"SESSION_ABSOLUTE_WINDOW"`
	SessionInactivityWindow time.Duration `mapstructure:"SESSION_INACTIVITY_WINDOW"`
	RefreshSecretBytes      int           `mapstructure:"REFRESH_SECRET_BYTES"`

	AccessTokenFormat    string        `mapstructure:"ACCESS_TOKEN_FORMAT"`
	AccessTokenTTL       time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	AccessTokenIssuer    string        `mapstructure:"ACCESS_TOKEN_ISSUER"`
	AccessTokenClockSkew time.Duration `mapstructure:"ACCESS_TOKEN_CLOCK_SKEW"`
	PasetoV4SecretKeyHex string        `mapstructure:"PASETO_V4_SECRET_KEY_HEX"`
	JWTSigningKey        string        `mapstructure:"JWT_SIGNING_KEY"`

	CookieSecure bool   `mapstructure:"COOKIE_SECURE"`
	CookieDomain string `mapstructure:"COOKIE_DOMAIN"`
	TrustProxy   bool   `mapstructure:"TRUST_PROXY"`
}

// LoadConfig reads .env (if present) and MARKETPLACE_* environment variables.
// Environment variables override .env.
func LoadConfig() (Config, error) {
	return loadConfig(".env")
}

func loadConfig(envFile string) (Config, error) {
	v := viper.New()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !isMissingConfig(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	sess := session.DefaultConfig()
	v.SetDefault("HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SERVICE_NAME", "marketplace")
	v.SetDefault("HTTP_READ_HEADER_TIMEOUT", 5*time.Second)
	v.SetDefault("HTTP_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("HTTP_MAX_HEADER_BYTES", 1<<20)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 0)
	v.SetDefault("READINESS_REQUIRE_DB", false)
	v.SetDefault("REQUIRE_TOKEN_DIGEST_KEY", false)
	v.SetDefault("TOKEN_DIGEST_KEY", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("SESSION_SLIDING_WINDOW", sess.Policy.SlidingWindow)
	v.SetDefault("SESSION_ABSOLUTE_WINDOW", sess.Policy.AbsoluteWindow)
	v.SetDefault("SESSION_INACTIVITY_WINDOW", sess.Policy.InactivityWindow)
	v.SetDefault("REFRESH_SECRET_BYTES", sess.SecretBytes)
	v.SetDefault("ACCESS_TOKEN_FORMAT", sess.AccessTokenFormat)
	v.SetDefault("ACCESS_TOKEN_TTL", sess.AccessTokenTTL)
	v.SetDefault("ACCESS_TOKEN_ISSUER", sess.Issuer)
	v.SetDefault("ACCESS_TOKEN_CLOCK_SKEW", sess.ClockSkew)
	v.SetDefault("PASETO_V4_SECRET_KEY_HEX", "")
	v.SetDefault("JWT_SIGNING_KEY", "")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("TRUST_PROXY", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.HTTPAddr = strings.TrimSpace(cfg.HTTPAddr)
	if cfg.HTTPAddr == "" {
		return Config{}, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, errors.New("config: DB_MIN_CONNS exceeds DB_MAX_CONNS")
	}
	return cfg, nil
}

// isMissingConfig reports whether err only means the optional .env is absent.
func isMissingConfig(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// SessionConfig maps runtime config onto the session package config.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		Policy: session.Policy{
			SlidingWindow:    c.SessionSlidingWindow,
			AbsoluteWindow:   c.SessionAbsoluteWindow,
			InactivityWindow: c.SessionInactivityWindow,
		},
		SecretBytes:          c.RefreshSecretBytes,
		Issuer:               c.AccessTokenIssuer,
		AccessTokenTTL:       c.AccessTokenTTL,
		AccessTokenFormat:    strings.ToLower(strings.TrimSpace(c.AccessTokenFormat)),
		ClockSkew:            c.AccessTokenClockSkew,
		PasetoV4SecretKeyHex: c.PasetoV4SecretKeyHex,
		JWTSigningKey:        c.JWTSigningKey,
	}
}

// AuthConfig maps runtime config onto the HTTP auth adapter config.
func (c Config) AuthConfig() authapi.Config {
	cfg := authapi.DefaultConfig()
	cfg.CookieSecure = c.CookieSecure
	cfg.CookieDomain = c.CookieDomain
	cfg.TrustProxy = c.TrustProxy
	return cfg
}
