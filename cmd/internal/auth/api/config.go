package authapi

import "strings"

// RefreshCookieName is the fixed name of the refresh cookie.
const RefreshCookieName = "mkt_refresh"

// Config controls auth API transport behavior.
type Config struct {
	// CookieSecure sets the Secure attribute. Disable only for plain-HTTP local dev.
	CookieSecure bool
	// CookieDomain is optional; empty means host-only.
	CookieDomain string
	// CookiePath scopes the refresh cookie to the auth endpoints.
	CookiePath string
	// TrustProxy allows X-Forwarded-For / X-Real-IP for audit metadata.
	TrustProxy bool
}

// DefaultConfig returns production-safe defaults.
func DefaultConfig() Config {
	return Config{
		CookieSecure: true,
		CookiePath:   "/auth",
	}
}

func (c Config) normalized() Config {
	c.CookieDomain = strings.TrimSpace(c.CookieDomain)
	c.CookiePath = strings.TrimSpace(c.CookiePath)
	if c.CookiePath == "" || !strings.HasPrefix(c.CookiePath, "/") {
		c.CookiePath = "/auth"
	}
	return c
}
