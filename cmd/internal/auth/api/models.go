package authapi

import (
	"time"

	"marketplace/cmd/internal/auth/session"
)

// UserResponse is the minimal principal profile returned with an access token.
type UserResponse struct {
	ID   string       `json:"id"`
	Role session.Role `json:"role"`
}

// SessionResponse is the body of a successful login or refresh.
// The refresh secret is never part of it; it travels in the cookie.
type SessionResponse struct {
	AccessToken     string       `json:"access_token"`
	AccessExpiresAt time.Time    `json:"access_expires_at"`
	User            UserResponse `json:"user"`
}
