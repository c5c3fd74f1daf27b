package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a presented refresh secret matches no session.
	ErrNotFound = errors.New("session not found")

	// ErrRevoked is returned for revoked or consumed sessions, including reuse cascades.
	ErrRevoked = errors.New("session revoked")

	// ErrAbsoluteExpired is returned once a family outlives its absolute ceiling.
	ErrAbsoluteExpired = errors.New("session absolute lifetime exceeded")

	// ErrSlidingExpired is returned when the rolling deadline has passed.
	ErrSlidingExpired = errors.New("session sliding window expired")

	// ErrInactiveExpired is returned when the session sat unused past the inactivity window.
	ErrInactiveExpired = errors.New("session inactive too long")

	// ErrInvalidToken is returned when an access token fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidPrincipal is returned when a session is requested without a user id or role.
	ErrInvalidPrincipal = errors.New("invalid principal")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// errRowNotActive signals that a conditional update matched no active row.
	errRowNotActive = errors.New("session row not active")

	errSlidingAfterAbsolute = errors.New("sliding expiry after absolute expiry")
)

// RotationError describes a rejected rotation. Kind is one of the sentinel
// rejection errors above; the identifiers are safe to log.
type RotationError struct {
	Kind      error
	SessionID int64
	FamilyID  string
	UserID    string

	// ReuseDetected is set when an already-consumed secret was presented again.
	ReuseDetected bool
	// Cascaded is the number of family rows revoked by reuse detection.
	Cascaded int64
}

func (e *RotationError) Error() string {
	if e.ReuseDetected {
		return fmt.Sprintf("rotate session %d: %v: reuse detected in family %s", e.SessionID, e.Kind, e.FamilyID)
	}
	if e.SessionID == 0 {
		return fmt.Sprintf("rotate session: %v", e.Kind)
	}
	return fmt.Sprintf("rotate session %d: %v", e.SessionID, e.Kind)
}

func (e *RotationError) Unwrap() error { return e.Kind }

// IsUnauthorized reports whether err is one of the rejection kinds that must
// surface as a generic "please re-authenticate" response.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRevoked) ||
		errors.Is(err, ErrAbsoluteExpired) ||
		errors.Is(err, ErrSlidingExpired) ||
		errors.Is(err, ErrInactiveExpired)
}

// Code returns a stable label for logs and metrics. It never goes to clients.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	var re *RotationError
	if errors.As(err, &re) && re.ReuseDetected {
		return "reuse_detected"
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrAbsoluteExpired):
		return "absolute_expired"
	case errors.Is(err, ErrSlidingExpired):
		return "sliding_expired"
	case errors.Is(err, ErrInactiveExpired):
		return "inactive_expired"
	default:
		return "internal"
	}
}
