package session

import (
	"fmt"
	"time"
)

// Policy composes the three independent expiry horizons of a session.
type Policy struct {
	// SlidingWindow is the rolling extension granted by each issuance or rotation.
	SlidingWindow time.Duration
	// AbsoluteWindow is fixed at family creation and caps every extension.
	AbsoluteWindow time.Duration
	// InactivityWindow bounds the idle time since the row was last used.
	InactivityWindow time.Duration
}

// DefaultPolicy returns 30d sliding, 90d absolute, 14d inactivity.
func DefaultPolicy() Policy {
	return Policy{
		SlidingWindow:    30 * 24 * time.Hour,
		AbsoluteWindow:   90 * 24 * time.Hour,
		InactivityWindow: 14 * 24 * time.Hour,
	}
}

// Validate checks that every window is positive and sliding never exceeds absolute.
func (p Policy) Validate() error {
	if p.SlidingWindow <= 0 || p.AbsoluteWindow <= 0 || p.InactivityWindow <= 0 {
		return fmt.Errorf("%w: expiry windows must be positive", ErrConfig)
	}
	if p.SlidingWindow > p.AbsoluteWindow {
		return fmt.Errorf("%w: sliding window exceeds absolute window", ErrConfig)
	}
	return nil
}

// AbsoluteExpiry is computed once per family and never recomputed.
func (p Policy) AbsoluteExpiry(now time.Time) time.Time {
	return now.Add(p.AbsoluteWindow)
}

// SlidingExpiry returns min(now+SlidingWindow, absolute).
func (p Policy) SlidingExpiry(now, absolute time.Time) time.Time {
	s := now.Add(p.SlidingWindow)
	if s.After(absolute) {
		return absolute
	}
	return s
}

// VerdictKind is the outcome of evaluating a session against the policy.
type VerdictKind int

const (
	VerdictValid VerdictKind = iota
	VerdictRevoked
	VerdictAbsoluteExpired
	VerdictSlidingExpired
	VerdictInactiveExpired
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictValid:
		return "valid"
	case VerdictRevoked:
		return "revoked"
	case VerdictAbsoluteExpired:
		return "absolute_expired"
	case VerdictSlidingExpired:
		return "sliding_expired"
	case VerdictInactiveExpired:
		return "inactive_expired"
	default:
		return "unknown"
	}
}

// Verdict is the policy decision for one row at one instant.
type Verdict struct {
	Kind VerdictKind
	// Replaced is set for VerdictRevoked when the row was consumed by a rotation.
	Replaced bool
}

// Err maps a rejecting verdict to its sentinel error; nil for VerdictValid.
func (v Verdict) Err() error {
	switch v.Kind {
	case VerdictValid:
		return nil
	case VerdictRevoked:
		return ErrRevoked
	case VerdictAbsoluteExpired:
		return ErrAbsoluteExpired
	case VerdictSlidingExpired:
		return ErrSlidingExpired
	case VerdictInactiveExpired:
		return ErrInactiveExpired
	default:
		return ErrRevoked
	}
}

// Evaluate applies the predicates in order; the first match wins.
// Revocation comes first because it is the only verdict with a side effect.
func (p Policy) Evaluate(row Row, now time.Time) Verdict {
	if revoked, replaced := isRevoked(row); revoked {
		return Verdict{Kind: VerdictRevoked, Replaced: replaced}
	}
	if absoluteExpired(row, now) {
		return Verdict{Kind: VerdictAbsoluteExpired}
	}
	if slidingExpired(row, now) {
		return Verdict{Kind: VerdictSlidingExpired}
	}
	if inactive(row, now, p.InactivityWindow) {
		return Verdict{Kind: VerdictInactiveExpired}
	}
	return Verdict{Kind: VerdictValid}
}

func isRevoked(row Row) (revoked bool, replaced bool) {
	switch row.State.(type) {
	case Consumed:
		return true, true
	case Revoked:
		return true, false
	default:
		return false, false
	}
}

func absoluteExpired(row Row, now time.Time) bool {
	return now.After(row.AbsoluteExpiresAt)
}

func slidingExpired(row Row, now time.Time) bool {
	return now.After(row.SlidingExpiresAt)
}

func inactive(row Row, now time.Time, window time.Duration) bool {
	last := row.LastUsedAt
	if last.IsZero() {
		last = row.CreatedAt
	}
	return now.After(last.Add(window))
}
