package session

import "time"

// Reason records why a session stopped being active.
type Reason string

const (
	ReasonRotated       Reason = "rotated"
	ReasonLogout        Reason = "logout"
	ReasonLogoutAll     Reason = "logout_all"
	ReasonReuseDetected Reason = "reuse_detected"
)

// State is the lifecycle state of one session row.
// It is one of Active, Consumed or Revoked; the set is closed.
type State interface {
	isState()
}

// Active rows may be rotated.
type Active struct{}

// Consumed rows were rotated exactly once into SuccessorID.
// Their persisted revocation reason is always ReasonRotated.
type Consumed struct {
	At          time.Time
	SuccessorID int64
}

// Revoked rows were ended by logout, bulk revoke or reuse detection.
type Revoked struct {
	At     time.Time
	Reason Reason
}

func (Active) isState()   {}
func (Consumed) isState() {}
func (Revoked) isState()  {}

// stateFromColumns maps the nullable revocation columns to a State.
// A populated replaced_by id always wins: the reason column of a consumed
// row is set-once and equals ReasonRotated.
func stateFromColumns(revokedAt *time.Time, reason *string, replacedBy *int64) State {
	if revokedAt == nil {
		return Active{}
	}
	if replacedBy != nil {
		return Consumed{At: *revokedAt, SuccessorID: *replacedBy}
	}
	r := Reason("")
	if reason != nil {
		r = Reason(*reason)
	}
	return Revoked{At: *revokedAt, Reason: r}
}
