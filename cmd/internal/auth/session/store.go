package session

import (
	"context"
	"net"
	"time"
)

// Role is the principal role a session was issued for (e.g. "mentor", "student").
type Role string

// ClientMeta is advisory request metadata kept for audit only.
// It never participates in authorization decisions.
type ClientMeta struct {
	UserAgent string
	IP        net.IP
}

// Row mirrors the marketplace.refresh_sessions row.
type Row struct {
	ID                int64
	UserID            string
	Role              Role
	FamilyID          string
	TokenDigest       string
	CreatedAt         time.Time
	LastUsedAt        time.Time
	SlidingExpiresAt  time.Time
	AbsoluteExpiresAt time.Time
	State             State
	UserAgent         string
	IP                net.IP
}

// Active reports whether the row has not been revoked or consumed.
func (r Row) Active() bool {
	_, ok := r.State.(Active)
	return ok
}

// NewRow is the input for inserting a session row.
type NewRow struct {
	UserID            string
	Role              Role
	FamilyID          string
	TokenDigest       string
	Now               time.Time
	SlidingExpiresAt  time.Time
	AbsoluteExpiresAt time.Time
	Meta              ClientMeta
}

// Store abstracts persistence for session state.
//
// Revocation writes are set-once: implementations must never overwrite an
// existing revoked_at or revocation_reason.
type Store interface {
	// Create inserts a new active row.
	Create(ctx context.Context, in NewRow) (Row, error)

	// GetByDigest loads a row by token digest without locking.
	GetByDigest(ctx context.Context, digest string) (Row, error)

	// ListFamily returns every row of a family ordered by id.
	ListFamily(ctx context.Context, familyID string) ([]Row, error)

	// RevokeByDigest revokes one row and returns 1 if it was active.
	// Unknown digests and already-revoked rows are a no-op.
	RevokeByDigest(ctx context.Context, now time.Time, digest string, reason Reason) (int64, error)

	// RevokeAllForUser revokes every unrevoked row of a user and returns the count.
	RevokeAllForUser(ctx context.Context, now time.Time, userID string, reason Reason) (int64, error)

	// WithinTx runs fn in one atomic unit of work. A nil return commits;
	// any error rolls back every write made through the Tx.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view used by rotation.
type Tx interface {
	// GetByDigestForUpdate loads a row and holds its lock until the unit of work ends.
	GetByDigestForUpdate(ctx context.Context, digest string) (Row, error)

	// Create inserts a new active row.
	Create(ctx context.Context, in NewRow) (Row, error)

	// MarkRotated consumes an active row, linking it to its successor.
	// It matches only rows with revoked_at IS NULL and returns errRowNotActive otherwise.
	MarkRotated(ctx context.Context, now time.Time, id int64, successorID int64) error

	// RevokeFamily revokes every unrevoked row in the family and returns the count.
	RevokeFamily(ctx context.Context, now time.Time, familyID string, reason Reason) (int64, error)
}
