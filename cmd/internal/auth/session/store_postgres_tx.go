package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Advisory lock namespaces, hashed into the first key of the two-key form.
const (
	lockSpaceUser   = "marketplace.refresh_sessions.user"
	lockSpaceFamily = "marketplace.refresh_sessions.family"
)

// postgresTx is the Tx view over one pgx transaction.
type postgresTx struct {
	tx pgx.Tx
}

// GetByDigestForUpdate takes the user (shared) and family (exclusive) advisory
// locks before the row lock. Every unit of work that rewrites a family holds
// the family lock until commit, so a later bulk revoke always sees the
// successor a rotation inserted.
func (t postgresTx) GetByDigestForUpdate(ctx context.Context, digest string) (Row, error) {
	var userID, familyID string
	err := t.tx.QueryRow(ctx, `
		SELECT user_id, family_id
		FROM marketplace.refresh_sessions
		WHERE token_digest = $1
	`, digest).Scan(&userID, &familyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrNotFound
	}
	if err != nil {
		return Row{}, err
	}

	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock_shared(hashtext($1), hashtext($2))`, lockSpaceUser, userID); err != nil {
		return Row{}, err
	}
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`, lockSpaceFamily, familyID); err != nil {
		return Row{}, err
	}

	return scanRow(t.tx.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM marketplace.refresh_sessions
		WHERE token_digest = $1
		FOR UPDATE
	`, digest))
}

func (t postgresTx) Create(ctx context.Context, in NewRow) (Row, error) {
	return createRow(ctx, t.tx, in)
}

// MarkRotated only matches an active row; losing a concurrent race leaves
// zero rows affected and surfaces as errRowNotActive.
func (t postgresTx) MarkRotated(ctx context.Context, now time.Time, id int64, successorID int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE marketplace.refresh_sessions
		SET
			last_used_at = $2,
			revoked_at = $2,
			revocation_reason = 'rotated',
			replaced_by_id = $3
		WHERE id = $1
		  AND revoked_at IS NULL
	`, id, now, successorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errRowNotActive
	}
	return nil
}

func (t postgresTx) RevokeFamily(ctx context.Context, now time.Time, familyID string, reason Reason) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE marketplace.refresh_sessions
		SET revoked_at = $2,
		    revocation_reason = $3
		WHERE family_id = $1
		  AND revoked_at IS NULL
	`, familyID, now, string(reason))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
