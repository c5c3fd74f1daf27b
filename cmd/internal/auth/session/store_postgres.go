package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (marketplace.refresh_sessions).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// querier is the subset of pgxpool.Pool and pgx.Tx used by the row helpers.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const selectColumns = `
	id, user_id, role, family_id, token_digest,
	created_at, last_used_at, sliding_expires_at, absolute_expires_at,
	revoked_at, revocation_reason, replaced_by_id,
	user_agent, host(ip)
`

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, in NewRow) (Row, error) {
	return createRow(ctx, s.pool, in)
}

// GetByDigest loads a session row by token digest.
func (s *PostgresStore) GetByDigest(ctx context.Context, digest string) (Row, error) {
	return scanRow(s.pool.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM marketplace.refresh_sessions
		WHERE token_digest = $1
	`, digest))
}

// ListFamily returns every row of a family ordered by id.
func (s *PostgresStore) ListFamily(ctx context.Context, familyID string) ([]Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM marketplace.refresh_sessions
		WHERE family_id = $1
		ORDER BY id
	`, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// RevokeByDigest revokes a single session (idempotent, set-once).
func (s *PostgresStore) RevokeByDigest(ctx context.Context, now time.Time, digest string, reason Reason) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE marketplace.refresh_sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE token_digest = $1
		  AND revoked_at IS NULL
	`, digest, now, string(reason))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RevokeAllForUser revokes every unrevoked session of a user.
//
// The exclusive user lock waits for in-flight rotations of that user, which
// hold it shared, so their successors are visible to the update.
func (s *PostgresStore) RevokeAllForUser(ctx context.Context, now time.Time, userID string, reason Reason) (int64, error) {
	var n int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`, lockSpaceUser, userID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE marketplace.refresh_sessions
			SET revoked_at = $2,
			    revocation_reason = $3
			WHERE user_id = $1
			  AND revoked_at IS NULL
		`, userID, now, string(reason))
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// WithinTx runs fn inside a single database transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(postgresTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Ping checks connectivity for readiness probes.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func createRow(ctx context.Context, q querier, in NewRow) (Row, error) {
	if in.SlidingExpiresAt.After(in.AbsoluteExpiresAt) {
		return Row{}, errSlidingAfterAbsolute
	}

	var ip any
	if in.Meta.IP != nil {
		ip = in.Meta.IP.String()
	}

	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO marketplace.refresh_sessions (
			user_id, role, family_id, token_digest,
			created_at, last_used_at, sliding_expires_at, absolute_expires_at,
			user_agent, ip
		) VALUES (
			$1, $2, $3, $4,
			$5, $5, $6, $7,
			$8, $9::inet
		)
		RETURNING id
	`, in.UserID, string(in.Role), in.FamilyID, in.TokenDigest,
		in.Now, in.SlidingExpiresAt, in.AbsoluteExpiresAt,
		nullIfEmpty(in.Meta.UserAgent), ip,
	).Scan(&id)
	if err != nil {
		return Row{}, err
	}

	return Row{
		ID:                id,
		UserID:            in.UserID,
		Role:              in.Role,
		FamilyID:          in.FamilyID,
		TokenDigest:       in.TokenDigest,
		CreatedAt:         in.Now,
		LastUsedAt:        in.Now,
		SlidingExpiresAt:  in.SlidingExpiresAt,
		AbsoluteExpiresAt: in.AbsoluteExpiresAt,
		State:             Active{},
		UserAgent:         in.Meta.UserAgent,
		IP:                in.Meta.IP,
	}, nil
}

func scanRow(r pgx.Row) (Row, error) {
	var (
		row        Row
		role       string
		revokedAt  *time.Time
		reason     *string
		replacedBy *int64
		userAgent  *string
		ip         *string
	)

	err := r.Scan(
		&row.ID,
		&row.UserID,
		&role,
		&row.FamilyID,
		&row.TokenDigest,
		&row.CreatedAt,
		&row.LastUsedAt,
		&row.SlidingExpiresAt,
		&row.AbsoluteExpiresAt,
		&revokedAt,
		&reason,
		&replacedBy,
		&userAgent,
		&ip,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrNotFound
	}
	if err != nil {
		return Row{}, err
	}

	row.Role = Role(role)
	row.State = stateFromColumns(revokedAt, reason, replacedBy)
	if userAgent != nil {
		row.UserAgent = *userAgent
	}
	if ip != nil {
		row.IP = net.ParseIP(*ip)
	}
	return row, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
