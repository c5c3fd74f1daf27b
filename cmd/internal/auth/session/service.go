package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marketplace/cmd/identity/ids"
	"marketplace/cmd/security/token"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxPresentedSecretLen bounds presented secrets before hashing.
const maxPresentedSecretLen = 4096

// Service implements the session lifecycle: issue, rotate, revoke.
//
// Every method takes the current time explicitly. The store is the only
// source of truth; nothing about session validity is cached in memory.
type Service struct {
	cfg      Config
	store    Store
	digester token.Digester

	log     *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics records issuance, rotation and revocation counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// Issued is the result of issuing or rotating a session.
// Secret is the raw refresh secret; it is returned exactly once and never stored.
type Issued struct {
	Secret            string
	SessionID         int64
	FamilyID          string
	UserID            string
	Role              Role
	SlidingExpiresAt  time.Time
	AbsoluteExpiresAt time.Time
}

// MaxAge is the remaining sliding lifetime, suitable for a cookie Max-Age.
func (i Issued) MaxAge(now time.Time) time.Duration {
	d := i.SlidingExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// NewService validates cfg and constructs a Service.
func NewService(cfg Config, store Store, digester token.Digester, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrConfig)
	}

	s := &Service{
		cfg:      cfg,
		store:    store,
		digester: digester,
		log:      slog.Default(),
		tracer:   otel.Tracer("marketplace/session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Policy returns the expiry policy in effect.
func (s *Service) Policy() Policy {
	return s.cfg.Policy
}

// Issue starts a new session family for an authenticated principal.
func (s *Service) Issue(ctx context.Context, now time.Time, userID string, role Role, meta ClientMeta) (Issued, error) {
	ctx, span := s.tracer.Start(ctx, "session.Issue")
	defer span.End()

	userID = strings.TrimSpace(userID)
	if userID == "" || role == "" {
		return Issued{}, s.fail(span, fmt.Errorf("issue session: %w: user id and role are required", ErrInvalidPrincipal))
	}

	familyID, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, s.fail(span, fmt.Errorf("issue session: family id: %w", err))
	}

	secret, err := token.GenerateSecret(s.cfg.SecretBytes)
	if err != nil {
		return Issued{}, s.fail(span, fmt.Errorf("issue session: %w", err))
	}

	absolute := s.cfg.Policy.AbsoluteExpiry(now)
	row, err := s.store.Create(ctx, NewRow{
		UserID:            userID,
		Role:              role,
		FamilyID:          familyID,
		TokenDigest:       s.digester.Digest(secret),
		Now:               now,
		SlidingExpiresAt:  s.cfg.Policy.SlidingExpiry(now, absolute),
		AbsoluteExpiresAt: absolute,
		Meta:              meta,
	})
	if err != nil {
		return Issued{}, s.fail(span, err)
	}

	span.SetAttributes(attribute.Int64("session.id", row.ID), attribute.String("session.family_id", familyID))
	s.metrics.observeIssued()
	s.log.InfoContext(ctx, "session.issue",
		"session_id", row.ID,
		"family_id", familyID,
		"user_id", userID,
		"role", string(role),
	)

	return issuedFrom(row, secret), nil
}

// Rotate exchanges a presented refresh secret for a new one.
//
// The whole read-validate-mutate sequence runs as one unit of work under a
// row lock. Rejections are returned as *RotationError. When a consumed
// secret is presented again the family is revoked and that revocation is
// committed before the error is returned.
func (s *Service) Rotate(ctx context.Context, now time.Time, secret string, meta ClientMeta) (Issued, error) {
	ctx, span := s.tracer.Start(ctx, "session.Rotate")
	defer span.End()
	start := time.Now()

	if secret == "" || len(secret) > maxPresentedSecretLen {
		err := &RotationError{Kind: ErrNotFound}
		s.rejected(ctx, span, start, err)
		return Issued{}, err
	}
	digest := s.digester.Digest(secret)

	var (
		out     Issued
		reuse   *RotationError
		current Row
	)
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		row, err := tx.GetByDigestForUpdate(ctx, digest)
		if errors.Is(err, ErrNotFound) {
			return &RotationError{Kind: ErrNotFound}
		}
		if err != nil {
			return err
		}
		current = row

		verdict := s.cfg.Policy.Evaluate(row, now)
		switch {
		case verdict.Kind == VerdictValid:
		case verdict.Kind == VerdictRevoked && verdict.Replaced:
			n, err := tx.RevokeFamily(ctx, now, row.FamilyID, ReasonReuseDetected)
			if err != nil {
				return err
			}
			reuse = rejection(row, ErrRevoked)
			reuse.ReuseDetected = true
			reuse.Cascaded = n
			// Commit the cascade.
			return nil
		default:
			return rejection(row, verdict.Err())
		}

		nextSecret, err := token.GenerateSecret(s.cfg.SecretBytes)
		if err != nil {
			return err
		}

		next, err := tx.Create(ctx, NewRow{
			UserID:            row.UserID,
			Role:              row.Role,
			FamilyID:          row.FamilyID,
			TokenDigest:       s.digester.Digest(nextSecret),
			Now:               now,
			SlidingExpiresAt:  s.cfg.Policy.SlidingExpiry(now, row.AbsoluteExpiresAt),
			AbsoluteExpiresAt: row.AbsoluteExpiresAt,
			Meta:              meta,
		})
		if err != nil {
			return err
		}

		if err := tx.MarkRotated(ctx, now, row.ID, next.ID); err != nil {
			if errors.Is(err, errRowNotActive) {
				return rejection(row, ErrRevoked)
			}
			return err
		}

		out = issuedFrom(next, nextSecret)
		return nil
	})

	// The row was revoked between the locked read and commit.
	if errors.Is(err, errRowNotActive) {
		err = rejection(current, ErrRevoked)
	}
	if err == nil && reuse != nil {
		err = reuse
		s.metrics.observeRevoked(ReasonReuseDetected, reuse.Cascaded)
		s.log.WarnContext(ctx, "session.rotate.reuse_detected",
			"session_id", reuse.SessionID,
			"family_id", reuse.FamilyID,
			"user_id", reuse.UserID,
			"cascaded", reuse.Cascaded,
		)
	}

	var rerr *RotationError
	if errors.As(err, &rerr) {
		s.rejected(ctx, span, start, rerr)
		return Issued{}, rerr
	}
	if err != nil {
		s.metrics.observeRotation(Code(err), time.Since(start))
		s.log.ErrorContext(ctx, "session.rotate.fail", "err", err)
		return Issued{}, s.fail(span, err)
	}

	s.metrics.observeRotation(Code(nil), time.Since(start))
	s.metrics.observeRevoked(ReasonRotated, 1)
	span.SetAttributes(
		attribute.String("session.outcome", Code(nil)),
		attribute.Int64("session.id", out.SessionID),
		attribute.String("session.family_id", out.FamilyID),
	)
	s.log.InfoContext(ctx, "session.rotate",
		"session_id", out.SessionID,
		"family_id", out.FamilyID,
		"user_id", out.UserID,
	)
	return out, nil
}

// Revoke ends the session a refresh secret belongs to.
// Unknown secrets and already-revoked sessions are not errors.
func (s *Service) Revoke(ctx context.Context, now time.Time, secret string, reason Reason) error {
	ctx, span := s.tracer.Start(ctx, "session.Revoke")
	defer span.End()

	if secret == "" || len(secret) > maxPresentedSecretLen {
		return nil
	}

	n, err := s.store.RevokeByDigest(ctx, now, s.digester.Digest(secret), reason)
	if err != nil {
		return s.fail(span, err)
	}

	s.metrics.observeRevoked(reason, n)
	s.log.InfoContext(ctx, "session.revoke", "reason", string(reason), "revoked", n)
	return nil
}

// RevokeAllForUser ends every session of a user and returns how many rows changed.
func (s *Service) RevokeAllForUser(ctx context.Context, now time.Time, userID string, reason Reason) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "session.RevokeAllForUser")
	defer span.End()

	n, err := s.store.RevokeAllForUser(ctx, now, userID, reason)
	if err != nil {
		return 0, s.fail(span, err)
	}

	s.metrics.observeRevoked(reason, n)
	s.log.InfoContext(ctx, "session.revoke_all", "user_id", userID, "reason", string(reason), "revoked", n)
	return n, nil
}

// Family returns every row of a family, oldest first.
func (s *Service) Family(ctx context.Context, familyID string) ([]Row, error) {
	return s.store.ListFamily(ctx, familyID)
}

func (s *Service) rejected(ctx context.Context, span trace.Span, start time.Time, err *RotationError) {
	code := Code(err)
	s.metrics.observeRotation(code, time.Since(start))
	span.SetAttributes(attribute.String("session.outcome", code))
	if err.ReuseDetected {
		return
	}
	s.log.InfoContext(ctx, "session.rotate.rejected",
		"code", code,
		"session_id", err.SessionID,
		"family_id", err.FamilyID,
	)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func rejection(row Row, kind error) *RotationError {
	return &RotationError{
		Kind:      kind,
		SessionID: row.ID,
		FamilyID:  row.FamilyID,
		UserID:    row.UserID,
	}
}

func issuedFrom(row Row, secret string) Issued {
	return Issued{
		Secret:            secret,
		SessionID:         row.ID,
		FamilyID:          row.FamilyID,
		UserID:            row.UserID,
		Role:              row.Role,
		SlidingExpiresAt:  row.SlidingExpiresAt,
		AbsoluteExpiresAt: row.AbsoluteExpiresAt,
	}
}
