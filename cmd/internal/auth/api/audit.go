package authapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions.
const (
	ActionSessionIssued        = "auth.session.issued"
	ActionRefreshSuccess       = "auth.refresh.success"
	ActionRefreshRejected      = "auth.refresh.rejected"
	ActionRefreshReuseDetected = "auth.refresh.reuse_detected"
	ActionLogout               = "auth.logout"
	ActionLogoutAll            = "auth.logout_all"
)

// AuditEvent is one security-relevant auth action. It never carries a
// secret or a digest.
type AuditEvent struct {
	Action    string
	UserID    string
	SessionID int64
	FamilyID  string
	At        time.Time
	IP        net.IP
	UserAgent string
	Meta      map[string]any
}

// AuditSink records audit events. Implementations must not fail the request.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent)
}

// NoopAuditSink drops every event.
type NoopAuditSink struct{}

// Record does nothing.
func (NoopAuditSink) Record(context.Context, AuditEvent) {}

// PostgresAuditSink writes events to marketplace.auth_audit_log.
type PostgresAuditSink struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresAuditSink builds a sink over pool.
func NewPostgresAuditSink(pool *pgxpool.Pool, log *slog.Logger) *PostgresAuditSink {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAuditSink{pool: pool, log: log}
}

func (s *PostgresAuditSink) Record(ctx context.Context, ev AuditEvent) {
	if s == nil || s.pool == nil {
		return
	}

	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return
	}

	var ipVal any
	if ev.IP != nil {
		ipVal = ev.IP.String()
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			m := string(b)
			metaVal = &m
		}
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO marketplace.auth_audit_log (
			action, user_id, session_id, family_id, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5, $6::inet, $7, $8::jsonb)
	`, action, trimOrNil(ev.UserID), zeroOrNil(ev.SessionID), trimOrNil(ev.FamilyID), at, ipVal, trimOrNil(ev.UserAgent), metaVal)
	if err != nil {
		s.log.ErrorContext(ctx, "auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}

func zeroOrNil(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
