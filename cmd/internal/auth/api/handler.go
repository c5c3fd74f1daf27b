package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"marketplace/cmd/internal/auth/session"
)

// Handler wires the auth endpoints to the session service.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions *session.Service
	tokens   session.AccessTokenManager
	audit    AuditSink

	now func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithAuditSink overrides the default no-op audit sink.
func WithAuditSink(sink AuditSink) HandlerOption {
	return func(h *Handler) {
		if sink != nil {
			h.audit = sink
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, tokens session.AccessTokenManager, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("auth: nil session service")
	}
	if tokens == nil {
		return nil, errors.New("auth: nil access token manager")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:      log,
		cfg:      cfg.normalized(),
		sessions: sessions,
		tokens:   tokens,
		audit:    NoopAuditSink{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
}

// StartSession is called by the login flow once credentials are verified.
// It issues a new session family, sets the refresh cookie and returns the
// access token payload for the caller to write.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request, userID string, role session.Role) (SessionResponse, error) {
	ctx := r.Context()
	now := h.now()
	meta := h.clientMeta(r)

	issued, err := h.sessions.Issue(ctx, now, userID, role, meta)
	if err != nil {
		h.log.ErrorContext(ctx, "auth.session.issue.fail", "err", err)
		return SessionResponse{}, err
	}

	resp, err := h.accessResponse(issued, now)
	if err != nil {
		h.log.ErrorContext(ctx, "auth.session.access_token.fail", "err", err)
		return SessionResponse{}, err
	}

	h.setRefreshCookie(w, issued.Secret, issued.MaxAge(now))
	h.audit.Record(ctx, AuditEvent{
		Action:    ActionSessionIssued,
		UserID:    issued.UserID,
		SessionID: issued.SessionID,
		FamilyID:  issued.FamilyID,
		At:        now,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return resp, nil
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	now := h.now()
	meta := h.clientMeta(r)

	secret, ok := refreshSecretFromCookie(r)
	if !ok {
		h.expireRefreshCookie(w)
		writeUnauthorized(w)
		return
	}

	issued, err := h.sessions.Rotate(ctx, now, secret, meta)
	if err != nil {
		if !session.IsUnauthorized(err) {
			h.log.ErrorContext(ctx, "auth.refresh.fail", "err", err, "code", session.Code(err))
			writeServerError(w)
			return
		}

		ev := AuditEvent{
			Action:    ActionRefreshRejected,
			At:        now,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
			Meta:      map[string]any{"code": session.Code(err)},
		}
		var re *session.RotationError
		if errors.As(err, &re) {
			ev.UserID = re.UserID
			ev.SessionID = re.SessionID
			ev.FamilyID = re.FamilyID
			if re.ReuseDetected {
				ev.Action = ActionRefreshReuseDetected
				ev.Meta["cascaded"] = re.Cascaded
			}
		}
		h.audit.Record(ctx, ev)

		h.expireRefreshCookie(w)
		writeUnauthorized(w)
		return
	}

	resp, err := h.accessResponse(issued, now)
	if err != nil {
		// The rotation is committed; the client must log in again.
		h.log.ErrorContext(ctx, "auth.refresh.access_token.fail", "err", err, "session_id", issued.SessionID)
		h.expireRefreshCookie(w)
		writeServerError(w)
		return
	}

	h.audit.Record(ctx, AuditEvent{
		Action:    ActionRefreshSuccess,
		UserID:    issued.UserID,
		SessionID: issued.SessionID,
		FamilyID:  issued.FamilyID,
		At:        now,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})

	h.setRefreshCookie(w, issued.Secret, issued.MaxAge(now))
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout always succeeds from the client's point of view.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	now := h.now()

	if secret, ok := refreshSecretFromCookie(r); ok {
		if err := h.sessions.Revoke(ctx, now, secret, session.ReasonLogout); err != nil {
			h.log.WarnContext(ctx, "auth.logout.fail", "err", err)
		} else {
			meta := h.clientMeta(r)
			h.audit.Record(ctx, AuditEvent{
				Action:    ActionLogout,
				At:        now,
				IP:        meta.IP,
				UserAgent: meta.UserAgent,
			})
		}
	}

	h.expireRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := h.now()
	n, err := h.sessions.RevokeAllForUser(ctx, now, claims.UserID, session.ReasonLogoutAll)
	if err != nil {
		h.log.ErrorContext(ctx, "auth.logout_all.fail", "err", err, "user_id", claims.UserID)
		writeServerError(w)
		return
	}

	meta := h.clientMeta(r)
	h.audit.Record(ctx, AuditEvent{
		Action:    ActionLogoutAll,
		UserID:    claims.UserID,
		At:        now,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Meta:      map[string]any{"revoked": n},
	})

	h.expireRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	tok := bearerToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.tokens.Verify(tok, h.now())
	if err != nil || strings.TrimSpace(claims.UserID) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

func (h *Handler) accessResponse(issued session.Issued, now time.Time) (SessionResponse, error) {
	tok, exp, err := h.tokens.Issue(issued.UserID, issued.Role, now)
	if err != nil {
		return SessionResponse{}, err
	}
	return SessionResponse{
		AccessToken:     tok,
		AccessExpiresAt: exp,
		User: UserResponse{
			ID:   issued.UserID,
			Role: issued.Role,
		},
	}, nil
}
