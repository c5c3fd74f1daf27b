package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"marketplace/cmd/internal/auth/session"
	"marketplace/cmd/security/token"

	paseto "aidanwoods.dev/go-paseto"
)

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingSink) Record(_ context.Context, ev AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Action)
	}
	return out
}

func (s *recordingSink) last() AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	h      *Handler
	mux    *http.ServeMux
	svc    *session.Service
	tokens session.AccessTokenManager
	sink   *recordingSink
	clock  *testClock
}

func newHarness(t *testing.T, store session.Store) *harness {
	t.Helper()

	cfg := session.DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()

	digester, err := token.NewDigester("")
	if err != nil {
		t.Fatalf("NewDigester: %v", err)
	}
	if store == nil {
		store = session.NewMemoryStore()
	}

	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := session.NewService(cfg, store, digester, session.WithLogger(discard))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	tokens, err := session.NewAccessTokenManager(cfg)
	if err != nil {
		t.Fatalf("NewAccessTokenManager: %v", err)
	}

	clock := &testClock{now: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
	sink := &recordingSink{}
	h, err := NewHandler(discard, DefaultConfig(), svc, tokens, WithAuditSink(sink), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	return &harness{h: h, mux: mux, svc: svc, tokens: tokens, sink: sink, clock: clock}
}

// login simulates the login flow calling StartSession and returns the refresh cookie.
func (hs *harness) login(t *testing.T, userID string, role session.Role) (*http.Cookie, SessionResponse) {
	t.Helper()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set("User-Agent", "handler-test/1.0")

	resp, err := hs.h.StartSession(rr, req, userID, role)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	c := findCookie(rr.Result(), RefreshCookieName)
	if c == nil {
		t.Fatalf("StartSession did not set the refresh cookie")
	}
	return c, resp
}

func (hs *harness) do(method, path string, cookie *http.Cookie, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	hs.mux.ServeHTTP(rr, req)
	return rr
}

func findCookie(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func assertCleared(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	c := findCookie(rr.Result(), RefreshCookieName)
	if c == nil {
		t.Fatalf("expected refresh cookie to be cleared")
	}
	if c.Value != "" || c.MaxAge >= 0 {
		t.Fatalf("cookie not cleared: %+v", c)
	}
}

func assertGenericUnauthorized(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", rr.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "unauthorized" {
		t.Fatalf("error code=%q want unauthorized", body.Error.Code)
	}
}

func TestStartSession_SetsScopedCookie(t *testing.T) {
	hs := newHarness(t, nil)

	c, resp := hs.login(t, "user-1", "mentor")

	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("cookie attributes: %+v", c)
	}
	if c.Path != "/auth" {
		t.Fatalf("cookie path=%q want /auth", c.Path)
	}
	if c.MaxAge != int((30 * 24 * time.Hour).Seconds()) {
		t.Fatalf("cookie max-age=%d", c.MaxAge)
	}
	if resp.User.ID != "user-1" || resp.User.Role != "mentor" || resp.AccessToken == "" {
		t.Fatalf("response=%+v", resp)
	}
	if strings.Contains(resp.AccessToken, c.Value) {
		t.Fatalf("refresh secret leaked into access token")
	}

	claims, err := hs.tokens.Verify(resp.AccessToken, hs.clock.Now())
	if err != nil || claims.UserID != "user-1" || claims.Role != "mentor" {
		t.Fatalf("access token claims=%+v err=%v", claims, err)
	}

	if got := hs.sink.actions(); len(got) != 1 || got[0] != ActionSessionIssued {
		t.Fatalf("audit=%v", got)
	}
}

func TestRefresh_RotatesCookie(t *testing.T) {
	hs := newHarness(t, nil)
	c, _ := hs.login(t, "user-1", "student")

	hs.clock.Advance(time.Hour)
	rr := hs.do(http.MethodPost, "/auth/refresh", c, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("missing Cache-Control: no-store")
	}

	var resp SessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.User.ID != "user-1" || resp.User.Role != "student" || resp.AccessToken == "" {
		t.Fatalf("response=%+v", resp)
	}
	if strings.Contains(rr.Body.String(), c.Value) {
		t.Fatalf("refresh secret present in body")
	}

	next := findCookie(rr.Result(), RefreshCookieName)
	if next == nil || next.Value == "" || next.Value == c.Value {
		t.Fatalf("expected a new refresh cookie, got %+v", next)
	}
	if next.MaxAge != int((30 * 24 * time.Hour).Seconds()) {
		t.Fatalf("max-age=%d", next.MaxAge)
	}

	ev := hs.sink.last()
	if ev.Action != ActionRefreshSuccess || ev.UserID != "user-1" || ev.SessionID == 0 {
		t.Fatalf("audit=%+v", ev)
	}
}

func TestRefresh_MissingCookie(t *testing.T) {
	hs := newHarness(t, nil)

	rr := hs.do(http.MethodPost, "/auth/refresh", nil, "")
	assertGenericUnauthorized(t, rr)
	assertCleared(t, rr)
}

func TestRefresh_MethodNotAllowed(t *testing.T) {
	hs := newHarness(t, nil)
	for _, path := range []string{"/auth/refresh", "/auth/logout", "/auth/logout_all"} {
		if rr := hs.do(http.MethodGet, path, nil, ""); rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("GET %s status=%d", path, rr.Code)
		}
	}
}

func TestRefresh_ReplayIsGenericUnauthorizedAndCascades(t *testing.T) {
	hs := newHarness(t, nil)
	s0, _ := hs.login(t, "user-1", "student")

	rr := hs.do(http.MethodPost, "/auth/refresh", s0, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("first refresh status=%d", rr.Code)
	}
	s1 := findCookie(rr.Result(), RefreshCookieName)

	replay := hs.do(http.MethodPost, "/auth/refresh", s0, "")
	assertGenericUnauthorized(t, replay)
	assertCleared(t, replay)

	ev := hs.sink.last()
	if ev.Action != ActionRefreshReuseDetected || ev.UserID != "user-1" || ev.FamilyID == "" {
		t.Fatalf("audit=%+v", ev)
	}

	// The legitimate holder's current secret died with the family.
	rr = hs.do(http.MethodPost, "/auth/refresh", s1, "")
	assertGenericUnauthorized(t, rr)
	if ev := hs.sink.last(); ev.Action != ActionRefreshRejected || ev.Meta["code"] != "revoked" {
		t.Fatalf("audit=%+v", ev)
	}
}

func TestRefresh_ExpiredIsGenericUnauthorized(t *testing.T) {
	hs := newHarness(t, nil)
	c, _ := hs.login(t, "user-1", "student")

	hs.clock.Advance(15 * 24 * time.Hour)
	rr := hs.do(http.MethodPost, "/auth/refresh", c, "")
	assertGenericUnauthorized(t, rr)
	assertCleared(t, rr)
	if ev := hs.sink.last(); ev.Meta["code"] != "inactive_expired" {
		t.Fatalf("audit=%+v", ev)
	}
}

type brokenStore struct {
	*session.MemoryStore
}

func (brokenStore) WithinTx(context.Context, func(session.Tx) error) error {
	return errors.New("connection reset by peer")
}

func TestRefresh_InfrastructureFailureIs500(t *testing.T) {
	hs := newHarness(t, brokenStore{MemoryStore: session.NewMemoryStore()})
	c, _ := hs.login(t, "user-1", "student")

	rr := hs.do(http.MethodPost, "/auth/refresh", c, "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want 500", rr.Code)
	}
	if findCookie(rr.Result(), RefreshCookieName) != nil {
		t.Fatalf("cookie must be left alone on infrastructure failure")
	}
}

func TestLogout_AlwaysSucceedsAndRevokes(t *testing.T) {
	hs := newHarness(t, nil)
	c, _ := hs.login(t, "user-1", "student")

	for i := 0; i < 2; i++ {
		rr := hs.do(http.MethodPost, "/auth/logout", c, "")
		if rr.Code != http.StatusNoContent {
			t.Fatalf("logout %d status=%d", i, rr.Code)
		}
		assertCleared(t, rr)
	}

	rr := hs.do(http.MethodPost, "/auth/refresh", c, "")
	assertGenericUnauthorized(t, rr)

	// No cookie at all is still a successful logout.
	if rr := hs.do(http.MethodPost, "/auth/logout", nil, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("cookieless logout status=%d", rr.Code)
	}
}

func TestLogoutAll(t *testing.T) {
	hs := newHarness(t, nil)
	a, resp := hs.login(t, "user-1", "mentor")
	b, _ := hs.login(t, "user-1", "mentor")
	other, _ := hs.login(t, "user-2", "student")

	if rr := hs.do(http.MethodPost, "/auth/logout_all", nil, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing bearer status=%d", rr.Code)
	}
	if rr := hs.do(http.MethodPost, "/auth/logout_all", nil, "not-a-token"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad bearer status=%d", rr.Code)
	}

	rr := hs.do(http.MethodPost, "/auth/logout_all", nil, resp.AccessToken)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if ev := hs.sink.last(); ev.Action != ActionLogoutAll || ev.Meta["revoked"] != int64(2) {
		t.Fatalf("audit=%+v", ev)
	}

	for _, c := range []*http.Cookie{a, b} {
		assertGenericUnauthorized(t, hs.do(http.MethodPost, "/auth/refresh", c, ""))
	}
	if rr := hs.do(http.MethodPost, "/auth/refresh", other, ""); rr.Code != http.StatusOK {
		t.Fatalf("other user's session affected: %d", rr.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := clientIP(req, false); got.String() != "192.0.2.10" {
		t.Fatalf("untrusted proxy ip=%v", got)
	}
	if got := clientIP(req, true); got.String() != "203.0.113.9" {
		t.Fatalf("trusted proxy ip=%v", got)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
	}
	for _, tc := range tests {
		header, want := tc.header, tc.want
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if got := bearerToken(req); got != want {
			t.Fatalf("bearerToken(%q)=%q want %q", header, got, want)
		}
	}
}

func TestConfigNormalized(t *testing.T) {
	c := Config{CookiePath: "auth", CookieDomain: " example.test "}.normalized()
	if c.CookiePath != "/auth" || c.CookieDomain != "example.test" {
		t.Fatalf("normalized=%+v", c)
	}
}
