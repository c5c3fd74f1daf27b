package session

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeAndIsUnauthorized(t *testing.T) {
	t.Parallel()

	infra := errors.New("connection reset")

	cases := []struct {
		name     string
		err      error
		wantCode string
		wantUnau bool
	}{
		{name: "nil", err: nil, wantCode: "ok"},
		{name: "not found", err: &RotationError{Kind: ErrNotFound}, wantCode: "not_found", wantUnau: true},
		{name: "revoked", err: &RotationError{Kind: ErrRevoked, SessionID: 4}, wantCode: "revoked", wantUnau: true},
		{name: "reuse", err: &RotationError{Kind: ErrRevoked, ReuseDetected: true}, wantCode: "reuse_detected", wantUnau: true},
		{name: "absolute", err: &RotationError{Kind: ErrAbsoluteExpired}, wantCode: "absolute_expired", wantUnau: true},
		{name: "sliding", err: &RotationError{Kind: ErrSlidingExpired}, wantCode: "sliding_expired", wantUnau: true},
		{name: "inactive", err: &RotationError{Kind: ErrInactiveExpired}, wantCode: "inactive_expired", wantUnau: true},
		{name: "wrapped", err: fmt.Errorf("refresh: %w", &RotationError{Kind: ErrRevoked}), wantCode: "revoked", wantUnau: true},
		{name: "infrastructure", err: infra, wantCode: "internal", wantUnau: false},
	}

	for _, tc := range cases {
		if got := Code(tc.err); got != tc.wantCode {
			t.Fatalf("%s: Code=%q want=%q", tc.name, got, tc.wantCode)
		}
		if tc.err == nil {
			continue
		}
		if got := IsUnauthorized(tc.err); got != tc.wantUnau {
			t.Fatalf("%s: IsUnauthorized=%v want=%v", tc.name, got, tc.wantUnau)
		}
	}
}

func TestRotationError_ReuseMessageOmitsSecrets(t *testing.T) {
	t.Parallel()

	err := &RotationError{Kind: ErrRevoked, SessionID: 7, FamilyID: "01FAMILY", ReuseDetected: true}
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected errors.Is(err, ErrRevoked)")
	}
	want := "rotate session 7: session revoked: reuse detected in family 01FAMILY"
	if err.Error() != want {
		t.Fatalf("Error()=%q want=%q", err.Error(), want)
	}
}
