package session

import (
	"errors"
	"testing"
	"time"
)

func baseRow() Row {
	return Row{
		ID:                1,
		CreatedAt:         t0,
		LastUsedAt:        t0,
		SlidingExpiresAt:  t0.Add(30 * day),
		AbsoluteExpiresAt: t0.Add(90 * day),
		State:             Active{},
	}
}

func TestPolicy_Expiries(t *testing.T) {
	p := DefaultPolicy()

	abs := p.AbsoluteExpiry(t0)
	if !abs.Equal(t0.Add(90 * day)) {
		t.Fatalf("absolute=%v", abs)
	}
	if got := p.SlidingExpiry(t0, abs); !got.Equal(t0.Add(30 * day)) {
		t.Fatalf("sliding=%v", got)
	}
	// Near the ceiling the sliding deadline is clamped.
	late := t0.Add(80 * day)
	if got := p.SlidingExpiry(late, abs); !got.Equal(abs) {
		t.Fatalf("sliding not clamped: %v", got)
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name string
		p    Policy
		ok   bool
	}{
		{"defaults", DefaultPolicy(), true},
		{"equal windows", Policy{SlidingWindow: day, AbsoluteWindow: day, InactivityWindow: time.Hour}, true},
		{"zero sliding", Policy{AbsoluteWindow: day, InactivityWindow: day}, false},
		{"negative absolute", Policy{SlidingWindow: day, AbsoluteWindow: -day, InactivityWindow: day}, false},
		{"zero inactivity", Policy{SlidingWindow: day, AbsoluteWindow: 2 * day}, false},
		{"sliding over absolute", Policy{SlidingWindow: 3 * day, AbsoluteWindow: 2 * day, InactivityWindow: day}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestPolicy_Evaluate(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name     string
		mutate   func(*Row)
		now      time.Time
		want     VerdictKind
		replaced bool
	}{
		{
			name: "fresh",
			now:  t0.Add(time.Hour),
			want: VerdictValid,
		},
		{
			name: "inactivity boundary is inclusive",
			now:  t0.Add(14 * day),
			want: VerdictValid,
		},
		{
			name: "inactive",
			now:  t0.Add(14*day + time.Second),
			want: VerdictInactiveExpired,
		},
		{
			name:   "inactive falls back to created_at",
			mutate: func(r *Row) { r.LastUsedAt = time.Time{} },
			now:    t0.Add(15 * day),
			want:   VerdictInactiveExpired,
		},
		{
			name:   "recent use keeps it alive",
			mutate: func(r *Row) { r.LastUsedAt = t0.Add(20 * day) },
			now:    t0.Add(25 * day),
			want:   VerdictValid,
		},
		{
			name:   "sliding before inactivity",
			mutate: func(r *Row) { r.LastUsedAt = t0.Add(29 * day) },
			now:    t0.Add(31 * day),
			want:   VerdictSlidingExpired,
		},
		{
			name:   "absolute before sliding",
			mutate: func(r *Row) { r.LastUsedAt = t0.Add(89 * day); r.SlidingExpiresAt = t0.Add(90 * day) },
			now:    t0.Add(91 * day),
			want:   VerdictAbsoluteExpired,
		},
		{
			name:   "revoked before expiry",
			mutate: func(r *Row) { r.State = Revoked{At: t0, Reason: ReasonLogout} },
			now:    t0.Add(200 * day),
			want:   VerdictRevoked,
		},
		{
			name:     "consumed carries replaced",
			mutate:   func(r *Row) { r.State = Consumed{At: t0, SuccessorID: 2} },
			now:      t0.Add(200 * day),
			want:     VerdictRevoked,
			replaced: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := baseRow()
			if tt.mutate != nil {
				tt.mutate(&row)
			}
			v := p.Evaluate(row, tt.now)
			if v.Kind != tt.want {
				t.Fatalf("verdict=%s want %s", v.Kind, tt.want)
			}
			if v.Replaced != tt.replaced {
				t.Fatalf("replaced=%v want %v", v.Replaced, tt.replaced)
			}
		})
	}
}

func TestVerdict_Err(t *testing.T) {
	tests := map[VerdictKind]error{
		VerdictValid:           nil,
		VerdictRevoked:         ErrRevoked,
		VerdictAbsoluteExpired: ErrAbsoluteExpired,
		VerdictSlidingExpired:  ErrSlidingExpired,
		VerdictInactiveExpired: ErrInactiveExpired,
	}
	for kind, want := range tests {
		if got := (Verdict{Kind: kind}).Err(); got != want {
			t.Fatalf("%s: err=%v want %v", kind, got, want)
		}
	}
}

func TestStateFromColumns(t *testing.T) {
	at := t0
	rotated := string(ReasonRotated)
	logout := string(ReasonLogout)
	succ := int64(9)

	if _, ok := stateFromColumns(nil, nil, nil).(Active); !ok {
		t.Fatalf("expected Active")
	}
	if st, ok := stateFromColumns(&at, &rotated, &succ).(Consumed); !ok || st.SuccessorID != 9 || !st.At.Equal(at) {
		t.Fatalf("expected Consumed, got %+v", st)
	}
	if st, ok := stateFromColumns(&at, &logout, nil).(Revoked); !ok || st.Reason != ReasonLogout {
		t.Fatalf("expected Revoked(logout), got %+v", st)
	}
}
