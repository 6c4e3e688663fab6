package session

import (
	"errors"
	"testing"
	"time"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	identity := Identity{UserID: "alice", OrgID: "org1", ChartType: "hp", ChartName: "smith"}

	userKey, err := DeriveKey(TypeUser, identity)
	if err != nil {
		t.Fatalf("derive user key: %v", err)
	}
	again, err := DeriveKey(TypeUser, identity)
	if err != nil {
		t.Fatalf("derive user key: %v", err)
	}
	if userKey != again {
		t.Fatalf("user key not deterministic: %q vs %q", userKey, again)
	}

	chartKey, err := DeriveKey(TypeChart, identity)
	if err != nil {
		t.Fatalf("derive chart key: %v", err)
	}
	if chartKey == userKey {
		t.Fatalf("chart and user keys must differ, both %q", chartKey)
	}
}

func TestDeriveKeyMissingIdentity(t *testing.T) {
	cases := []struct {
		name     string
		typ      Type
		identity Identity
	}{
		{"no user id", TypeUser, Identity{OrgID: "org1"}},
		{"no org id", TypeUser, Identity{UserID: "alice"}},
		{"no chart type", TypeChart, Identity{UserID: "alice", OrgID: "org1", ChartName: "smith"}},
		{"no chart name", TypeChart, Identity{UserID: "alice", OrgID: "org1", ChartType: "hp"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DeriveKey(tc.typ, tc.identity); !errors.Is(err, ErrIdentityMissing) {
				t.Fatalf("expected ErrIdentityMissing, got %v", err)
			}
		})
	}
}

func TestDeriveKeyNoSeparatorCollision(t *testing.T) {
	a, err := DeriveKey(TypeChart, Identity{UserID: "u", OrgID: "o", ChartType: "a/b", ChartName: "c"})
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	b, err := DeriveKey(TypeChart, Identity{UserID: "u", OrgID: "o", ChartType: "a", ChartName: "b/c"})
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	if a == b {
		t.Fatalf("distinct identities collided on key %q", a)
	}
}

func TestSessionDurationAndTouch(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s, err := New(TypeUser, Identity{UserID: "alice", OrgID: "org1"}, start)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	if s.Duration() != 0 {
		t.Fatalf("expected zero duration before activity, got %v", s.Duration())
	}
	if s.ActivitySeen() {
		t.Fatalf("expected activity_seen false on creation")
	}

	if first := s.Touch(start.Add(30 * time.Second)); !first {
		t.Fatalf("expected first touch to report first=true")
	}
	if first := s.Touch(start.Add(60 * time.Second)); first {
		t.Fatalf("expected second touch to report first=false")
	}
	if s.Duration() != 60*time.Second {
		t.Fatalf("expected 60s duration, got %v", s.Duration())
	}
}

func TestSessionTouchClampsToStart(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s, err := New(TypeUser, Identity{UserID: "alice", OrgID: "org1"}, start)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	s.Touch(start.Add(-5 * time.Second))

	last, ok := s.LastActivity()
	if !ok {
		t.Fatalf("expected last activity to be set")
	}
	if last.Before(start) {
		t.Fatalf("last activity %v precedes start %v", last, start)
	}
	if s.Duration() != 0 {
		t.Fatalf("expected clamped duration 0, got %v", s.Duration())
	}
}

func TestSessionRecordRoundTrip(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s, err := New(TypeChart, Identity{UserID: "alice", OrgID: "org1", ChartType: "hp", ChartName: "smith"}, start)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.Touch(start.Add(45 * time.Second))

	restored, err := FromRecord(s.Record())
	if err != nil {
		t.Fatalf("from record: %v", err)
	}

	if restored.Key() != s.Key() {
		t.Fatalf("key changed across round-trip: %q vs %q", restored.Key(), s.Key())
	}
	if restored.Duration() != s.Duration() {
		t.Fatalf("duration changed across round-trip: %v vs %v", restored.Duration(), s.Duration())
	}
	if !restored.ActivitySeen() {
		t.Fatalf("activity_seen lost across round-trip")
	}
}

func TestSessionRecordNoActivity(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s, err := New(TypeUser, Identity{UserID: "alice", OrgID: "org1"}, start)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	record := s.Record()
	if record.LastActivityTime != nil {
		t.Fatalf("expected nil last activity in record, got %v", record.LastActivityTime)
	}

	restored, err := FromRecord(record)
	if err != nil {
		t.Fatalf("from record: %v", err)
	}
	if restored.ActivitySeen() {
		t.Fatalf("expected activity_seen false after round-trip")
	}
}

func TestUserSessionIgnoresChartFields(t *testing.T) {
	a, err := New(TypeUser, Identity{UserID: "alice", OrgID: "org1", ChartType: "hp", ChartName: "smith"}, time.Now())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	b, err := New(TypeUser, Identity{UserID: "alice", OrgID: "org1"}, time.Now())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if a.Key() != b.Key() {
		t.Fatalf("user session key should ignore chart fields: %q vs %q", a.Key(), b.Key())
	}
	if a.Identity().ChartType != "" || a.Identity().ChartName != "" {
		t.Fatalf("user session identity should clear chart fields: %+v", a.Identity())
	}
}
