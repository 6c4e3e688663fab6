package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kmetric/sessiond/internal/storage"
	"github.com/kmetric/sessiond/internal/storage/bolt"
	"github.com/rs/zerolog"
)

func openTestStore(t *testing.T) *bolt.Store {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "sessiond.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func activeSession(t *testing.T, start time.Time, active time.Duration) *Session {
	t.Helper()

	s, err := New(TypeUser, Identity{UserID: "alice", OrgID: "org1"}, start)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.Touch(start.Add(active))
	return s
}

func TestDailyUsageReportThenClose(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	daily := NewDailyUsage(store.Usage(), zerolog.Nop())

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := activeSession(t, start, 42*time.Second)

	if err := daily.ReportSession(ctx, s, s.Duration()); err != nil {
		t.Fatalf("report session: %v", err)
	}

	entry, err := store.Usage().Get(ctx, usageKey(s))
	if err != nil {
		t.Fatalf("get usage entry: %v", err)
	}
	if entry.CurrentSessionMS != 42000 {
		t.Fatalf("expected current 42000ms, got %d", entry.CurrentSessionMS)
	}
	if entry.TotalMS != 0 {
		t.Fatalf("expected zero total while session open, got %d", entry.TotalMS)
	}

	if err := daily.CloseSession(ctx, s); err != nil {
		t.Fatalf("close session: %v", err)
	}

	entry, err = store.Usage().Get(ctx, usageKey(s))
	if err != nil {
		t.Fatalf("get usage entry: %v", err)
	}
	if entry.TotalMS != 42000 {
		t.Fatalf("expected total 42000ms after close, got %d", entry.TotalMS)
	}
	if entry.CurrentSessionMS != 0 {
		t.Fatalf("expected current reset after close, got %d", entry.CurrentSessionMS)
	}
}

func TestDailyUsageDoubleCloseAddsNothing(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	daily := NewDailyUsage(store.Usage(), zerolog.Nop())

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := activeSession(t, start, 10*time.Second)

	if err := daily.ReportSession(ctx, s, s.Duration()); err != nil {
		t.Fatalf("report session: %v", err)
	}
	if err := daily.CloseSession(ctx, s); err != nil {
		t.Fatalf("close session: %v", err)
	}
	if err := daily.CloseSession(ctx, s); err != nil {
		t.Fatalf("second close: %v", err)
	}

	entry, err := store.Usage().Get(ctx, usageKey(s))
	if err != nil {
		t.Fatalf("get usage entry: %v", err)
	}
	if entry.TotalMS != 10000 {
		t.Fatalf("expected total unchanged at 10000ms, got %d", entry.TotalMS)
	}
}

func TestDailyUsageCloseWithoutReport(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	daily := NewDailyUsage(store.Usage(), zerolog.Nop())

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := activeSession(t, start, 5*time.Second)

	if err := daily.CloseSession(ctx, s); err != nil {
		t.Fatalf("close without report: %v", err)
	}

	if _, err := store.Usage().Get(ctx, usageKey(s)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no usage entry, got err=%v", err)
	}
}

func TestDailyUsageDisjointSessionsSum(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	daily := NewDailyUsage(store.Usage(), zerolog.Nop())

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	durations := []time.Duration{30 * time.Second, 90 * time.Second, 12 * time.Second}

	var key string
	start := day.Add(8 * time.Hour)
	for _, d := range durations {
		s := activeSession(t, start, d)
		key = usageKey(s)

		if err := daily.ReportSession(ctx, s, s.Duration()); err != nil {
			t.Fatalf("report session: %v", err)
		}
		if err := daily.CloseSession(ctx, s); err != nil {
			t.Fatalf("close session: %v", err)
		}
		start = start.Add(time.Hour)
	}

	entry, err := store.Usage().Get(ctx, key)
	if err != nil {
		t.Fatalf("get usage entry: %v", err)
	}
	if want := int64(132000); entry.TotalMS != want {
		t.Fatalf("expected totals to sum exactly to %dms, got %d", want, entry.TotalMS)
	}
}

func TestDailyUsageTotalsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	first := NewDailyUsage(store.Usage(), zerolog.Nop())
	s := activeSession(t, start, 20*time.Second)
	if err := first.ReportSession(ctx, s, s.Duration()); err != nil {
		t.Fatalf("report session: %v", err)
	}
	if err := first.CloseSession(ctx, s); err != nil {
		t.Fatalf("close session: %v", err)
	}

	// A fresh aggregator over the same store picks the persisted total up.
	second := NewDailyUsage(store.Usage(), zerolog.Nop())
	s2 := activeSession(t, start.Add(2*time.Hour), 15*time.Second)
	if err := second.ReportSession(ctx, s2, s2.Duration()); err != nil {
		t.Fatalf("report session: %v", err)
	}
	if err := second.CloseSession(ctx, s2); err != nil {
		t.Fatalf("close session: %v", err)
	}

	entry, err := store.Usage().Get(ctx, usageKey(s2))
	if err != nil {
		t.Fatalf("get usage entry: %v", err)
	}
	if want := int64(35000); entry.TotalMS != want {
		t.Fatalf("expected restart-surviving total %dms, got %d", want, entry.TotalMS)
	}
}
