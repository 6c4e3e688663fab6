package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kmetric/sessiond/internal/metrics"
	"github.com/kmetric/sessiond/internal/storage"
	"github.com/rs/zerolog"
)

// DailyUsage rolls session durations into per-day totals keyed by identity.
// The in-memory table is authoritative; every mutation is written through to
// storage and a failed write is surfaced to the caller without rolling the
// table back.
type DailyUsage struct {
	store  storage.UsageStore
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]*storage.DailyUsage
}

// NewDailyUsage creates a daily usage aggregator.
func NewDailyUsage(store storage.UsageStore, logger zerolog.Logger) *DailyUsage {
	return &DailyUsage{
		store:   store,
		logger:  logger.With().Str("component", "daily-usage").Logger(),
		entries: make(map[string]*storage.DailyUsage),
	}
}

// usageKey derives the aggregation key: the session's start date plus the
// session key, which is itself the identity serialization.
func usageKey(s *Session) string {
	return fmt.Sprintf("%s/%s", s.StartTime().UTC().Format("2006-01-02"), s.Key())
}

// ReportSession records duration as the still-open amount for the day the
// session started. It only ever touches the current amount, never the total.
// The caller supplies the duration so any floor it applies is the figure
// that eventually gets folded.
func (d *DailyUsage) ReportSession(ctx context.Context, s *Session, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, err := d.entryLocked(ctx, s)
	if err != nil {
		return err
	}

	entry.CurrentSessionMS = duration.Milliseconds()

	if err := d.store.Upsert(ctx, *entry); err != nil {
		return fmt.Errorf("persist daily usage: %w", err)
	}
	return nil
}

// CloseSession folds the still-open amount into the day's total and resets
// the open amount to zero. Closing twice in a row adds nothing the second
// time.
func (d *DailyUsage) CloseSession(ctx context.Context, s *Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := usageKey(s)
	entry, ok := d.entries[key]
	if !ok {
		loaded, err := d.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil // never reported, nothing to close
			}
			return err
		}
		entry = loaded
		d.entries[key] = entry
	}

	closed := entry.CurrentSessionMS
	entry.TotalMS += closed
	entry.CurrentSessionMS = 0

	if closed > 0 {
		metrics.UsageSecondsConsumed.WithLabelValues(entry.Type, entry.OrgID).Add(float64(closed) / 1000.0)
	}

	d.logger.Debug().
		Str("key", key).
		Int64("closed_ms", closed).
		Int64("total_ms", entry.TotalMS).
		Msg("Closed session folded into daily total")

	if err := d.store.Upsert(ctx, *entry); err != nil {
		return fmt.Errorf("persist daily usage: %w", err)
	}
	return nil
}

// entryLocked resolves the entry for a session, loading any persisted row
// the first time a key is touched so totals survive restarts.
func (d *DailyUsage) entryLocked(ctx context.Context, s *Session) (*storage.DailyUsage, error) {
	key := usageKey(s)
	if entry, ok := d.entries[key]; ok {
		return entry, nil
	}

	loaded, err := d.store.Get(ctx, key)
	if err == nil {
		d.entries[key] = loaded
		return loaded, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	identity := s.Identity()
	entry := &storage.DailyUsage{
		Key:       key,
		Date:      s.StartTime().UTC().Format("2006-01-02"),
		Type:      string(s.Type()),
		UserID:    identity.UserID,
		OrgID:     identity.OrgID,
		ChartType: identity.ChartType,
		ChartName: identity.ChartName,
	}
	d.entries[key] = entry
	return entry, nil
}
