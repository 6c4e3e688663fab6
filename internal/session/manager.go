package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kmetric/sessiond/internal/metrics"
	"github.com/kmetric/sessiond/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultUserTimeout is the inactivity timeout for user-level sessions.
	DefaultUserTimeout = 180 * time.Second

	// DefaultChartTimeout is the inactivity timeout for chart-level sessions.
	DefaultChartTimeout = 60 * time.Second

	// DefaultMinSessionDuration is the floor applied to logged session
	// durations, preventing a zero duration from clock skew or an exact
	// boundary hit.
	DefaultMinSessionDuration = time.Second

	// DefaultPersistDebounce and DefaultPersistThrottle bound how often the
	// session table is written under rapid input.
	DefaultPersistDebounce = 300 * time.Millisecond
	DefaultPersistThrottle = 5 * time.Second

	// DefaultEndedKeyCacheSize bounds the cache of recently terminated keys.
	DefaultEndedKeyCacheSize = 256
)

// ErrNotInitialized is returned when a manager is used before Initialize.
var ErrNotInitialized = errors.New("session: manager not initialized")

// ManagerConfig holds per-manager settings.
type ManagerConfig struct {
	Type               Type
	DefaultTimeout     time.Duration
	MinSessionDuration time.Duration
	PersistDebounce    time.Duration
	PersistThrottle    time.Duration
	EndedKeyCacheSize  int
}

// Manager owns the in-memory session table for one session variant: the
// tab mapping, the per-key expiration timers, and the debounced persistence
// writer. The table is only usable after Initialize.
type Manager struct {
	typ         Type
	store       storage.Store
	daily       *DailyUsage
	clock       quartz.Clock
	logger      zerolog.Logger
	writer      *DebounceThrottle
	minDuration time.Duration

	// mu serializes every session state transition together with its
	// write-through to the log and usage tables, so reports and folds for
	// one key can never interleave.
	mu          sync.Mutex
	initialized bool
	timeout     time.Duration
	sessions    map[string]*Session
	tabs        map[string]string // tabID -> session key

	// Expiration timers live here, never on the session entity, so the
	// persisted records stay free of runtime handles.
	timers map[string]*quartz.Timer

	// Keys of recently terminated sessions, so a late event for a session
	// that just expired can be told apart from a key never seen.
	recentlyEnded *lru.Cache[string, time.Time]
}

// NewManager creates a session manager for one variant.
func NewManager(store storage.Store, daily *DailyUsage, clock quartz.Clock, cfg ManagerConfig, logger zerolog.Logger) (*Manager, error) {
	if cfg.DefaultTimeout == 0 {
		if cfg.Type == TypeChart {
			cfg.DefaultTimeout = DefaultChartTimeout
		} else {
			cfg.DefaultTimeout = DefaultUserTimeout
		}
	}
	if cfg.MinSessionDuration == 0 {
		cfg.MinSessionDuration = DefaultMinSessionDuration
	}
	if cfg.PersistDebounce == 0 {
		cfg.PersistDebounce = DefaultPersistDebounce
	}
	if cfg.PersistThrottle == 0 {
		cfg.PersistThrottle = DefaultPersistThrottle
	}
	if cfg.EndedKeyCacheSize == 0 {
		cfg.EndedKeyCacheSize = DefaultEndedKeyCacheSize
	}

	recentlyEnded, err := lru.New[string, time.Time](cfg.EndedKeyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("ended key cache: %w", err)
	}

	m := &Manager{
		typ:           cfg.Type,
		store:         store,
		daily:         daily,
		clock:         clock,
		logger:        logger.With().Str("component", "session-manager").Str("session_type", string(cfg.Type)).Logger(),
		minDuration:   cfg.MinSessionDuration,
		timeout:       cfg.DefaultTimeout,
		sessions:      make(map[string]*Session),
		tabs:          make(map[string]string),
		timers:        make(map[string]*quartz.Timer),
		recentlyEnded: recentlyEnded,
	}
	m.writer = NewDebounceThrottle(clock, cfg.PersistDebounce, cfg.PersistThrottle)
	return m, nil
}

// Initialize loads the persisted session table and immediately terminates
// every loaded session. A persisted session with no matching ended record
// means the previous process stopped ungracefully; terminating on load
// guarantees every session_started entry eventually gets a session_ended
// partner. The configured timeout is loaded afterwards.
func (m *Manager) Initialize(ctx context.Context) error {
	records, err := m.store.Sessions().List(ctx, string(m.typ))
	if err != nil {
		return fmt.Errorf("load session table: %w", err)
	}

	m.mu.Lock()
	loaded := make([]string, 0, len(records))
	for _, record := range records {
		s, err := FromRecord(record)
		if err != nil {
			m.logger.Warn().Err(err).Str("key", record.Key).Msg("Dropping unreadable persisted session")
			continue
		}
		m.sessions[s.Key()] = s
		loaded = append(loaded, s.Key())
	}
	metrics.ActiveSessions.WithLabelValues(string(m.typ)).Set(float64(len(m.sessions)))
	m.initialized = true
	m.mu.Unlock()

	for _, key := range loaded {
		if err := m.terminate(ctx, key, "recovered"); err != nil {
			m.logger.Error().Err(err).Str("key", key).Msg("Failed to terminate recovered session")
		}
	}

	if len(loaded) > 0 {
		m.logger.Info().Int("count", len(loaded)).Msg("Terminated sessions recovered from previous run")
	}

	seconds, err := m.store.Settings().GetSessionTimeout(ctx, string(m.typ))
	switch {
	case err == nil && seconds > 0:
		m.mu.Lock()
		m.timeout = time.Duration(seconds) * time.Second
		m.mu.Unlock()
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		m.logger.Warn().Err(err).Msg("Failed to load configured timeout, using default")
	}

	m.logger.Info().Dur("timeout", m.GetSessionTimeout()).Msg("Session manager initialized")
	return nil
}

// HandlePageLoad records a page load for an identity. It resolves or creates
// the session and starts its abandonment clock, but does not count as real
// activity.
func (m *Manager) HandlePageLoad(ctx context.Context, identity Identity, tabID string, ts time.Time) error {
	return m.handleActivity(ctx, identity, tabID, ts, false, "page_load")
}

// HandleUserInput records a user input event for an identity. The first
// input a session sees emits its session_started log entry.
func (m *Manager) HandleUserInput(ctx context.Context, identity Identity, tabID string, ts time.Time) error {
	return m.handleActivity(ctx, identity, tabID, ts, true, "user_input")
}

func (m *Manager) handleActivity(ctx context.Context, identity Identity, tabID string, ts time.Time, realActivity bool, kind string) error {
	key, err := DeriveKey(m.typ, identity)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		m.logger.Warn().Str("key", key).Str("kind", kind).Msg("Activity event before initialization")
		return ErrNotInitialized
	}

	s, exists := m.sessions[key]
	if !exists {
		s, err = New(m.typ, identity, ts)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		m.sessions[key] = s
		metrics.ActiveSessions.WithLabelValues(string(m.typ)).Inc()

		if endedAt, wasEnded := m.recentlyEnded.Get(key); wasEnded {
			m.logger.Debug().Str("key", key).Time("previous_end", endedAt).Msg("New session for recently terminated key")
		} else {
			m.logger.Debug().Str("key", key).Msg("Created session")
		}
	}

	if tabID != "" {
		m.tabs[tabID] = key
	}

	var started *storage.SessionLogEntry
	if realActivity {
		if first := s.Touch(ts); first {
			started = &storage.SessionLogEntry{
				Event:     storage.EventSessionStarted,
				EventTime: s.StartTime(),
				LogTime:   m.clock.Now().UTC(),
				Username:  s.UserAtOrg(),
			}
			metrics.SessionsStarted.WithLabelValues(string(m.typ)).Inc()
			m.logger.Info().
				Str("key", key).
				Str("user", s.UserAtOrg()).
				Time("start_time", s.StartTime()).
				Msg("Session started")
		}
	}

	// Creation alone starts the abandonment clock, so the timer is armed
	// even before the first real activity.
	m.armTimerLocked(key)
	metrics.ActivityEvents.WithLabelValues(string(m.typ), kind).Inc()

	var errs []error

	if started != nil {
		if err := m.store.Logs().Append(ctx, *started); err != nil {
			errs = append(errs, fmt.Errorf("append session_started entry: %w", err))
		}
	}

	if err := m.daily.ReportSession(ctx, s, s.Duration()); err != nil {
		errs = append(errs, fmt.Errorf("report daily usage: %w", err))
	}
	m.mu.Unlock()

	m.schedulePersist()
	return errors.Join(errs...)
}

// TerminateSession explicitly terminates the session for a key. A key with
// no live session is a warned no-op.
func (m *Manager) TerminateSession(ctx context.Context, key string) error {
	return m.terminate(ctx, key, "explicit")
}

func (m *Manager) terminate(ctx context.Context, key, reason string) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		m.logger.Warn().Str("key", key).Msg("Terminate before initialization")
		return ErrNotInitialized
	}

	s, exists := m.sessions[key]
	if !exists {
		_, wasEnded := m.recentlyEnded.Get(key)
		m.mu.Unlock()
		if wasEnded {
			m.logger.Debug().Str("key", key).Msg("Session already terminated")
		} else {
			m.logger.Warn().Str("key", key).Msg("Terminate for unknown session key")
		}
		return nil
	}

	m.clearTimerLocked(key)
	delete(m.sessions, key)
	for tabID, mapped := range m.tabs {
		if mapped == key {
			delete(m.tabs, tabID)
		}
	}
	m.recentlyEnded.Add(key, m.clock.Now())
	metrics.ActiveSessions.WithLabelValues(string(m.typ)).Dec()

	var errs []error

	if s.ActivitySeen() {
		duration := s.Duration()
		if duration < m.minDuration {
			duration = m.minDuration
		}
		last, _ := s.LastActivity()

		entry := storage.SessionLogEntry{
			Event:      storage.EventSessionEnded,
			EventTime:  last,
			LogTime:    m.clock.Now().UTC(),
			Username:   s.UserAtOrg(),
			DurationMS: duration.Milliseconds(),
		}
		if err := m.store.Logs().Append(ctx, entry); err != nil {
			errs = append(errs, fmt.Errorf("append session_ended entry: %w", err))
		}

		// The fold below consumes the open amount, so it has to carry the
		// same floored figure the log entry reports.
		if err := m.daily.ReportSession(ctx, s, duration); err != nil {
			errs = append(errs, fmt.Errorf("report final duration: %w", err))
		}

		metrics.SessionsEnded.WithLabelValues(string(m.typ), reason).Inc()
		metrics.SessionDuration.WithLabelValues(string(m.typ)).Observe(duration.Seconds())

		m.logger.Info().
			Str("key", key).
			Str("user", s.UserAtOrg()).
			Str("reason", reason).
			Dur("duration", duration).
			Msg("Session ended")
	} else {
		// A session that never became active leaves no trace in the log.
		m.logger.Debug().Str("key", key).Str("reason", reason).Msg("Discarded session without activity")
	}

	if err := m.daily.CloseSession(ctx, s); err != nil {
		errs = append(errs, fmt.Errorf("close daily usage: %w", err))
	}

	if err := m.store.Sessions().Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete persisted session: %w", err))
	}
	m.mu.Unlock()

	return errors.Join(errs...)
}

// OnTabRemove forces an immediate persistence write for the session mapped
// to a tab. The session itself is untouched: its identity and timeout do
// not depend on any single tab.
func (m *Manager) OnTabRemove(ctx context.Context, tabID string) {
	m.mu.Lock()
	key, mapped := m.tabs[tabID]
	if mapped {
		delete(m.tabs, tabID)
	}
	m.mu.Unlock()

	if !mapped {
		return
	}

	m.logger.Debug().Str("tab_id", tabID).Str("key", key).Msg("Tab removed, flushing session table")

	if m.writer.Pending() {
		m.writer.Flush()
	} else {
		m.persistNow(ctx)
	}
}

// SetSessionTimeout updates and persists the expiration timeout. It applies
// to timers armed from now on.
func (m *Manager) SetSessionTimeout(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("session: timeout must be positive, got %v", timeout)
	}

	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()

	if err := m.store.Settings().SetSessionTimeout(ctx, string(m.typ), int(timeout/time.Second)); err != nil {
		return fmt.Errorf("persist session timeout: %w", err)
	}

	m.logger.Info().Dur("timeout", timeout).Msg("Session timeout updated")
	return nil
}

// GetSessionTimeout returns the current expiration timeout.
func (m *Manager) GetSessionTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeout
}

// Type returns the manager's session variant.
func (m *Manager) Type() Type { return m.typ }

// Sessions returns a snapshot of the in-memory session table.
func (m *Manager) Sessions() []storage.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]storage.SessionRecord, 0, len(m.sessions))
	for _, s := range m.sessions {
		records = append(records, s.Record())
	}
	return records
}

// Shutdown cancels all timers and writes the session table out, leaving the
// persisted sessions in place for recovery termination on the next start.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	for key, timer := range m.timers {
		timer.Stop()
		delete(m.timers, key)
	}
	m.mu.Unlock()

	m.writer.Stop()
	m.persistNow(ctx)
}

// armTimerLocked (re)arms the expiration timer for a key, cancelling any
// prior instance first so exactly one timer exists per key.
func (m *Manager) armTimerLocked(key string) {
	if timer, ok := m.timers[key]; ok {
		timer.Stop()
	}
	m.timers[key] = m.clock.AfterFunc(m.timeout, func() {
		m.expire(key)
	})
}

func (m *Manager) clearTimerLocked(key string) {
	if timer, ok := m.timers[key]; ok {
		timer.Stop()
		delete(m.timers, key)
	}
}

func (m *Manager) expire(key string) {
	m.mu.Lock()
	delete(m.timers, key)
	m.mu.Unlock()

	if err := m.terminate(context.Background(), key, "expired"); err != nil {
		m.logger.Error().Err(err).Str("key", key).Msg("Failed to terminate expired session")
	}
}

func (m *Manager) schedulePersist() {
	m.writer.Debounce(func() {
		m.persistNow(context.Background())
	})
}

// persistNow writes every in-memory session out. A failed write is counted
// and logged; the in-memory table stays authoritative until the next
// successful attempt.
func (m *Manager) persistNow(ctx context.Context) {
	records := m.Sessions()

	metrics.PersistWrites.Inc()
	for _, record := range records {
		if err := m.store.Sessions().Upsert(ctx, record); err != nil {
			metrics.PersistErrors.Inc()
			m.logger.Error().Err(err).Str("key", record.Key).Msg("Failed to persist session")
		}
	}
}
