package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Sessions() SessionStore
	Usage() UsageStore
	Logs() SessionLogStore
	Settings() SettingsStore
}

// SessionStore manages the persisted session table.
type SessionStore interface {
	Upsert(ctx context.Context, record SessionRecord) error
	Delete(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (*SessionRecord, error)
	List(ctx context.Context, typ string) ([]SessionRecord, error)
}

// UsageStore manages daily usage aggregates.
type UsageStore interface {
	Upsert(ctx context.Context, usage DailyUsage) error
	Get(ctx context.Context, key string) (*DailyUsage, error)
	ListByDate(ctx context.Context, date string) ([]DailyUsage, error)
	DeleteBefore(ctx context.Context, cutoffDate string) (int, error)
}

// SessionLogStore manages the append-only session event log.
type SessionLogStore interface {
	Append(ctx context.Context, entry SessionLogEntry) error
	Query(ctx context.Context, filter SessionLogFilter) ([]SessionLogEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// SessionLogFilter defines criteria for querying session log entries.
type SessionLogFilter struct {
	Username  string
	Event     SessionEvent
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// SettingsStore manages per-manager configuration values.
type SettingsStore interface {
	GetSessionTimeout(ctx context.Context, typ string) (int, error)
	SetSessionTimeout(ctx context.Context, typ string, seconds int) error
}
