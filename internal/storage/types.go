package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SessionEvent represents a session lifecycle event stored in the log.
type SessionEvent string

const (
	EventSessionStarted SessionEvent = "session_started"
	EventSessionEnded   SessionEvent = "session_ended"
)

// UnmarshalJSON implements json.Unmarshaler to normalize the event name.
func (e *SessionEvent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := SessionEvent(strings.ToLower(s))

	switch normalized {
	case EventSessionStarted, EventSessionEnded:
		*e = normalized
		return nil
	default:
		return fmt.Errorf("invalid session event: %s (must be session_started or session_ended)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (e SessionEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(e))
}

// SessionRecord is the persisted form of a session. The expiration timer is
// a runtime-only handle and is never part of this record.
type SessionRecord struct {
	Key              string     `json:"key"`
	Type             string     `json:"type"`
	UserID           string     `json:"user_id"`
	OrgID            string     `json:"org_id"`
	ChartType        string     `json:"chart_type,omitempty"`
	ChartName        string     `json:"chart_name,omitempty"`
	StartTime        time.Time  `json:"start_time"`
	LastActivityTime *time.Time `json:"last_activity_time"`
	ActivitySeen     bool       `json:"activity_seen"`
}

// SessionLogEntry is one append-only session log record.
type SessionLogEntry struct {
	ID         string       `json:"id"`
	Event      SessionEvent `json:"event"`
	EventTime  time.Time    `json:"event_time"`
	LogTime    time.Time    `json:"log_time"`
	Username   string       `json:"username"`
	DurationMS int64        `json:"duration_ms"`
}

// DailyUsage aggregates session time per day and identity.
type DailyUsage struct {
	Key              string `json:"key"`
	Date             string `json:"date"`
	Type             string `json:"type"`
	UserID           string `json:"user_id"`
	OrgID            string `json:"org_id"`
	ChartType        string `json:"chart_type,omitempty"`
	ChartName        string `json:"chart_name,omitempty"`
	CurrentSessionMS int64  `json:"current_session_ms"`
	TotalMS          int64  `json:"total_ms"`
}
