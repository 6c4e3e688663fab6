package session

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kmetric/sessiond/internal/storage"
)

// Type discriminates the session variants. A user session is keyed by the
// user alone; a chart session is keyed by the user plus the document being
// edited.
type Type string

const (
	TypeUser  Type = "user"
	TypeChart Type = "chart"
)

// ErrIdentityMissing is returned when the identity fields required by a
// session variant are absent.
var ErrIdentityMissing = errors.New("session: required identity fields missing")

// Identity holds the attribute set a session is attributed to. Chart fields
// are only meaningful for chart sessions.
type Identity struct {
	UserID    string
	OrgID     string
	ChartType string
	ChartName string
}

// DeriveKey computes the deterministic session key for an identity under the
// given variant. Fields are escaped individually so a separator character
// inside a chart name cannot collide with another identity.
func DeriveKey(typ Type, identity Identity) (string, error) {
	if identity.UserID == "" || identity.OrgID == "" {
		return "", ErrIdentityMissing
	}

	switch typ {
	case TypeUser:
		return fmt.Sprintf("user/%s/%s",
			url.QueryEscape(identity.UserID),
			url.QueryEscape(identity.OrgID)), nil
	case TypeChart:
		if identity.ChartType == "" || identity.ChartName == "" {
			return "", ErrIdentityMissing
		}
		return fmt.Sprintf("chart/%s/%s/%s/%s",
			url.QueryEscape(identity.UserID),
			url.QueryEscape(identity.OrgID),
			url.QueryEscape(identity.ChartType),
			url.QueryEscape(identity.ChartName)), nil
	default:
		return "", fmt.Errorf("session: unknown type %q", typ)
	}
}

// Session is one bounded period of attributed activity. The expiration timer
// is owned by the manager and never lives on the session itself, so the
// persisted form round-trips cleanly.
type Session struct {
	typ          Type
	identity     Identity
	startTime    time.Time
	lastActivity time.Time // zero until the first activity event
	activitySeen bool
}

// New creates a session for an identity. The chart fields are cleared for
// user sessions so Identity always carries exactly the key fields.
func New(typ Type, identity Identity, start time.Time) (*Session, error) {
	if _, err := DeriveKey(typ, identity); err != nil {
		return nil, err
	}
	if typ == TypeUser {
		identity.ChartType = ""
		identity.ChartName = ""
	}
	return &Session{
		typ:       typ,
		identity:  identity,
		startTime: start,
	}, nil
}

// Type returns the session variant.
func (s *Session) Type() Type { return s.typ }

// Identity returns the fields the session key is derived from.
func (s *Session) Identity() Identity { return s.identity }

// Key returns the deterministic session key.
func (s *Session) Key() string {
	key, _ := DeriveKey(s.typ, s.identity)
	return key
}

// StartTime returns the instant the session was created.
func (s *Session) StartTime() time.Time { return s.startTime }

// LastActivity returns the most recent activity time. ok is false before the
// first activity event.
func (s *Session) LastActivity() (t time.Time, ok bool) {
	return s.lastActivity, s.activitySeen
}

// ActivitySeen reports whether the session has seen a real activity event.
func (s *Session) ActivitySeen() bool { return s.activitySeen }

// Touch records an activity event and reports whether it was the first one.
// Timestamps before the start time are clamped so last activity never
// precedes the start.
func (s *Session) Touch(t time.Time) (first bool) {
	if t.Before(s.startTime) {
		t = s.startTime
	}
	first = !s.activitySeen
	s.activitySeen = true
	s.lastActivity = t
	return first
}

// Duration returns the elapsed time between start and last activity, or 0
// if no activity has been seen.
func (s *Session) Duration() time.Duration {
	if !s.activitySeen {
		return 0
	}
	return s.lastActivity.Sub(s.startTime)
}

// UserAtOrg returns the identity string used in session log entries.
func (s *Session) UserAtOrg() string {
	return fmt.Sprintf("%s@%s", s.identity.UserID, s.identity.OrgID)
}

// Record returns the persisted form of the session.
func (s *Session) Record() storage.SessionRecord {
	record := storage.SessionRecord{
		Key:          s.Key(),
		Type:         string(s.typ),
		UserID:       s.identity.UserID,
		OrgID:        s.identity.OrgID,
		ChartType:    s.identity.ChartType,
		ChartName:    s.identity.ChartName,
		StartTime:    s.startTime,
		ActivitySeen: s.activitySeen,
	}
	if s.activitySeen {
		last := s.lastActivity
		record.LastActivityTime = &last
	}
	return record
}

// FromRecord reconstructs a session from its persisted form.
func FromRecord(record storage.SessionRecord) (*Session, error) {
	s, err := New(Type(record.Type), Identity{
		UserID:    record.UserID,
		OrgID:     record.OrgID,
		ChartType: record.ChartType,
		ChartName: record.ChartName,
	}, record.StartTime)
	if err != nil {
		return nil, err
	}
	if record.ActivitySeen && record.LastActivityTime != nil {
		s.Touch(*record.LastActivityTime)
	}
	return s, nil
}
