package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kmetric/sessiond/internal/session"
	"github.com/kmetric/sessiond/internal/storage"
	"github.com/rs/zerolog"
)

// SessionsHandler exposes the live session tables and the session event log.
type SessionsHandler struct {
	user   *session.Manager
	chart  *session.Manager
	logs   storage.SessionLogStore
	logger zerolog.Logger
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(user, chart *session.Manager, logs storage.SessionLogStore, logger zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		user:   user,
		chart:  chart,
		logs:   logs,
		logger: logger.With().Str("handler", "sessions").Logger(),
	}
}

func (h *SessionsHandler) managerFor(typ string) *session.Manager {
	switch session.Type(typ) {
	case session.TypeUser:
		return h.user
	case session.TypeChart:
		return h.chart
	default:
		return nil
	}
}

// List returns the live sessions, optionally filtered by type.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	typ := r.URL.Query().Get("type")

	var records []storage.SessionRecord
	switch typ {
	case "":
		records = append(h.user.Sessions(), h.chart.Sessions()...)
	default:
		m := h.managerFor(typ)
		if m == nil {
			writeError(w, http.StatusBadRequest, "Unknown session type")
			return
		}
		records = m.Sessions()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": records,
		"count":    len(records),
	})
}

// Terminate ends the live session for a key.
func (h *SessionsHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "Missing session key")
		return
	}

	// The key prefix carries the session type.
	typ, _, found := strings.Cut(key, "/")
	m := h.managerFor(typ)
	if !found || m == nil {
		writeError(w, http.StatusBadRequest, "Malformed session key")
		return
	}

	if err := m.TerminateSession(ctx, key); err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("Failed to terminate session")
		writeError(w, http.StatusInternalServerError, "Failed to terminate session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"key":     key,
	})
}

// QueryLogs returns session log entries matching the query parameters.
func (h *SessionsHandler) QueryLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	filter := storage.SessionLogFilter{
		Username: query.Get("username"),
		Event:    storage.SessionEvent(query.Get("event")),
		Limit:    100,
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			writeError(w, http.StatusBadRequest, "Invalid limit (1-1000)")
			return
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		filter.Offset = offset
	}
	if raw := query.Get("start"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start time (RFC3339)")
			return
		}
		filter.StartTime = &start
	}
	if raw := query.Get("end"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end time (RFC3339)")
			return
		}
		filter.EndTime = &end
	}

	entries, err := h.logs.Query(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to query session log")
		writeError(w, http.StatusInternalServerError, "Failed to query session log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"entries": entries,
		"count":   len(entries),
	})
}
