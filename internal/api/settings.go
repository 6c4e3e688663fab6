package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kmetric/sessiond/internal/session"
	"github.com/rs/zerolog"
)

// SettingsHandler exposes the per-type session timeout setting.
type SettingsHandler struct {
	user   *session.Manager
	chart  *session.Manager
	logger zerolog.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(user, chart *session.Manager, logger zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{
		user:   user,
		chart:  chart,
		logger: logger.With().Str("handler", "settings").Logger(),
	}
}

func (h *SettingsHandler) managerFor(typ string) *session.Manager {
	switch session.Type(typ) {
	case session.TypeUser:
		return h.user
	case session.TypeChart:
		return h.chart
	default:
		return nil
	}
}

// GetTimeout returns the current inactivity timeout for a session type.
func (h *SettingsHandler) GetTimeout(w http.ResponseWriter, r *http.Request) {
	typ := r.URL.Query().Get("type")
	m := h.managerFor(typ)
	if m == nil {
		writeError(w, http.StatusBadRequest, "Unknown session type")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"type":            typ,
		"timeout_seconds": int(m.GetSessionTimeout() / time.Second),
	})
}

// SetTimeout updates the inactivity timeout for a session type.
func (h *SettingsHandler) SetTimeout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	typ := r.URL.Query().Get("type")
	m := h.managerFor(typ)
	if m == nil {
		writeError(w, http.StatusBadRequest, "Unknown session type")
		return
	}

	var req struct {
		TimeoutSeconds int `json:"timeout_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TimeoutSeconds < 1 {
		writeError(w, http.StatusBadRequest, "timeout_seconds must be at least 1")
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if err := m.SetSessionTimeout(ctx, timeout); err != nil {
		h.logger.Error().Err(err).Str("type", typ).Msg("Failed to update session timeout")
		writeError(w, http.StatusInternalServerError, "Failed to update timeout")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"type":            typ,
		"timeout_seconds": req.TimeoutSeconds,
	})
}
