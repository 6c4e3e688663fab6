package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/kmetric/sessiond/internal/session"
	"github.com/rs/zerolog"
)

// ActivityEvent is the wire form of a page-load or user-input report from a
// client. The chart fields are optional; when present the event feeds the
// chart-level session as well as the user-level one.
type ActivityEvent struct {
	UserID    string     `json:"userId"`
	OrgID     string     `json:"orgId"`
	ChartType string     `json:"chartType,omitempty"`
	ChartName string     `json:"chartName,omitempty"`
	TabID     string     `json:"tabId,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// EventsHandler handles activity event reports.
type EventsHandler struct {
	user   *session.Manager
	chart  *session.Manager
	clock  quartz.Clock
	logger zerolog.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(user, chart *session.Manager, clock quartz.Clock, logger zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		user:   user,
		chart:  chart,
		clock:  clock,
		logger: logger.With().Str("handler", "events").Logger(),
	}
}

// PageLoad records a page load event.
func (h *EventsHandler) PageLoad(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "page_load")
}

// UserInput records a user input event.
func (h *EventsHandler) UserInput(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "user_input")
}

func (h *EventsHandler) handle(w http.ResponseWriter, r *http.Request, kind string) {
	ctx := r.Context()

	var event ActivityEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	identity := session.Identity{
		UserID:    event.UserID,
		OrgID:     event.OrgID,
		ChartType: event.ChartType,
		ChartName: event.ChartName,
	}

	ts := h.clock.Now().UTC()
	if event.Timestamp != nil {
		ts = event.Timestamp.UTC()
	}

	dispatch := func(m *session.Manager) error {
		if kind == "page_load" {
			return m.HandlePageLoad(ctx, identity, event.TabID, ts)
		}
		return m.HandleUserInput(ctx, identity, event.TabID, ts)
	}

	// Every event feeds the user-level session; only events carrying a
	// chart identity feed the chart-level one.
	targets := []*session.Manager{h.user}
	if event.ChartType != "" && event.ChartName != "" {
		targets = append(targets, h.chart)
	}

	for _, m := range targets {
		if err := dispatch(m); err != nil {
			switch {
			case errors.Is(err, session.ErrIdentityMissing):
				writeError(w, http.StatusBadRequest, "Missing identity fields")
			case errors.Is(err, session.ErrNotInitialized):
				writeError(w, http.StatusServiceUnavailable, "Session tracking not ready")
			default:
				h.logger.Error().Err(err).Str("kind", kind).Msg("Failed to handle activity event")
				writeError(w, http.StatusInternalServerError, "Failed to record event")
			}
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": len(targets),
	})
}
