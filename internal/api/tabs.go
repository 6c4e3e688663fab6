package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/kmetric/sessiond/internal/session"
	"github.com/rs/zerolog"
)

// TabsHandler handles tab lifecycle notifications.
type TabsHandler struct {
	user   *session.Manager
	chart  *session.Manager
	logger zerolog.Logger
}

// NewTabsHandler creates a new tabs handler.
func NewTabsHandler(user, chart *session.Manager, logger zerolog.Logger) *TabsHandler {
	return &TabsHandler{
		user:   user,
		chart:  chart,
		logger: logger.With().Str("handler", "tabs").Logger(),
	}
}

// Removed notes that a client tab went away. The sessions the tab fed stay
// live; their state is just flushed to storage while the process is known
// to be healthy.
func (h *TabsHandler) Removed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tabID := mux.Vars(r)["tabID"]

	if tabID == "" {
		writeError(w, http.StatusBadRequest, "Missing tab ID")
		return
	}

	h.user.OnTabRemove(ctx, tabID)
	h.chart.OnTabRemove(ctx, tabID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"tab_id":  tabID,
	})
}
