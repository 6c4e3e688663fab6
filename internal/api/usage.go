package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/kmetric/sessiond/internal/storage"
	"github.com/rs/zerolog"
)

// UsageHandler exposes the per-day usage aggregates.
type UsageHandler struct {
	store  storage.UsageStore
	logger zerolog.Logger
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(store storage.UsageStore, logger zerolog.Logger) *UsageHandler {
	return &UsageHandler{
		store:  store,
		logger: logger.With().Str("handler", "usage").Logger(),
	}
}

// GetDaily returns the usage aggregates for one date.
func (h *UsageHandler) GetDaily(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (expected YYYY-MM-DD)")
		return
	}
	h.writeDaily(w, r, date)
}

// GetToday returns the usage aggregates for the current UTC date.
func (h *UsageHandler) GetToday(w http.ResponseWriter, r *http.Request) {
	h.writeDaily(w, r, time.Now().UTC().Format("2006-01-02"))
}

func (h *UsageHandler) writeDaily(w http.ResponseWriter, r *http.Request, date string) {
	ctx := r.Context()

	entries, err := h.store.ListByDate(ctx, date)
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("Failed to list daily usage")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve usage")
		return
	}

	var totalMS int64
	for _, entry := range entries {
		totalMS += entry.TotalMS + entry.CurrentSessionMS
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"date":     date,
		"entries":  entries,
		"count":    len(entries),
		"total_ms": totalMS,
	})
}
