package api

import (
	"net/http"

	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/rs/zerolog"
)

// AnnouncementHandler lists published announcements.
type AnnouncementHandler struct {
	announcements storage.AnnouncementStore
	logger        zerolog.Logger
}

// NewAnnouncementHandler creates a new announcement handler.
func NewAnnouncementHandler(announcements storage.AnnouncementStore, logger zerolog.Logger) *AnnouncementHandler {
	return &AnnouncementHandler{
		announcements: announcements,
		logger:        logger.With().Str("handler", "announcement").Logger(),
	}
}

// List returns published announcements, newest first.
func (h *AnnouncementHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.announcements.List(r.Context(), true)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list announcements")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve announcements")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"announcements": items})
}
