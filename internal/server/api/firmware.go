package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/goodtune/dtxcloud/internal/rollout"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/rs/zerolog"
)

// FirmwareHandler serves the device-facing firmware endpoints.
type FirmwareHandler struct {
	firmware storage.FirmwareStore
	checker  *rollout.Checker
	logger   zerolog.Logger
}

// NewFirmwareHandler creates a new firmware handler.
func NewFirmwareHandler(firmware storage.FirmwareStore, checker *rollout.Checker, logger zerolog.Logger) *FirmwareHandler {
	return &FirmwareHandler{
		firmware: firmware,
		checker:  checker,
		logger:   logger.With().Str("handler", "firmware").Logger(),
	}
}

// Latest returns the newest active firmware version.
func (h *FirmwareHandler) Latest(w http.ResponseWriter, r *http.Request) {
	fw, err := h.firmware.Latest(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "No firmware version found")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to get latest firmware")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve firmware")
		return
	}

	writeJSON(w, http.StatusOK, fw)
}

// Check tells the caller whether an update is offered to them.
func (h *FirmwareHandler) Check(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	code := ParseVersionCode(r.URL.Query().Get("current_version_code"))

	decision, err := h.checker.Check(r.Context(), user.ID, code)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to check firmware")
		writeError(w, http.StatusInternalServerError, "Failed to check firmware")
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// ParseVersionCode reads a version code leniently. Absent, NaN and
// unparseable input count as 0, fractions are floored, and values beyond
// the int range saturate so an oversized code never looks older than the
// latest firmware.
func ParseVersionCode(raw string) int {
	if raw == "" {
		return 0
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	switch {
	case math.IsNaN(f):
		return 0
	case f >= float64(math.MaxInt):
		return math.MaxInt
	case f < float64(math.MinInt):
		return math.MinInt
	}
	return int(math.Floor(f))
}
