package api

import (
	"net/http"

	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/stats"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/rs/zerolog"
)

type dailyQuery struct {
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	DeviceID string `json:"device_id" validate:"omitempty,uuid"`
}

type rangeQuery struct {
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
	DeviceID  string `json:"device_id" validate:"omitempty,uuid"`
	GroupBy   string `json:"group_by" validate:"oneof=day week month"`
}

// RangeResponse is the body of a range report.
type RangeResponse struct {
	Range   DateRange          `json:"range"`
	Data    []stats.Period     `json:"data"`
	Summary stats.RangeSummary `json:"summary"`
}

// DateRange echoes the requested dates.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// StatsHandler serves the caller's daily statistics.
type StatsHandler struct {
	stats  storage.StatsStore
	clock  clock.Clock
	logger zerolog.Logger
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(store storage.StatsStore, clk clock.Clock, logger zerolog.Logger) *StatsHandler {
	return &StatsHandler{
		stats:  store,
		clock:  clk,
		logger: logger.With().Str("handler", "stats").Logger(),
	}
}

// Daily sums the caller's statistics for one date across devices.
func (h *StatsHandler) Daily(w http.ResponseWriter, r *http.Request) {
	q := dailyQuery{
		Date:     r.URL.Query().Get("date"),
		DeviceID: r.URL.Query().Get("device_id"),
	}
	if q.Date == "" {
		q.Date = clock.DateString(h.clock.Now())
	}
	if !check(w, q) {
		return
	}

	user := currentUser(r)
	rows, err := h.stats.List(r.Context(), storage.StatsFilter{
		UserID:   user.ID,
		DeviceID: q.DeviceID,
		From:     q.Date,
		To:       q.Date,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to load daily statistics")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve statistics")
		return
	}

	writeJSON(w, http.StatusOK, stats.MergeDaily(q.Date, rows))
}

// Range reports the caller's statistics grouped by day, week or month.
func (h *StatsHandler) Range(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q := rangeQuery{
		StartDate: values.Get("start_date"),
		EndDate:   values.Get("end_date"),
		DeviceID:  values.Get("device_id"),
		GroupBy:   values.Get("group_by"),
	}
	if q.GroupBy == "" {
		q.GroupBy = stats.GroupByDay
	}
	if !check(w, q) {
		return
	}

	user := currentUser(r)
	rows, err := h.stats.List(r.Context(), storage.StatsFilter{
		UserID:   user.ID,
		DeviceID: q.DeviceID,
		From:     q.StartDate,
		To:       q.EndDate,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to load range statistics")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve statistics")
		return
	}

	periods, summary := stats.GroupRange(rows, q.GroupBy)
	writeJSON(w, http.StatusOK, RangeResponse{
		Range:   DateRange{Start: q.StartDate, End: q.EndDate},
		Data:    periods,
		Summary: summary,
	})
}
