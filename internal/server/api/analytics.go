package api

import (
	"context"
	"net/http"

	"github.com/goodtune/dtxcloud/internal/stats"
	"github.com/rs/zerolog"
)

type windowQuery struct {
	Days int `json:"days" validate:"min=1,max=365"`
}

// AnalyticsHandler serves fleet-wide reports.
type AnalyticsHandler struct {
	analytics *stats.Analytics
	logger    zerolog.Logger
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(analytics *stats.Analytics, logger zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		analytics: analytics,
		logger:    logger.With().Str("handler", "analytics").Logger(),
	}
}

func (h *AnalyticsHandler) days(w http.ResponseWriter, r *http.Request) (int, bool) {
	details := map[string][]string{}
	q := windowQuery{Days: queryInt(r, "days", 30, details)}
	if len(details) > 0 {
		writeValidationError(w, details)
		return 0, false
	}
	return q.Days, check(w, q)
}

// report runs one windowed report and wraps its result under key.
func (h *AnalyticsHandler) report(w http.ResponseWriter, r *http.Request, name, key string, run func(ctx context.Context, days int) (interface{}, error)) {
	days, ok := h.days(w, r)
	if !ok {
		return
	}

	out, err := run(r.Context(), days)
	if err != nil {
		h.logger.Error().Err(err).Str("report", name).Int("days", days).Msg("Failed to build report")
		writeError(w, http.StatusInternalServerError, "Failed to build report")
		return
	}

	if key == "" {
		writeJSON(w, http.StatusOK, out)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{key: out})
}

// Overview returns the dashboard summary.
func (h *AnalyticsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	out, err := h.analytics.Overview(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Str("report", "overview").Msg("Failed to build report")
		writeError(w, http.StatusInternalServerError, "Failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// UsageTrends returns daily session counts and durations.
func (h *AnalyticsHandler) UsageTrends(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, "usage-trends", "trends", func(ctx context.Context, days int) (interface{}, error) {
		return h.analytics.UsageTrends(ctx, days)
	})
}

// FeatureUsage returns the shot type and mode split.
func (h *AnalyticsHandler) FeatureUsage(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, "feature-usage", "", func(ctx context.Context, days int) (interface{}, error) {
		return h.analytics.FeatureUsage(ctx, days)
	})
}

// Heatmap returns session starts by weekday and hour.
func (h *AnalyticsHandler) Heatmap(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, "heatmap", "heatmap", func(ctx context.Context, days int) (interface{}, error) {
		return h.analytics.Heatmap(ctx, days)
	})
}

// Terminations returns how sessions ended.
func (h *AnalyticsHandler) Terminations(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, "termination", "", func(ctx context.Context, days int) (interface{}, error) {
		return h.analytics.Terminations(ctx, days)
	})
}

// FirmwareDistribution returns the firmware split of active devices.
func (h *AnalyticsHandler) FirmwareDistribution(w http.ResponseWriter, r *http.Request) {
	out, err := h.analytics.FirmwareDistribution(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Str("report", "firmware-dist").Msg("Failed to build report")
		writeError(w, http.StatusInternalServerError, "Failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, out)
}
