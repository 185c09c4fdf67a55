// Package stats derives per-day usage statistics from session rows and
// builds the reports served from them.
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/metrics"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/rs/zerolog"
)

// Aggregate summarises the sessions of one (user, device, date). It is a
// pure function of its input so repeating it yields the same row.
func Aggregate(userID, deviceID, date string, sessions []storage.UsageSession, now time.Time) storage.DailyStatistics {
	row := storage.DailyStatistics{
		UserID:         userID,
		DeviceID:       deviceID,
		StatDate:       date,
		ModeBreakdown:  map[int]int{},
		LevelBreakdown: map[int]int{},
		UpdatedAt:      now,
	}

	for _, s := range sessions {
		row.TotalSessions++
		row.TotalDuration += s.WorkingDuration

		switch s.ShotType {
		case storage.ShotTypeUShot:
			row.UShotSessions++
			row.UShotDuration += s.WorkingDuration
		case storage.ShotTypeEShot:
			row.EShotSessions++
			row.EShotDuration += s.WorkingDuration
		case storage.ShotTypeLED:
			row.LEDSessions++
			row.LEDDuration += s.WorkingDuration
		}

		row.ModeBreakdown[s.DeviceMode]++
		row.LevelBreakdown[s.Level]++

		if s.HadTemperatureWarning || s.HadBatteryWarning {
			row.WarningCount++
		}
	}

	return row
}

// Recomputer rebuilds daily statistics from the canonical session rows.
type Recomputer struct {
	sessions storage.SessionStore
	stats    storage.StatsStore
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewRecomputer creates a recomputer over the session and statistics stores.
func NewRecomputer(sessions storage.SessionStore, stats storage.StatsStore, clk clock.Clock, logger zerolog.Logger) *Recomputer {
	return &Recomputer{
		sessions: sessions,
		stats:    stats,
		clock:    clk,
		logger:   logger.With().Str("component", "aggregates").Logger(),
	}
}

// Recompute replaces the statistics row for (user, device, date) with one
// derived from the sessions that started on that UTC date. Concurrent calls
// for the same key converge because each writes a full recomputation.
func (r *Recomputer) Recompute(ctx context.Context, userID, deviceID, date string) (*storage.DailyStatistics, error) {
	row, err := r.recompute(ctx, userID, deviceID, date)
	if err != nil {
		metrics.AggregateRecomputesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.AggregateRecomputesTotal.WithLabelValues("ok").Inc()

	r.logger.Debug().
		Str("user_id", userID).
		Str("device_id", deviceID).
		Str("date", date).
		Int("sessions", row.TotalSessions).
		Msg("Daily statistics recomputed")

	return row, nil
}

func (r *Recomputer) recompute(ctx context.Context, userID, deviceID, date string) (*storage.DailyStatistics, error) {
	day, err := time.Parse(clock.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	next := day.AddDate(0, 0, 1)

	sessions, _, err := r.sessions.List(ctx, storage.SessionFilter{
		UserID:   userID,
		DeviceID: deviceID,
		Since:    &day,
		Before:   &next,
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", date, err)
	}

	row := Aggregate(userID, deviceID, date, sessions, r.clock.Now())
	if err := r.stats.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("upsert daily statistics for %s: %w", date, err)
	}

	return &row, nil
}

// round1 rounds half away from zero to one decimal place.
func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// percent returns part/total as a percentage with one decimal place.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*1000) / 10
}
