package stats

import (
	"time"

	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/storage"
)

// Grouping periods for range statistics.
const (
	GroupByDay   = "day"
	GroupByWeek  = "week"
	GroupByMonth = "month"
)

// DailySummary is the caller's statistics for one date across devices.
type DailySummary struct {
	Date           string      `json:"date"`
	TotalSessions  int         `json:"total_sessions"`
	TotalDuration  int         `json:"total_duration"`
	UShotSessions  int         `json:"ushot_sessions"`
	UShotDuration  int         `json:"ushot_duration"`
	EShotSessions  int         `json:"eshot_sessions"`
	EShotDuration  int         `json:"eshot_duration"`
	LEDSessions    int         `json:"led_sessions"`
	LEDDuration    int         `json:"led_duration"`
	ModeBreakdown  map[int]int `json:"mode_breakdown"`
	LevelBreakdown map[int]int `json:"level_breakdown"`
	WarningCount   int         `json:"warning_count"`
}

// MergeDaily sums the rows of one date, including their breakdowns.
func MergeDaily(date string, rows []storage.DailyStatistics) DailySummary {
	summary := DailySummary{
		Date:           date,
		ModeBreakdown:  map[int]int{},
		LevelBreakdown: map[int]int{},
	}

	for _, row := range rows {
		summary.TotalSessions += row.TotalSessions
		summary.TotalDuration += row.TotalDuration
		summary.UShotSessions += row.UShotSessions
		summary.UShotDuration += row.UShotDuration
		summary.EShotSessions += row.EShotSessions
		summary.EShotDuration += row.EShotDuration
		summary.LEDSessions += row.LEDSessions
		summary.LEDDuration += row.LEDDuration
		summary.WarningCount += row.WarningCount
		for mode, n := range row.ModeBreakdown {
			summary.ModeBreakdown[mode] += n
		}
		for level, n := range row.LevelBreakdown {
			summary.LevelBreakdown[level] += n
		}
	}

	return summary
}

// Period is one bucket of a range report.
type Period struct {
	Period        string `json:"period"`
	TotalSessions int    `json:"total_sessions"`
	TotalDuration int    `json:"total_duration"`
	UShotSessions int    `json:"ushot_sessions"`
	EShotSessions int    `json:"eshot_sessions"`
	LEDSessions   int    `json:"led_sessions"`
}

// RangeSummary totals a range report.
type RangeSummary struct {
	TotalSessions     int     `json:"total_sessions"`
	TotalDuration     int     `json:"total_duration"`
	AvgSessionsPerDay float64 `json:"avg_sessions_per_day"`
}

// GroupRange buckets date-ordered rows by day, Monday-based week, or month.
// The average is taken over the number of non-empty periods.
func GroupRange(rows []storage.DailyStatistics, groupBy string) ([]Period, RangeSummary) {
	periods := []Period{}
	index := make(map[string]int)
	var summary RangeSummary

	for _, row := range rows {
		key := PeriodKey(row.StatDate, groupBy)
		i, ok := index[key]
		if !ok {
			i = len(periods)
			index[key] = i
			periods = append(periods, Period{Period: key})
		}

		p := &periods[i]
		p.TotalSessions += row.TotalSessions
		p.TotalDuration += row.TotalDuration
		p.UShotSessions += row.UShotSessions
		p.EShotSessions += row.EShotSessions
		p.LEDSessions += row.LEDSessions

		summary.TotalSessions += row.TotalSessions
		summary.TotalDuration += row.TotalDuration
	}

	n := len(periods)
	if n == 0 {
		n = 1
	}
	summary.AvgSessionsPerDay = round1(float64(summary.TotalSessions) / float64(n))

	return periods, summary
}

// PeriodKey names the period a YYYY-MM-DD date falls in.
func PeriodKey(date, groupBy string) string {
	switch groupBy {
	case GroupByWeek:
		day, err := time.Parse(clock.DateLayout, date)
		if err != nil {
			return date
		}
		return WeekStart(day).Format(clock.DateLayout)
	case GroupByMonth:
		if len(date) >= 7 {
			return date[:7]
		}
		return date
	default:
		return date
	}
}

// WeekStart returns the Monday on or before day.
func WeekStart(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return clock.Date(day).AddDate(0, 0, -offset)
}
