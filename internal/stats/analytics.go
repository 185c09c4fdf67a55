package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/storage"
)

var shotTypeNames = map[int]string{
	storage.ShotTypeUShot: "U-Shot",
	storage.ShotTypeEShot: "E-Shot",
	storage.ShotTypeLED:   "LED",
}

var deviceModeNames = map[int]string{
	0x01: "Glow",
	0x02: "Toneup",
	0x03: "Renew",
	0x04: "Volume",
	0x11: "Clean",
	0x12: "Firm",
	0x13: "Line",
	0x14: "Lift",
	0x21: "LED",
}

var terminationNames = map[int]string{
	0:   "Normal completion",
	1:   "Manual stop",
	2:   "Low battery",
	3:   "Overheating",
	4:   "Charging started",
	5:   "Pause timeout",
	6:   "Mode change",
	7:   "Power event",
	8:   "Ultrasonic overheat",
	9:   "Body overheat",
	255: "Other",
}

// TerminationOther is the bucket for sessions without a termination reason.
const TerminationOther = 255

func nameOr(names map[int]string, key int, prefix string) string {
	if name, ok := names[key]; ok {
		return name
	}
	return fmt.Sprintf("%s %d", prefix, key)
}

// Overview is the admin dashboard summary.
type Overview struct {
	TotalUsers           int     `json:"total_users"`
	NewUsers7d           int     `json:"new_users_7d"`
	ActiveUsers30d       int     `json:"active_users_30d"`
	TotalDevices         int     `json:"total_devices"`
	ActiveDevices        int     `json:"active_devices"`
	NewDevices7d         int     `json:"new_devices_7d"`
	TotalSessions        int     `json:"total_sessions"`
	SessionsToday        int     `json:"sessions_today"`
	Sessions7d           int     `json:"sessions_7d"`
	AvgSessionsPerDay7d  float64 `json:"avg_sessions_per_day_7d"`
	AvgDurationSeconds   int     `json:"avg_duration_seconds"`
	AvgCompletionPercent float64 `json:"avg_completion_percent"`
}

// TrendPoint is one day of the usage trend.
type TrendPoint struct {
	Date          string `json:"date"`
	Sessions      int    `json:"sessions"`
	AvgDuration   int    `json:"avg_duration"`
	TotalDuration int    `json:"total_duration"`
}

// ShotTypeUsage counts sessions of one shot type.
type ShotTypeUsage struct {
	ShotType      int     `json:"shot_type"`
	Name          string  `json:"name"`
	Count         int     `json:"count"`
	TotalDuration int     `json:"total_duration"`
	Percentage    float64 `json:"percentage"`
}

// ModeUsage counts sessions of one device mode.
type ModeUsage struct {
	DeviceMode    int     `json:"device_mode"`
	Name          string  `json:"name"`
	Count         int     `json:"count"`
	TotalDuration int     `json:"total_duration"`
	Percentage    float64 `json:"percentage"`
}

// FeatureUsage is the shot type and mode split over a window.
type FeatureUsage struct {
	ShotTypes []ShotTypeUsage `json:"shot_types"`
	Modes     []ModeUsage     `json:"modes"`
}

// HeatmapCell counts sessions started in one weekday hour (UTC, 0 = Sunday).
type HeatmapCell struct {
	Day   int `json:"day"`
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// TerminationReason counts sessions ended for one reason.
type TerminationReason struct {
	Reason     int     `json:"reason"`
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Terminations summarises how sessions ended.
type Terminations struct {
	Reasons              []TerminationReason `json:"reasons"`
	AvgCompletionPercent float64             `json:"avg_completion_percent"`
	TotalSessions        int                 `json:"total_sessions"`
}

// FirmwareShare counts active devices on one firmware version.
type FirmwareShare struct {
	Version    string  `json:"version"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// FirmwareDistribution summarises firmware across active devices.
type FirmwareDistribution struct {
	Firmware     []FirmwareShare `json:"firmware"`
	TotalDevices int             `json:"total_devices"`
}

// Analytics builds fleet-wide reports for administrators.
type Analytics struct {
	store storage.Store
	clock clock.Clock
}

// NewAnalytics creates an analytics service.
func NewAnalytics(store storage.Store, clk clock.Clock) *Analytics {
	return &Analytics{store: store, clock: clk}
}

// Overview counts users, devices and sessions.
func (a *Analytics) Overview(ctx context.Context) (*Overview, error) {
	now := a.clock.Now()
	weekAgo := now.AddDate(0, 0, -7)
	monthAgo := now.AddDate(0, 0, -30)
	today := clock.Date(now)

	var (
		o   Overview
		err error
	)

	if o.TotalUsers, err = a.store.Users().Count(ctx, nil); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if o.NewUsers7d, err = a.store.Users().Count(ctx, &weekAgo); err != nil {
		return nil, fmt.Errorf("count new users: %w", err)
	}
	if o.ActiveUsers30d, err = a.store.Sessions().CountUsers(ctx, monthAgo); err != nil {
		return nil, fmt.Errorf("count active users: %w", err)
	}

	devices := a.store.Devices()
	if o.TotalDevices, err = devices.Count(ctx, storage.DeviceCountFilter{}); err != nil {
		return nil, fmt.Errorf("count devices: %w", err)
	}
	if o.ActiveDevices, err = devices.Count(ctx, storage.DeviceCountFilter{ActiveOnly: true}); err != nil {
		return nil, fmt.Errorf("count active devices: %w", err)
	}
	if o.NewDevices7d, err = devices.Count(ctx, storage.DeviceCountFilter{Since: &weekAgo}); err != nil {
		return nil, fmt.Errorf("count new devices: %w", err)
	}

	sessions := a.store.Sessions()
	if o.TotalSessions, err = sessions.Count(ctx, storage.SessionFilter{}); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if o.SessionsToday, err = sessions.Count(ctx, storage.SessionFilter{Since: &today}); err != nil {
		return nil, fmt.Errorf("count sessions today: %w", err)
	}
	if o.Sessions7d, err = sessions.Count(ctx, storage.SessionFilter{Since: &weekAgo}); err != nil {
		return nil, fmt.Errorf("count sessions this week: %w", err)
	}
	o.AvgSessionsPerDay7d = round1(float64(o.Sessions7d) / 7)

	avgDuration, avgCompletion, err := sessions.Averages(ctx)
	if err != nil {
		return nil, fmt.Errorf("session averages: %w", err)
	}
	o.AvgDurationSeconds = int(math.Round(avgDuration))
	o.AvgCompletionPercent = round1(avgCompletion)

	return &o, nil
}

func (a *Analytics) sessionsSince(ctx context.Context, since time.Time) ([]storage.UsageSession, error) {
	sessions, _, err := a.store.Sessions().List(ctx, storage.SessionFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// UsageTrends returns one point per UTC date over the last days, today
// included, with empty days filled with zeros.
func (a *Analytics) UsageTrends(ctx context.Context, days int) ([]TrendPoint, error) {
	start := clock.Date(a.clock.Now()).AddDate(0, 0, -(days - 1))
	sessions, err := a.sessionsSince(ctx, start)
	if err != nil {
		return nil, err
	}
	return Trends(sessions, start, days), nil
}

// Trends buckets sessions into days consecutive dates beginning at start.
func Trends(sessions []storage.UsageSession, start time.Time, days int) []TrendPoint {
	type bucket struct{ count, duration int }
	buckets := make(map[string]*bucket)
	for _, s := range sessions {
		key := clock.DateString(s.StartTime)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
		}
		b.count++
		b.duration += s.WorkingDuration
	}

	points := make([]TrendPoint, 0, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format(clock.DateLayout)
		point := TrendPoint{Date: date}
		if b, ok := buckets[date]; ok {
			point.Sessions = b.count
			point.TotalDuration = b.duration
			point.AvgDuration = int(math.Round(float64(b.duration) / float64(b.count)))
		}
		points = append(points, point)
	}
	return points
}

// FeatureUsage splits sessions of the last days by shot type and mode.
func (a *Analytics) FeatureUsage(ctx context.Context, days int) (*FeatureUsage, error) {
	sessions, err := a.sessionsSince(ctx, a.clock.Now().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	usage := Features(sessions)
	return &usage, nil
}

// Features splits sessions by shot type (ascending) and mode (most used first).
func Features(sessions []storage.UsageSession) FeatureUsage {
	type bucket struct{ count, duration int }
	shots := make(map[int]*bucket)
	modes := make(map[int]*bucket)
	add := func(m map[int]*bucket, key, duration int) {
		b, ok := m[key]
		if !ok {
			b = &bucket{}
			m[key] = b
		}
		b.count++
		b.duration += duration
	}
	for _, s := range sessions {
		add(shots, s.ShotType, s.WorkingDuration)
		add(modes, s.DeviceMode, s.WorkingDuration)
	}

	total := len(sessions)
	usage := FeatureUsage{ShotTypes: []ShotTypeUsage{}, Modes: []ModeUsage{}}
	for key, b := range shots {
		usage.ShotTypes = append(usage.ShotTypes, ShotTypeUsage{
			ShotType:      key,
			Name:          nameOr(shotTypeNames, key, "Type"),
			Count:         b.count,
			TotalDuration: b.duration,
			Percentage:    percent(b.count, total),
		})
	}
	for key, b := range modes {
		usage.Modes = append(usage.Modes, ModeUsage{
			DeviceMode:    key,
			Name:          nameOr(deviceModeNames, key, "Mode"),
			Count:         b.count,
			TotalDuration: b.duration,
			Percentage:    percent(b.count, total),
		})
	}

	sort.Slice(usage.ShotTypes, func(i, j int) bool {
		return usage.ShotTypes[i].ShotType < usage.ShotTypes[j].ShotType
	})
	sort.Slice(usage.Modes, func(i, j int) bool {
		if usage.Modes[i].Count != usage.Modes[j].Count {
			return usage.Modes[i].Count > usage.Modes[j].Count
		}
		return usage.Modes[i].DeviceMode < usage.Modes[j].DeviceMode
	})
	return usage
}

// Heatmap counts sessions of the last days per weekday and hour.
func (a *Analytics) Heatmap(ctx context.Context, days int) ([]HeatmapCell, error) {
	sessions, err := a.sessionsSince(ctx, a.clock.Now().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	return Heatmap(sessions), nil
}

// Heatmap returns all 7x24 cells ordered by day then hour.
func Heatmap(sessions []storage.UsageSession) []HeatmapCell {
	var grid [7][24]int
	for _, s := range sessions {
		t := s.StartTime.UTC()
		grid[t.Weekday()][t.Hour()]++
	}

	cells := make([]HeatmapCell, 0, 7*24)
	for day := 0; day < 7; day++ {
		for hour := 0; hour < 24; hour++ {
			cells = append(cells, HeatmapCell{Day: day, Hour: hour, Count: grid[day][hour]})
		}
	}
	return cells
}

// Terminations summarises how sessions of the last days ended.
func (a *Analytics) Terminations(ctx context.Context, days int) (*Terminations, error) {
	sessions, err := a.sessionsSince(ctx, a.clock.Now().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	t := TerminationSummary(sessions)
	return &t, nil
}

// TerminationSummary groups sessions by termination reason, most common first.
// Sessions without a reason are counted as TerminationOther.
func TerminationSummary(sessions []storage.UsageSession) Terminations {
	counts := make(map[int]int)
	var completion int
	for _, s := range sessions {
		reason := TerminationOther
		if s.TerminationReason != nil {
			reason = *s.TerminationReason
		}
		counts[reason]++
		completion += s.CompletionPercent
	}

	total := len(sessions)
	result := Terminations{Reasons: []TerminationReason{}, TotalSessions: total}
	for reason, n := range counts {
		result.Reasons = append(result.Reasons, TerminationReason{
			Reason:     reason,
			Name:       nameOr(terminationNames, reason, "Reason"),
			Count:      n,
			Percentage: percent(n, total),
		})
	}
	sort.Slice(result.Reasons, func(i, j int) bool {
		if result.Reasons[i].Count != result.Reasons[j].Count {
			return result.Reasons[i].Count > result.Reasons[j].Count
		}
		return result.Reasons[i].Reason < result.Reasons[j].Reason
	})
	if total > 0 {
		result.AvgCompletionPercent = round1(float64(completion) / float64(total))
	}
	return result
}

// FirmwareDistribution counts active devices per reported firmware version.
func (a *Analytics) FirmwareDistribution(ctx context.Context) (*FirmwareDistribution, error) {
	counts, err := a.store.Devices().FirmwareDistribution(ctx)
	if err != nil {
		return nil, fmt.Errorf("firmware distribution: %w", err)
	}

	dist := FirmwareDistribution{Firmware: []FirmwareShare{}}
	for _, n := range counts {
		dist.TotalDevices += n
	}
	for version, n := range counts {
		dist.Firmware = append(dist.Firmware, FirmwareShare{
			Version:    version,
			Count:      n,
			Percentage: percent(n, dist.TotalDevices),
		})
	}
	sort.Slice(dist.Firmware, func(i, j int) bool {
		if dist.Firmware[i].Count != dist.Firmware[j].Count {
			return dist.Firmware[i].Count > dist.Firmware[j].Count
		}
		return dist.Firmware[i].Version < dist.Firmware[j].Version
	})
	return &dist, nil
}
