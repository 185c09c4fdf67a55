package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/goodtune/dtxcloud/internal/storage/memory"
	"github.com/rs/zerolog"
)

var testNow = time.Date(2026, 3, 11, 15, 30, 0, 0, time.UTC) // a Wednesday

func intPtr(v int) *int { return &v }

func session(id, userID, deviceID string, start time.Time, shot, mode, level, duration int) storage.UsageSession {
	return storage.UsageSession{
		ID:              id,
		UserID:          userID,
		DeviceID:        deviceID,
		ShotType:        shot,
		DeviceMode:      mode,
		Level:           level,
		StartTime:       start,
		WorkingDuration: duration,
		SyncStatus:      storage.SyncStatusSynced,
		TimeSynced:      true,
		CreatedAt:       start,
	}
}

func insert(t *testing.T, store *memory.Store, sessions ...storage.UsageSession) {
	t.Helper()
	for _, s := range sessions {
		if _, err := store.Sessions().InsertIfAbsent(context.Background(), s); err != nil {
			t.Fatalf("InsertIfAbsent failed: %v", err)
		}
	}
}

func TestAggregate(t *testing.T) {
	start := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	warm := session("s2", "u1", "d1", start, storage.ShotTypeEShot, 0x11, 3, 200)
	warm.HadTemperatureWarning = true
	low := session("s3", "u1", "d1", start, storage.ShotTypeLED, 0x21, 1, 50)
	low.HadBatteryWarning = true
	low.HadTemperatureWarning = true

	row := Aggregate("u1", "d1", "2026-03-11", []storage.UsageSession{
		session("s1", "u1", "d1", start, storage.ShotTypeUShot, 0x01, 3, 100),
		warm,
		low,
		session("s4", "u1", "d1", start, storage.ShotTypeUShot, 0x02, 2, 120),
	}, testNow)

	if row.TotalSessions != 4 || row.TotalDuration != 470 {
		t.Errorf("Expected 4 sessions / 470s, got %d / %d", row.TotalSessions, row.TotalDuration)
	}
	if row.UShotSessions != 2 || row.UShotDuration != 220 {
		t.Errorf("Unexpected u-shot totals: %d / %d", row.UShotSessions, row.UShotDuration)
	}
	if row.EShotSessions != 1 || row.EShotDuration != 200 {
		t.Errorf("Unexpected e-shot totals: %d / %d", row.EShotSessions, row.EShotDuration)
	}
	if row.LEDSessions != 1 || row.LEDDuration != 50 {
		t.Errorf("Unexpected led totals: %d / %d", row.LEDSessions, row.LEDDuration)
	}
	if row.WarningCount != 2 {
		t.Errorf("Expected 2 sessions with warnings, got %d", row.WarningCount)
	}
	if row.LevelBreakdown[3] != 2 || row.LevelBreakdown[2] != 1 || row.LevelBreakdown[1] != 1 {
		t.Errorf("Unexpected level breakdown: %v", row.LevelBreakdown)
	}
	if len(row.ModeBreakdown) != 4 || row.ModeBreakdown[0x01] != 1 {
		t.Errorf("Unexpected mode breakdown: %v", row.ModeBreakdown)
	}
}

func TestAggregate_Empty(t *testing.T) {
	row := Aggregate("u1", "d1", "2026-03-11", nil, testNow)
	if row.TotalSessions != 0 || row.ModeBreakdown == nil || row.LevelBreakdown == nil {
		t.Errorf("Expected zero row with empty breakdowns, got %+v", row)
	}
}

func TestRecompute_UsesOnlyThatDay(t *testing.T) {
	store := memory.New()
	clk := &clock.TestClock{CurrentTime: testNow}
	r := NewRecomputer(store.Sessions(), store.Stats(), clk, zerolog.Nop())

	insert(t, store,
		session("a", "u1", "d1", time.Date(2026, 3, 10, 23, 59, 59, 0, time.UTC), 0, 1, 1, 10),
		session("b", "u1", "d1", time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), 0, 1, 1, 20),
		session("c", "u1", "d1", time.Date(2026, 3, 11, 23, 59, 59, 0, time.UTC), 1, 1, 1, 30),
		session("d", "u1", "d1", time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), 0, 1, 1, 40),
		session("e", "u1", "d2", time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), 0, 1, 1, 50),
		session("f", "u2", "d1", time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), 0, 1, 1, 60),
	)

	row, err := r.Recompute(context.Background(), "u1", "d1", "2026-03-11")
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if row.TotalSessions != 2 || row.TotalDuration != 50 {
		t.Errorf("Expected 2 sessions / 50s, got %d / %d", row.TotalSessions, row.TotalDuration)
	}

	rows, err := store.Stats().List(context.Background(), storage.StatsFilter{UserID: "u1", From: "2026-03-11", To: "2026-03-11"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rows) != 1 || rows[0].DeviceID != "d1" || rows[0].TotalSessions != 2 {
		t.Errorf("Expected one persisted row for d1, got %+v", rows)
	}
}

func TestRecompute_Idempotent(t *testing.T) {
	store := memory.New()
	clk := &clock.TestClock{CurrentTime: testNow}
	r := NewRecomputer(store.Sessions(), store.Stats(), clk, zerolog.Nop())

	insert(t, store, session("a", "u1", "d1", testNow.Add(-time.Hour), 0, 1, 2, 100))

	first, err := r.Recompute(context.Background(), "u1", "d1", "2026-03-11")
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	second, err := r.Recompute(context.Background(), "u1", "d1", "2026-03-11")
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if first.TotalSessions != second.TotalSessions || first.TotalDuration != second.TotalDuration {
		t.Errorf("Recompute is not idempotent: %+v vs %+v", first, second)
	}

	rows, _ := store.Stats().List(context.Background(), storage.StatsFilter{UserID: "u1"})
	if len(rows) != 1 {
		t.Errorf("Expected a single row after two recomputes, got %d", len(rows))
	}
}

func TestRecompute_Errors(t *testing.T) {
	store := memory.New()
	r := NewRecomputer(store.Sessions(), store.Stats(), &clock.TestClock{CurrentTime: testNow}, zerolog.Nop())

	if _, err := r.Recompute(context.Background(), "u1", "d1", "11/03/2026"); err == nil {
		t.Error("Expected error for malformed date")
	}

	boom := errors.New("disk full")
	store.StatsUpsertHook = func(storage.DailyStatistics) error { return boom }
	if _, err := r.Recompute(context.Background(), "u1", "d1", "2026-03-11"); !errors.Is(err, boom) {
		t.Errorf("Expected upsert error to propagate, got %v", err)
	}
}

func TestMergeDaily(t *testing.T) {
	summary := MergeDaily("2026-03-11", []storage.DailyStatistics{
		{TotalSessions: 2, TotalDuration: 100, UShotSessions: 2, WarningCount: 1, ModeBreakdown: map[int]int{1: 2}, LevelBreakdown: map[int]int{3: 2}},
		{TotalSessions: 1, TotalDuration: 40, LEDSessions: 1, ModeBreakdown: map[int]int{1: 1}, LevelBreakdown: map[int]int{1: 1}},
	})

	if summary.TotalSessions != 3 || summary.TotalDuration != 140 || summary.WarningCount != 1 {
		t.Errorf("Unexpected totals: %+v", summary)
	}
	if summary.ModeBreakdown[1] != 3 || summary.LevelBreakdown[3] != 2 || summary.LevelBreakdown[1] != 1 {
		t.Errorf("Unexpected breakdowns: %v %v", summary.ModeBreakdown, summary.LevelBreakdown)
	}

	empty := MergeDaily("2026-03-12", nil)
	if empty.TotalSessions != 0 || empty.ModeBreakdown == nil {
		t.Errorf("Expected zero summary, got %+v", empty)
	}
}

func TestGroupRange(t *testing.T) {
	rows := []storage.DailyStatistics{
		{StatDate: "2026-02-27", TotalSessions: 1, TotalDuration: 10, UShotSessions: 1},
		{StatDate: "2026-03-01", TotalSessions: 2, TotalDuration: 20, EShotSessions: 2}, // Sunday
		{StatDate: "2026-03-02", TotalSessions: 3, TotalDuration: 30, LEDSessions: 3},   // Monday
		{StatDate: "2026-03-02", TotalSessions: 1, TotalDuration: 5, UShotSessions: 1},
	}

	tests := []struct {
		groupBy string
		periods []string
		counts  []int
		avg     float64
	}{
		{GroupByDay, []string{"2026-02-27", "2026-03-01", "2026-03-02"}, []int{1, 2, 4}, 2.3},
		{GroupByWeek, []string{"2026-02-23", "2026-03-02"}, []int{3, 4}, 3.5},
		{GroupByMonth, []string{"2026-02", "2026-03"}, []int{1, 6}, 3.5},
	}

	for _, tt := range tests {
		t.Run(tt.groupBy, func(t *testing.T) {
			periods, summary := GroupRange(rows, tt.groupBy)
			if len(periods) != len(tt.periods) {
				t.Fatalf("Expected %d periods, got %d: %+v", len(tt.periods), len(periods), periods)
			}
			for i, p := range periods {
				if p.Period != tt.periods[i] || p.TotalSessions != tt.counts[i] {
					t.Errorf("Period %d: expected %s/%d, got %s/%d", i, tt.periods[i], tt.counts[i], p.Period, p.TotalSessions)
				}
			}
			if summary.TotalSessions != 7 || summary.TotalDuration != 65 {
				t.Errorf("Unexpected summary totals: %+v", summary)
			}
			if summary.AvgSessionsPerDay != tt.avg {
				t.Errorf("Expected average %.1f, got %.1f", tt.avg, summary.AvgSessionsPerDay)
			}
		})
	}

	periods, summary := GroupRange(nil, GroupByDay)
	if len(periods) != 0 || summary.AvgSessionsPerDay != 0 {
		t.Errorf("Expected empty range, got %+v %+v", periods, summary)
	}
}

func TestWeekStart(t *testing.T) {
	tests := []struct {
		day  string
		want string
	}{
		{"2026-03-09", "2026-03-09"}, // Monday
		{"2026-03-11", "2026-03-09"},
		{"2026-03-15", "2026-03-09"}, // Sunday
		{"2026-03-01", "2026-02-23"},
	}
	for _, tt := range tests {
		day, _ := time.Parse(clock.DateLayout, tt.day)
		if got := WeekStart(day).Format(clock.DateLayout); got != tt.want {
			t.Errorf("WeekStart(%s) = %s, want %s", tt.day, got, tt.want)
		}
	}
}

func TestSweeper_NextRun(t *testing.T) {
	s, err := NewSweeper(nil, nil, &clock.TestClock{}, "03:15", 2, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}

	before := time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC)
	if got := s.nextRun(before); !got.Equal(time.Date(2026, 3, 11, 3, 15, 0, 0, time.UTC)) {
		t.Errorf("Expected same-day run, got %v", got)
	}
	after := time.Date(2026, 3, 11, 3, 15, 0, 0, time.UTC)
	if got := s.nextRun(after); !got.Equal(time.Date(2026, 3, 12, 3, 15, 0, 0, time.UTC)) {
		t.Errorf("Expected next-day run, got %v", got)
	}

	if _, err := NewSweeper(nil, nil, &clock.TestClock{}, "25:99", 2, zerolog.Nop()); err == nil {
		t.Error("Expected error for invalid sweep time")
	}
}

func TestSweeper_Sweep(t *testing.T) {
	store := memory.New()
	clk := &clock.TestClock{CurrentTime: testNow}
	r := NewRecomputer(store.Sessions(), store.Stats(), clk, zerolog.Nop())

	insert(t, store,
		session("old", "u1", "d1", testNow.AddDate(0, 0, -5), 0, 1, 1, 10),
		session("a", "u1", "d1", testNow.AddDate(0, 0, -1), 0, 1, 1, 10),
		session("b", "u1", "d1", testNow, 0, 1, 1, 10),
		session("c", "u2", "d2", testNow, 0, 1, 1, 10),
	)

	s, err := NewSweeper(store.Sessions(), r, clk, "03:00", 2, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 keys recomputed, got %d", n)
	}

	rows, _ := store.Stats().List(context.Background(), storage.StatsFilter{})
	if len(rows) != 3 {
		t.Errorf("Expected 3 statistics rows, got %d", len(rows))
	}

	failures := 0
	store.StatsUpsertHook = func(row storage.DailyStatistics) error {
		if row.UserID == "u2" {
			failures++
			return errors.New("write failed")
		}
		return nil
	}
	n, err = s.Sweep(context.Background())
	if err == nil {
		t.Error("Expected the first failure to be reported")
	}
	if n != 2 || failures != 1 {
		t.Errorf("Expected remaining keys to be swept, got n=%d failures=%d", n, failures)
	}
}

func TestTerminationSummary(t *testing.T) {
	mk := func(reason *int, completion int) storage.UsageSession {
		return storage.UsageSession{TerminationReason: reason, CompletionPercent: completion}
	}
	result := TerminationSummary([]storage.UsageSession{
		mk(intPtr(0), 100),
		mk(intPtr(0), 100),
		mk(nil, 50),
		mk(intPtr(42), 33),
	})

	if result.TotalSessions != 4 {
		t.Errorf("Expected 4 sessions, got %d", result.TotalSessions)
	}
	if result.AvgCompletionPercent != 70.8 {
		t.Errorf("Expected average completion 70.8, got %v", result.AvgCompletionPercent)
	}
	if len(result.Reasons) != 3 {
		t.Fatalf("Expected 3 reasons, got %+v", result.Reasons)
	}
	first := result.Reasons[0]
	if first.Reason != 0 || first.Count != 2 || first.Percentage != 50 || first.Name != "Normal completion" {
		t.Errorf("Unexpected top reason: %+v", first)
	}
	if result.Reasons[1].Reason != 42 || result.Reasons[1].Name != "Reason 42" {
		t.Errorf("Unexpected unknown reason entry: %+v", result.Reasons[1])
	}
	if result.Reasons[2].Reason != TerminationOther || result.Reasons[2].Name != "Other" {
		t.Errorf("Expected missing reason counted as Other: %+v", result.Reasons[2])
	}
}

func TestFeatures(t *testing.T) {
	start := testNow
	usage := Features([]storage.UsageSession{
		session("1", "u", "d", start, 1, 0x11, 1, 30),
		session("2", "u", "d", start, 0, 0x01, 1, 10),
		session("3", "u", "d", start, 0, 0x01, 1, 20),
		session("4", "u", "d", start, 7, 0x99, 1, 5),
	})

	if len(usage.ShotTypes) != 3 || usage.ShotTypes[0].ShotType != 0 || usage.ShotTypes[2].Name != "Type 7" {
		t.Errorf("Unexpected shot types: %+v", usage.ShotTypes)
	}
	if usage.ShotTypes[0].Count != 2 || usage.ShotTypes[0].TotalDuration != 30 || usage.ShotTypes[0].Percentage != 50 {
		t.Errorf("Unexpected u-shot entry: %+v", usage.ShotTypes[0])
	}
	if usage.Modes[0].DeviceMode != 0x01 || usage.Modes[0].Name != "Glow" {
		t.Errorf("Expected most used mode first: %+v", usage.Modes)
	}
	if usage.Modes[2].Name != "Mode 153" {
		t.Errorf("Expected unknown mode name, got %q", usage.Modes[2].Name)
	}
	if usage.Modes[1].Percentage != 25 {
		t.Errorf("Expected 25%%, got %v", usage.Modes[1].Percentage)
	}
}

func TestHeatmap(t *testing.T) {
	cells := Heatmap([]storage.UsageSession{
		{StartTime: time.Date(2026, 3, 8, 0, 30, 0, 0, time.UTC)},  // Sunday 00h
		{StartTime: time.Date(2026, 3, 11, 15, 5, 0, 0, time.UTC)}, // Wednesday 15h
		{StartTime: time.Date(2026, 3, 11, 15, 55, 0, 0, time.UTC)},
		{StartTime: time.Date(2026, 3, 12, 0, 30, 0, 0, time.FixedZone("KST", 9*3600))}, // Wednesday 15h UTC
	})

	if len(cells) != 7*24 {
		t.Fatalf("Expected 168 cells, got %d", len(cells))
	}
	if cells[0].Count != 1 {
		t.Errorf("Expected one Sunday midnight session, got %d", cells[0].Count)
	}
	wed := cells[3*24+15]
	if wed.Day != 3 || wed.Hour != 15 || wed.Count != 3 {
		t.Errorf("Unexpected Wednesday 15h cell: %+v", wed)
	}
}

func TestTrends(t *testing.T) {
	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	points := Trends([]storage.UsageSession{
		{StartTime: time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC), WorkingDuration: 10},
		{StartTime: time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), WorkingDuration: 15},
		{StartTime: time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), WorkingDuration: 30},
	}, start, 3)

	if len(points) != 3 {
		t.Fatalf("Expected 3 points, got %d", len(points))
	}
	if points[0].Sessions != 2 || points[0].TotalDuration != 25 || points[0].AvgDuration != 13 {
		t.Errorf("Unexpected first point: %+v", points[0])
	}
	if points[1].Date != "2026-03-10" || points[1].Sessions != 0 {
		t.Errorf("Expected empty middle day, got %+v", points[1])
	}
}

func TestAnalytics_OverviewAndFirmware(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	clk := &clock.TestClock{CurrentTime: testNow}

	for i, id := range []string{"u1", "u2", "u3"} {
		created := testNow.AddDate(0, 0, -10*i)
		if err := store.Users().Create(ctx, storage.User{ID: id, Email: id + "@example.com", Role: storage.RoleUser, IsActive: true, CreatedAt: created, UpdatedAt: created}); err != nil {
			t.Fatalf("Create user failed: %v", err)
		}
	}
	v1 := "1.0.0"
	devices := []storage.Device{
		{ID: "d1", UserID: "u1", SerialNumber: "SN1", FirmwareVersion: &v1, IsActive: true, RegisteredAt: testNow},
		{ID: "d2", UserID: "u2", SerialNumber: "SN2", IsActive: true, RegisteredAt: testNow.AddDate(0, 0, -30)},
		{ID: "d3", UserID: "u3", SerialNumber: "SN3", FirmwareVersion: &v1, IsActive: false, RegisteredAt: testNow.AddDate(0, 0, -30)},
	}
	for _, d := range devices {
		if err := store.Devices().Create(ctx, d); err != nil {
			t.Fatalf("Create device failed: %v", err)
		}
	}

	s1 := session("s1", "u1", "d1", testNow.Add(-time.Hour), 0, 1, 1, 100)
	s1.CompletionPercent = 100
	s2 := session("s2", "u2", "d2", testNow.AddDate(0, 0, -3), 0, 1, 1, 51)
	s2.CompletionPercent = 45
	s3 := session("s3", "u2", "d2", testNow.AddDate(0, 0, -40), 0, 1, 1, 60)
	s3.CompletionPercent = 60
	insert(t, store, s1, s2, s3)

	a := NewAnalytics(store, clk)
	o, err := a.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview failed: %v", err)
	}

	want := Overview{
		TotalUsers:           3,
		NewUsers7d:           1,
		ActiveUsers30d:       2,
		TotalDevices:         3,
		ActiveDevices:        2,
		NewDevices7d:         1,
		TotalSessions:        3,
		SessionsToday:        1,
		Sessions7d:           2,
		AvgSessionsPerDay7d:  0.3,
		AvgDurationSeconds:   70,
		AvgCompletionPercent: 68.3,
	}
	if *o != want {
		t.Errorf("Overview mismatch:\n got %+v\nwant %+v", *o, want)
	}

	dist, err := a.FirmwareDistribution(ctx)
	if err != nil {
		t.Fatalf("FirmwareDistribution failed: %v", err)
	}
	if dist.TotalDevices != 2 || len(dist.Firmware) != 2 {
		t.Fatalf("Expected two active devices across two versions, got %+v", dist)
	}
	if dist.Firmware[0].Version != "1.0.0" || dist.Firmware[1].Version != "unknown" || dist.Firmware[0].Percentage != 50 {
		t.Errorf("Unexpected distribution: %+v", dist.Firmware)
	}

	trends, err := a.UsageTrends(ctx, 7)
	if err != nil {
		t.Fatalf("UsageTrends failed: %v", err)
	}
	if len(trends) != 7 || trends[6].Date != "2026-03-11" || trends[6].Sessions != 1 || trends[3].Sessions != 1 {
		t.Errorf("Unexpected trends: %+v", trends)
	}
}
