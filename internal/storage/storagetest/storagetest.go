// Package storagetest holds behavioural tests shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/goodtune/dtxcloud/internal/storage"
)

// Factory returns an empty store. The store is closed by the caller's cleanup.
type Factory func(t *testing.T) storage.Store

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Run exercises every sub-store of the implementation returned by open.
func Run(t *testing.T, open Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("Devices", func(t *testing.T) { testDevices(t, open(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, open(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, open(t)) })
	t.Run("Firmware", func(t *testing.T) { testFirmware(t, open(t)) })
	t.Run("Announcements", func(t *testing.T) { testAnnouncements(t, open(t)) })
	t.Run("AdminLogs", func(t *testing.T) { testAdminLogs(t, open(t)) })
	t.Run("Goals", func(t *testing.T) { testGoals(t, open(t)) })
}

// User creates and stores an active user.
func User(t *testing.T, store storage.Store, email string, created time.Time) storage.User {
	t.Helper()
	user := storage.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "hash",
		Role:         storage.RoleUser,
		IsActive:     true,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	if err := store.Users().Create(context.Background(), user); err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return user
}

// Device creates and stores an active device owned by userID.
func Device(t *testing.T, store storage.Store, userID, serial string, registered time.Time) storage.Device {
	t.Helper()
	device := storage.Device{
		ID:           uuid.NewString(),
		UserID:       userID,
		SerialNumber: serial,
		ModelName:    storage.DefaultModelName,
		IsActive:     true,
		RegisteredAt: registered,
		UpdatedAt:    registered,
	}
	if err := store.Devices().Create(context.Background(), device); err != nil {
		t.Fatalf("create device %s: %v", serial, err)
	}
	return device
}

// Session builds an unsaved session.
func Session(userID, deviceID string, start time.Time, shotType, duration int) storage.UsageSession {
	return storage.UsageSession{
		ID:                uuid.NewString(),
		DeviceID:          deviceID,
		UserID:            userID,
		ShotType:          shotType,
		DeviceMode:        1,
		Level:             2,
		StartTime:         start,
		WorkingDuration:   duration,
		CompletionPercent: 100,
		SyncStatus:        storage.SyncStatusSynced,
		TimeSynced:        true,
		CreatedAt:         start,
	}
}

func testUsers(t *testing.T, store storage.Store) {
	ctx := context.Background()
	users := store.Users()

	alice := User(t, store, "alice@example.com", base)
	User(t, store, "bob@example.com", base.Add(time.Hour))
	User(t, store, "carol@sample.org", base.Add(2*time.Hour))

	dup := alice
	dup.ID = uuid.NewString()
	dup.Email = "ALICE@example.com"
	if err := users.Create(ctx, dup); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate email, got %v", err)
	}

	got, err := users.GetByEmail(ctx, "Alice@Example.com")
	if err != nil || got.ID != alice.ID {
		t.Errorf("Expected alice by email, got %v, %v", got, err)
	}
	if _, err := users.Get(ctx, uuid.NewString()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := users.Update(ctx, storage.User{ID: uuid.NewString(), Email: "x@example.com", Role: storage.RoleUser}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound updating missing user, got %v", err)
	}

	list, total, err := users.List(ctx, storage.UserFilter{Search: "EXAMPLE", Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 || len(list) != 1 || list[0].Email != "bob@example.com" {
		t.Errorf("Expected newest example.com user of 2, got %d %+v", total, list)
	}

	since := base.Add(30 * time.Minute)
	if n, _ := users.Count(ctx, &since); n != 2 {
		t.Errorf("Expected 2 users since, got %d", n)
	}
	if n, _ := users.Count(ctx, nil); n != 3 {
		t.Errorf("Expected 3 users, got %d", n)
	}

	if has, _ := users.HasAdmin(ctx); has {
		t.Error("Expected no admin")
	}
	alice.Role = storage.RoleAdmin
	if err := users.Update(ctx, alice); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if has, _ := users.HasAdmin(ctx); !has {
		t.Error("Expected an admin after promotion")
	}

	login := base.Add(5 * time.Hour)
	if err := users.UpdateLastLogin(ctx, alice.ID, login); err != nil {
		t.Fatalf("UpdateLastLogin failed: %v", err)
	}
	got, _ = users.Get(ctx, alice.ID)
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(login) {
		t.Errorf("Expected last login %v, got %v", login, got.LastLoginAt)
	}
}

func testDevices(t *testing.T, store storage.Store) {
	ctx := context.Background()
	devices := store.Devices()

	owner := User(t, store, "owner@example.com", base)
	other := User(t, store, "other@example.com", base)

	d1 := Device(t, store, owner.ID, "DTX-0001", base)
	d2 := Device(t, store, owner.ID, "DTX-0002", base.Add(time.Hour))

	clash := d1
	clash.ID = uuid.NewString()
	if err := devices.Create(ctx, clash); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate serial, got %v", err)
	}

	if _, err := devices.GetOwned(ctx, d1.ID, other.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for foreign device, got %v", err)
	}

	owned, _ := devices.ListByUser(ctx, owner.ID)
	if len(owned) != 2 || owned[0].ID != d2.ID {
		t.Errorf("Expected newest device first, got %+v", owned)
	}

	synced := base.Add(2 * time.Hour)
	for i := 0; i < 2; i++ {
		if err := devices.IncrementSessions(ctx, d1.ID, 3, synced); err != nil {
			t.Fatalf("IncrementSessions failed: %v", err)
		}
	}
	got, _ := devices.Get(ctx, d1.ID)
	if got.TotalSessions != 6 || got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(synced) {
		t.Errorf("Expected 6 sessions synced at %v, got %d %v", synced, got.TotalSessions, got.LastSyncedAt)
	}

	version := "1.2.0"
	got.FirmwareVersion = &version
	if err := devices.Update(ctx, *got); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	d2.IsActive = false
	_ = devices.Update(ctx, d2)
	Device(t, store, other.ID, "DTX-0003", base)

	dist, err := devices.FirmwareDistribution(ctx)
	if err != nil {
		t.Fatalf("FirmwareDistribution failed: %v", err)
	}
	if len(dist) != 2 || dist["1.2.0"] != 1 || dist["unknown"] != 1 {
		t.Errorf("Unexpected distribution %v", dist)
	}

	if n, _ := devices.Count(ctx, storage.DeviceCountFilter{ActiveOnly: true}); n != 2 {
		t.Errorf("Expected 2 active devices, got %d", n)
	}
	if n, _ := devices.Count(ctx, storage.DeviceCountFilter{UserID: owner.ID}); n != 2 {
		t.Errorf("Expected 2 owned devices, got %d", n)
	}

	transfer := storage.DeviceTransfer{
		ID: uuid.NewString(), DeviceID: d1.ID, FromUserID: other.ID, ToUserID: owner.ID,
		Status: storage.TransferStatusPending, CreatedAt: synced,
	}
	if err := devices.Transfer(ctx, transfer); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound transferring from non-owner, got %v", err)
	}
	transfer.FromUserID, transfer.ToUserID = owner.ID, other.ID
	if err := devices.Transfer(ctx, transfer); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if _, err := devices.GetOwned(ctx, d1.ID, other.ID); err != nil {
		t.Errorf("Expected device owned by recipient, got %v", err)
	}

	list, total, _ := devices.List(ctx, storage.DeviceFilter{Search: "dtx-000"})
	if total != 3 || len(list) != 3 {
		t.Errorf("Expected 3 matching devices, got %d", total)
	}
}

func testSessions(t *testing.T, store storage.Store) {
	ctx := context.Background()
	sessions := store.Sessions()

	user := User(t, store, "s@example.com", base)
	other := User(t, store, "t@example.com", base)
	device := Device(t, store, user.ID, "DTX-S1", base)
	otherDevice := Device(t, store, other.ID, "DTX-S2", base)

	s1 := Session(user.ID, device.ID, base.Add(time.Hour), storage.ShotTypeUShot, 300)
	s2 := Session(user.ID, device.ID, base.Add(26*time.Hour), storage.ShotTypeEShot, 100)
	s3 := Session(other.ID, otherDevice.ID, base.Add(2*time.Hour), storage.ShotTypeLED, 200)
	s3.CompletionPercent = 40

	for _, s := range []storage.UsageSession{s1, s2, s3} {
		inserted, err := sessions.InsertIfAbsent(ctx, s)
		if err != nil || !inserted {
			t.Fatalf("Expected insert of %s, got %v %v", s.ID, inserted, err)
		}
	}
	retry := s1
	retry.WorkingDuration = 999
	inserted, err := sessions.InsertIfAbsent(ctx, retry)
	if err != nil || inserted {
		t.Errorf("Expected duplicate to be skipped, got %v %v", inserted, err)
	}
	got, _ := sessions.Get(ctx, s1.ID)
	if got.WorkingDuration != 300 {
		t.Errorf("Expected original row kept, got duration %d", got.WorkingDuration)
	}

	samples := []storage.BatterySample{
		{SessionID: s1.ID, ElapsedSeconds: 60, VoltageMV: 3900},
		{SessionID: s1.ID, ElapsedSeconds: 0, VoltageMV: 4100},
	}
	if err := sessions.InsertBatterySamples(ctx, samples); err != nil {
		t.Fatalf("InsertBatterySamples failed: %v", err)
	}
	stored, _ := sessions.BatterySamples(ctx, s1.ID)
	if len(stored) != 2 || stored[0].ElapsedSeconds != 0 {
		t.Errorf("Expected samples ordered by elapsed time, got %+v", stored)
	}

	list, total, err := sessions.List(ctx, storage.SessionFilter{UserID: user.ID, Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 || len(list) != 1 || list[0].ID != s2.ID {
		t.Errorf("Expected newest of 2 sessions, got %d %+v", total, list)
	}

	since, before := base, base.Add(24*time.Hour)
	if n, _ := sessions.Count(ctx, storage.SessionFilter{Since: &since, Before: &before}); n != 2 {
		t.Errorf("Expected 2 sessions on the first day, got %d", n)
	}
	if n, _ := sessions.CountUsers(ctx, base); n != 2 {
		t.Errorf("Expected 2 active users, got %d", n)
	}

	avgDuration, avgCompletion, err := sessions.Averages(ctx)
	if err != nil {
		t.Fatalf("Averages failed: %v", err)
	}
	if avgDuration != 200 || avgCompletion != 80 {
		t.Errorf("Expected averages 200/80, got %v/%v", avgDuration, avgCompletion)
	}

	keys, err := sessions.DayKeys(ctx, base)
	if err != nil {
		t.Fatalf("DayKeys failed: %v", err)
	}
	if len(keys) != 3 || keys[2].Date != "2026-03-03" {
		t.Errorf("Unexpected day keys %+v", keys)
	}

	if err := sessions.Delete(ctx, s1.ID, other.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting foreign session, got %v", err)
	}
	if err := sessions.Delete(ctx, s1.ID, user.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if stored, _ := sessions.BatterySamples(ctx, s1.ID); len(stored) != 0 {
		t.Errorf("Expected samples removed with session, got %d", len(stored))
	}
	if _, err := sessions.Get(ctx, s1.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func testStats(t *testing.T, store storage.Store) {
	ctx := context.Background()
	stats := store.Stats()

	user := User(t, store, "stats@example.com", base)
	device := Device(t, store, user.ID, "DTX-ST", base)

	row := storage.DailyStatistics{
		UserID: user.ID, DeviceID: device.ID, StatDate: "2026-03-02",
		TotalSessions: 1, TotalDuration: 60, UShotSessions: 1, UShotDuration: 60,
		ModeBreakdown: map[int]int{1: 1}, LevelBreakdown: map[int]int{2: 1},
		UpdatedAt: base,
	}
	if err := stats.Upsert(ctx, row); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	row.TotalSessions, row.TotalDuration = 2, 90
	row.ModeBreakdown = map[int]int{1: 1, 0x11: 1}
	if err := stats.Upsert(ctx, row); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	next := row
	next.StatDate = "2026-03-04"
	_ = stats.Upsert(ctx, next)

	rows, err := stats.List(ctx, storage.StatsFilter{UserID: user.ID, From: "2026-03-01", To: "2026-03-03"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row in range, got %d", len(rows))
	}
	if rows[0].TotalSessions != 2 || rows[0].ModeBreakdown[0x11] != 1 || rows[0].StatDate != "2026-03-02" {
		t.Errorf("Expected replaced row, got %+v", rows[0])
	}
}

func testFirmware(t *testing.T, store storage.Store) {
	ctx := context.Background()
	firmware, rollouts := store.Firmware(), store.Rollouts()

	if _, err := firmware.Latest(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound with no firmware, got %v", err)
	}

	admin := User(t, store, "fw@example.com", base)
	versions := []storage.FirmwareVersion{
		{ID: uuid.NewString(), Version: "1.0.0", VersionCode: 100, BinaryURL: "a.bin", IsActive: true, CreatedAt: base},
		{ID: uuid.NewString(), Version: "1.1.0", VersionCode: 110, BinaryURL: "b.bin", IsActive: true, CreatedAt: base},
		{ID: uuid.NewString(), Version: "2.0.0", VersionCode: 200, BinaryURL: "c.bin", IsActive: false, CreatedAt: base},
	}
	for _, v := range versions {
		if err := firmware.Create(ctx, v); err != nil {
			t.Fatalf("Create firmware failed: %v", err)
		}
	}
	clash := versions[0]
	clash.ID = uuid.NewString()
	if err := firmware.Create(ctx, clash); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate version code, got %v", err)
	}

	latest, err := firmware.Latest(ctx)
	if err != nil || latest.VersionCode != 110 {
		t.Errorf("Expected latest active 110, got %v %v", latest, err)
	}
	all, _ := firmware.List(ctx)
	if len(all) != 3 || all[0].VersionCode != 200 {
		t.Errorf("Expected versions by code descending, got %+v", all)
	}

	fwID := versions[1].ID
	older := storage.FirmwareRollout{ID: uuid.NewString(), FirmwareVersionID: fwID, TargetPercentage: 10,
		Status: storage.RolloutActive, CreatedBy: admin.ID, CreatedAt: base, UpdatedAt: base}
	newer := storage.FirmwareRollout{ID: uuid.NewString(), FirmwareVersionID: fwID, TargetPercentage: 50,
		Status: storage.RolloutActive, CreatedBy: admin.ID, CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour)}
	draft := storage.FirmwareRollout{ID: uuid.NewString(), FirmwareVersionID: fwID, TargetPercentage: 90,
		Status: storage.RolloutDraft, CreatedBy: admin.ID, CreatedAt: base.Add(2 * time.Hour), UpdatedAt: base.Add(2 * time.Hour)}
	for _, r := range []storage.FirmwareRollout{older, newer, draft} {
		if err := rollouts.Create(ctx, r); err != nil {
			t.Fatalf("Create rollout failed: %v", err)
		}
	}
	orphan := older
	orphan.ID, orphan.FirmwareVersionID = uuid.NewString(), uuid.NewString()
	if err := rollouts.Create(ctx, orphan); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown firmware, got %v", err)
	}

	active, err := rollouts.LatestActive(ctx, fwID)
	if err != nil || active.ID != newer.ID {
		t.Errorf("Expected newest active rollout, got %v %v", active, err)
	}

	newer.Status = storage.RolloutPaused
	if err := rollouts.Update(ctx, newer); err != nil {
		t.Fatalf("Update rollout failed: %v", err)
	}
	active, _ = rollouts.LatestActive(ctx, fwID)
	if active == nil || active.ID != older.ID {
		t.Errorf("Expected older active rollout after pause, got %v", active)
	}
	if _, err := rollouts.LatestActive(ctx, versions[0].ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound without rollouts, got %v", err)
	}

	views, _ := rollouts.List(ctx)
	if len(views) != 3 || views[0].ID != draft.ID || views[0].FirmwareVersion != "1.1.0" || views[0].FirmwareVersionCode != 110 {
		t.Errorf("Unexpected rollout views %+v", views)
	}
}

func testAnnouncements(t *testing.T, store storage.Store) {
	ctx := context.Background()
	announcements := store.Announcements()
	admin := User(t, store, "news@example.com", base)

	published := base.Add(time.Hour)
	items := []storage.Announcement{
		{ID: uuid.NewString(), Title: "Draft", Content: "x", Type: "notice", CreatedBy: admin.ID, CreatedAt: base, UpdatedAt: base},
		{ID: uuid.NewString(), Title: "Live", Content: "y", Type: "update", IsPublished: true, PublishedAt: &published,
			CreatedBy: admin.ID, CreatedAt: base, UpdatedAt: base},
	}
	for _, a := range items {
		if err := announcements.Create(ctx, a); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	live, _ := announcements.List(ctx, true)
	if len(live) != 1 || live[0].Title != "Live" {
		t.Errorf("Expected only published announcements, got %+v", live)
	}
	all, _ := announcements.List(ctx, false)
	if len(all) != 2 {
		t.Errorf("Expected 2 announcements, got %d", len(all))
	}

	if err := announcements.Delete(ctx, items[0].ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := announcements.Delete(ctx, items[0].ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func testAdminLogs(t *testing.T, store storage.Store) {
	ctx := context.Background()
	logs := store.AdminLogs()
	admin := User(t, store, "audit@example.com", base)

	target := uuid.NewString()
	entries := []storage.AdminLog{
		{ID: uuid.NewString(), AdminID: admin.ID, Action: "update_user", TargetType: "user", TargetID: &target,
			Details: map[string]any{"role": "admin"}, CreatedAt: base},
		{ID: uuid.NewString(), AdminID: admin.ID, Action: "create_firmware", TargetType: "firmware", CreatedAt: base.Add(time.Minute)},
		{ID: uuid.NewString(), AdminID: admin.ID, Action: "update_firmware_rollout", TargetType: "firmware_rollout", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := logs.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	list, total, err := logs.List(ctx, storage.AdminLogFilter{Action: "UPDATE", Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 || len(list) != 1 || list[0].Action != "update_firmware_rollout" {
		t.Errorf("Expected newest of 2 update actions, got %d %+v", total, list)
	}

	list, _, _ = logs.List(ctx, storage.AdminLogFilter{TargetType: "user"})
	if len(list) != 1 || list[0].Details["role"] != "admin" || list[0].TargetID == nil || *list[0].TargetID != target {
		t.Errorf("Expected user entry with details, got %+v", list)
	}
}

func testGoals(t *testing.T, store storage.Store) {
	ctx := context.Background()
	goals := store.Goals()
	user := User(t, store, "goal@example.com", base)

	goal := storage.Goal{
		ID: uuid.NewString(), UserID: user.ID, GoalType: "weekly", TargetMinutes: 60,
		StartDate: "2026-03-02", EndDate: "2026-03-08", IsActive: true, CreatedAt: base,
	}
	if err := goals.Create(ctx, goal); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	goal.TargetMinutes = 90
	if err := goals.Update(ctx, goal); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, err := goals.Get(ctx, goal.ID)
	if err != nil || got.TargetMinutes != 90 || got.EndDate != "2026-03-08" {
		t.Errorf("Expected updated goal, got %+v %v", got, err)
	}

	list, _ := goals.ListByUser(ctx, user.ID)
	if len(list) != 1 {
		t.Errorf("Expected 1 goal, got %d", len(list))
	}

	if err := goals.Delete(ctx, goal.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := goals.Get(ctx, goal.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}
