// Package memory implements storage.Store in process memory. It backs the
// "memory" storage type and the handler tests.
package memory

import (
	"sync"

	"github.com/goodtune/dtxcloud/internal/storage"
)

// Store implements the storage.Store interface using maps guarded by one lock.
type Store struct {
	mu sync.RWMutex

	users         map[string]storage.User
	devices       map[string]storage.Device
	transfers     []storage.DeviceTransfer
	sessions      map[string]storage.UsageSession
	samples       map[string][]storage.BatterySample
	stats         map[storage.DayKey]storage.DailyStatistics
	firmware      map[string]storage.FirmwareVersion
	rollouts      map[string]storage.FirmwareRollout
	announcements map[string]storage.Announcement
	adminLogs     []storage.AdminLog
	goals         map[string]storage.Goal

	// seq orders records created within the same clock tick.
	seq     int64
	created map[string]int64

	// Fault injection for tests.
	SessionInsertHook func(session storage.UsageSession) error
	SampleInsertHook  func(samples []storage.BatterySample) error
	StatsUpsertHook   func(stats storage.DailyStatistics) error
	AdminLogHook      func(entry storage.AdminLog) error
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:         make(map[string]storage.User),
		devices:       make(map[string]storage.Device),
		sessions:      make(map[string]storage.UsageSession),
		samples:       make(map[string][]storage.BatterySample),
		stats:         make(map[storage.DayKey]storage.DailyStatistics),
		firmware:      make(map[string]storage.FirmwareVersion),
		rollouts:      make(map[string]storage.FirmwareRollout),
		announcements: make(map[string]storage.Announcement),
		goals:         make(map[string]storage.Goal),
		created:       make(map[string]int64),
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Users returns the UserStore implementation
func (s *Store) Users() storage.UserStore { return &userStore{s} }

// Devices returns the DeviceStore implementation
func (s *Store) Devices() storage.DeviceStore { return &deviceStore{s} }

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore { return &sessionStore{s} }

// Stats returns the StatsStore implementation
func (s *Store) Stats() storage.StatsStore { return &statsStore{s} }

// Firmware returns the FirmwareStore implementation
func (s *Store) Firmware() storage.FirmwareStore { return &firmwareStore{s} }

// Rollouts returns the RolloutStore implementation
func (s *Store) Rollouts() storage.RolloutStore { return &rolloutStore{s} }

// Announcements returns the AnnouncementStore implementation
func (s *Store) Announcements() storage.AnnouncementStore { return &announcementStore{s} }

// AdminLogs returns the AdminLogStore implementation
func (s *Store) AdminLogs() storage.AdminLogStore { return &adminLogStore{s} }

// Goals returns the GoalStore implementation
func (s *Store) Goals() storage.GoalStore { return &goalStore{s} }

// stamp records insertion order for id. Callers hold the write lock.
func (s *Store) stamp(id string) {
	s.seq++
	s.created[id] = s.seq
}

// newerFirst orders by a timestamp descending, then by insertion order descending.
func (s *Store) newerFirst(aID, bID string, aUnix, bUnix int64) bool {
	if aUnix != bUnix {
		return aUnix > bUnix
	}
	return s.created[aID] > s.created[bID]
}
