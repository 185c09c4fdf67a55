package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrConflict is returned when a unique key already exists.
	ErrConflict = errors.New("storage: record already exists")
)

// Store represents the root storage interface.
type Store interface {
	Close() error
	Users() UserStore
	Devices() DeviceStore
	Sessions() SessionStore
	Stats() StatsStore
	Firmware() FirmwareStore
	Rollouts() RolloutStore
	Announcements() AnnouncementStore
	AdminLogs() AdminLogStore
	Goals() GoalStore
}

// UserStore manages accounts.
type UserStore interface {
	Create(ctx context.Context, user User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, user User) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, filter UserFilter) ([]User, int, error)
	Count(ctx context.Context, since *time.Time) (int, error)
	HasAdmin(ctx context.Context) (bool, error)
}

// UserFilter defines criteria for listing users.
type UserFilter struct {
	Search string // case-insensitive match on email or name
	Limit  int
	Offset int
}

// DeviceStore manages registered devices.
type DeviceStore interface {
	Create(ctx context.Context, device Device) error
	Get(ctx context.Context, id string) (*Device, error)
	// GetOwned returns ErrNotFound when the device exists but belongs to someone else.
	GetOwned(ctx context.Context, id, userID string) (*Device, error)
	ListByUser(ctx context.Context, userID string) ([]Device, error)
	List(ctx context.Context, filter DeviceFilter) ([]Device, int, error)
	Update(ctx context.Context, device Device) error
	Transfer(ctx context.Context, transfer DeviceTransfer) error
	// IncrementSessions adds n to the session counter in a single statement.
	IncrementSessions(ctx context.Context, id string, n int, syncedAt time.Time) error
	Count(ctx context.Context, filter DeviceCountFilter) (int, error)
	FirmwareDistribution(ctx context.Context) (map[string]int, error)
}

// DeviceFilter defines criteria for listing all devices.
type DeviceFilter struct {
	Search string // case-insensitive match on serial number or model
	Limit  int
	Offset int
}

// DeviceCountFilter defines criteria for counting devices.
type DeviceCountFilter struct {
	UserID     string
	ActiveOnly bool
	Since      *time.Time
}

// SessionStore manages usage sessions and their battery samples.
type SessionStore interface {
	// InsertIfAbsent stores the session unless its ID already exists.
	// It reports whether a row was inserted.
	InsertIfAbsent(ctx context.Context, session UsageSession) (bool, error)
	InsertBatterySamples(ctx context.Context, samples []BatterySample) error
	BatterySamples(ctx context.Context, sessionID string) ([]BatterySample, error)
	Get(ctx context.Context, id string) (*UsageSession, error)
	// Delete removes an owned session together with its samples.
	Delete(ctx context.Context, id, userID string) error
	List(ctx context.Context, filter SessionFilter) ([]UsageSession, int, error)
	Count(ctx context.Context, filter SessionFilter) (int, error)
	CountUsers(ctx context.Context, since time.Time) (int, error)
	// Averages returns the mean working duration and completion percent of all sessions.
	Averages(ctx context.Context) (avgDuration, avgCompletion float64, err error)
	DayKeys(ctx context.Context, since time.Time) ([]DayKey, error)
}

// SessionFilter defines criteria for querying sessions. Sessions are
// returned newest first; a zero Limit returns every match.
type SessionFilter struct {
	UserID   string
	DeviceID string
	Since    *time.Time // inclusive
	Before   *time.Time // exclusive
	Limit    int
	Offset   int
}

// StatsStore manages derived daily statistics.
type StatsStore interface {
	Upsert(ctx context.Context, stats DailyStatistics) error
	List(ctx context.Context, filter StatsFilter) ([]DailyStatistics, error)
}

// StatsFilter selects daily rows by inclusive date range (YYYY-MM-DD).
type StatsFilter struct {
	UserID   string
	DeviceID string
	From     string
	To       string
}

// FirmwareStore manages firmware versions.
type FirmwareStore interface {
	Create(ctx context.Context, fw FirmwareVersion) error
	Get(ctx context.Context, id string) (*FirmwareVersion, error)
	// Latest returns the active version with the highest version code.
	Latest(ctx context.Context) (*FirmwareVersion, error)
	List(ctx context.Context) ([]FirmwareVersion, error)
}

// RolloutStore manages firmware rollouts.
type RolloutStore interface {
	Create(ctx context.Context, rollout FirmwareRollout) error
	Get(ctx context.Context, id string) (*FirmwareRollout, error)
	Update(ctx context.Context, rollout FirmwareRollout) error
	List(ctx context.Context) ([]RolloutView, error)
	// LatestActive returns the newest rollout in the active state for a firmware version.
	LatestActive(ctx context.Context, firmwareVersionID string) (*FirmwareRollout, error)
}

// AnnouncementStore manages announcements.
type AnnouncementStore interface {
	Create(ctx context.Context, a Announcement) error
	Get(ctx context.Context, id string) (*Announcement, error)
	Update(ctx context.Context, a Announcement) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, publishedOnly bool) ([]Announcement, error)
}

// AdminLogStore is the append-only audit trail.
type AdminLogStore interface {
	Append(ctx context.Context, entry AdminLog) error
	List(ctx context.Context, filter AdminLogFilter) ([]AdminLog, int, error)
}

// AdminLogFilter defines criteria for querying the audit trail.
type AdminLogFilter struct {
	Action     string // case-insensitive substring
	TargetType string
	AdminID    string
	Limit      int
	Offset     int
}

// GoalStore manages user goals.
type GoalStore interface {
	Create(ctx context.Context, goal Goal) error
	Get(ctx context.Context, id string) (*Goal, error)
	Update(ctx context.Context, goal Goal) error
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]Goal, error)
}
