package storage

import "time"

// Role distinguishes administrators from ordinary users.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is an account holder.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// DefaultModelName is recorded when a device registers without a model.
const DefaultModelName = "DualTetraX"

// Device is a registered handset.
type Device struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	SerialNumber    string     `json:"serial_number"`
	ModelName       string     `json:"model_name"`
	Nickname        *string    `json:"nickname"`
	FirmwareVersion *string    `json:"firmware_version"`
	BLEMacAddress   *string    `json:"ble_mac_address"`
	IsActive        bool       `json:"is_active"`
	TotalSessions   int        `json:"total_sessions"`
	LastSyncedAt    *time.Time `json:"last_synced_at"`
	RegisteredAt    time.Time  `json:"registered_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// DeviceTransfer records a change of device ownership.
type DeviceTransfer struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// TransferStatusPending is the status recorded when a transfer is requested.
const TransferStatusPending = "pending"

// Shot types reported by the device.
const (
	ShotTypeUShot = 0
	ShotTypeEShot = 1
	ShotTypeLED   = 2
)

// SyncStatusSynced marks a session that reached the cloud.
const SyncStatusSynced = 2

// UsageSession is one activation of a device.
type UsageSession struct {
	ID                    string     `json:"id"`
	DeviceID              string     `json:"device_id"`
	UserID                string     `json:"user_id"`
	ShotType              int        `json:"shot_type"`
	DeviceMode            int        `json:"device_mode"`
	Level                 int        `json:"level"`
	LEDPattern            *int       `json:"led_pattern"`
	StartTime             time.Time  `json:"start_time"`
	EndTime               *time.Time `json:"end_time"`
	WorkingDuration       int        `json:"working_duration"`
	PauseDuration         int        `json:"pause_duration"`
	PauseCount            int        `json:"pause_count"`
	TerminationReason     *int       `json:"termination_reason"`
	CompletionPercent     int        `json:"completion_percent"`
	HadTemperatureWarning bool       `json:"had_temperature_warning"`
	HadBatteryWarning     bool       `json:"had_battery_warning"`
	BatteryStart          *int       `json:"battery_start"`
	BatteryEnd            *int       `json:"battery_end"`
	SyncStatus            int        `json:"sync_status"`
	TimeSynced            bool       `json:"time_synced"`
	CreatedAt             time.Time  `json:"created_at"`
}

// BatterySample is a voltage reading taken during a session.
type BatterySample struct {
	SessionID      string `json:"session_id"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	VoltageMV      int    `json:"voltage_mv"`
}

// DailyStatistics is the per-day summary derived from session rows.
type DailyStatistics struct {
	UserID         string      `json:"user_id"`
	DeviceID       string      `json:"device_id"`
	StatDate       string      `json:"stat_date"`
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
	UpdatedAt      time.Time   `json:"updated_at"`
}

// DayKey identifies the inputs of one daily aggregate.
type DayKey struct {
	UserID   string
	DeviceID string
	Date     string
}

// FirmwareVersion is a published build.
type FirmwareVersion struct {
	ID             string    `json:"id"`
	Version        string    `json:"version"`
	VersionCode    int       `json:"version_code"`
	Changelog      *string   `json:"changelog"`
	BinaryURL      string    `json:"binary_url"`
	BinarySize     *int64    `json:"binary_size"`
	BinaryChecksum *string   `json:"binary_checksum"`
	MinVersionCode *int      `json:"min_version_code"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// RolloutStatus is the lifecycle state of a rollout.
type RolloutStatus string

const (
	RolloutDraft     RolloutStatus = "draft"
	RolloutActive    RolloutStatus = "active"
	RolloutPaused    RolloutStatus = "paused"
	RolloutCompleted RolloutStatus = "completed"
)

// FirmwareRollout gates one firmware version to a percentage of users.
type FirmwareRollout struct {
	ID                string        `json:"id"`
	FirmwareVersionID string        `json:"firmware_version_id"`
	TargetPercentage  int           `json:"target_percentage"`
	Status            RolloutStatus `json:"status"`
	Notes             *string       `json:"notes"`
	CreatedBy         string        `json:"created_by"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// RolloutView is a rollout joined with its firmware identity.
type RolloutView struct {
	FirmwareRollout
	FirmwareVersion     string `json:"firmware_version"`
	FirmwareVersionCode int    `json:"firmware_version_code"`
}

// Announcement is a notice shown to users once published.
type Announcement struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Type        string     `json:"type"`
	IsPublished bool       `json:"is_published"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AdminLog is one audited administrative action.
type AdminLog struct {
	ID         string         `json:"id"`
	AdminID    string         `json:"admin_id"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   *string        `json:"target_id"`
	Details    map[string]any `json:"details"`
	IPAddress  *string        `json:"ip_address"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Goal is a usage target set by a user.
type Goal struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	GoalType      string    `json:"goal_type"`
	TargetMinutes int       `json:"target_minutes"`
	StartDate     string    `json:"start_date"`
	EndDate       string    `json:"end_date"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}
