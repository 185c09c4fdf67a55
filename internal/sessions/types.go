package sessions

import (
	"time"

	"github.com/goodtune/dtxcloud/internal/storage"
)

// Batch is a validated upload request.
type Batch struct {
	DeviceID string `json:"device_id" validate:"required,uuid"`
	Sessions []Item `json:"sessions" validate:"required,min=1,max=100,dive"`
}

// Item is one session as reported by the device.
type Item struct {
	ID                    string     `json:"id" validate:"required,uuid"`
	ShotType              *int       `json:"shot_type" validate:"required,min=0,max=2"`
	DeviceMode            *int       `json:"device_mode" validate:"required,min=1"`
	Level                 int        `json:"level" validate:"min=1,max=3"`
	LEDPattern            *int       `json:"led_pattern"`
	StartTime             time.Time  `json:"start_time" validate:"required,utc"`
	EndTime               *time.Time `json:"end_time" validate:"omitempty,utc"`
	WorkingDuration       int        `json:"working_duration" validate:"min=0"`
	PauseDuration         int        `json:"pause_duration" validate:"min=0"`
	PauseCount            int        `json:"pause_count" validate:"min=0"`
	TerminationReason     *int       `json:"termination_reason"`
	CompletionPercent     int        `json:"completion_percent" validate:"min=0,max=100"`
	HadTemperatureWarning bool       `json:"had_temperature_warning"`
	HadBatteryWarning     bool       `json:"had_battery_warning"`
	BatteryStart          *int       `json:"battery_start"`
	BatteryEnd            *int       `json:"battery_end"`
	TimeSynced            *bool      `json:"time_synced"`
	BatterySamples        []Sample   `json:"battery_samples" validate:"omitempty,dive"`
}

// Sample is a battery reading within an uploaded session.
type Sample struct {
	ElapsedSeconds int `json:"elapsed_seconds" validate:"min=0"`
	VoltageMV      int `json:"voltage_mv" validate:"min=0,max=5000"`
}

// Result tallies the outcome of an upload.
type Result struct {
	Uploaded   int `json:"uploaded"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// Session converts the item into a stored session owned by userID.
func (it Item) Session(userID, deviceID string, now time.Time) storage.UsageSession {
	timeSynced := true
	if it.TimeSynced != nil {
		timeSynced = *it.TimeSynced
	}

	var shotType, deviceMode int
	if it.ShotType != nil {
		shotType = *it.ShotType
	}
	if it.DeviceMode != nil {
		deviceMode = *it.DeviceMode
	}

	var end *time.Time
	if it.EndTime != nil {
		t := it.EndTime.UTC()
		end = &t
	}

	return storage.UsageSession{
		ID:                    it.ID,
		DeviceID:              deviceID,
		UserID:                userID,
		ShotType:              shotType,
		DeviceMode:            deviceMode,
		Level:                 it.Level,
		LEDPattern:            it.LEDPattern,
		StartTime:             it.StartTime.UTC(),
		EndTime:               end,
		WorkingDuration:       it.WorkingDuration,
		PauseDuration:         it.PauseDuration,
		PauseCount:            it.PauseCount,
		TerminationReason:     it.TerminationReason,
		CompletionPercent:     it.CompletionPercent,
		HadTemperatureWarning: it.HadTemperatureWarning,
		HadBatteryWarning:     it.HadBatteryWarning,
		BatteryStart:          it.BatteryStart,
		BatteryEnd:            it.BatteryEnd,
		SyncStatus:            storage.SyncStatusSynced,
		TimeSynced:            timeSynced,
		CreatedAt:             now,
	}
}

// Samples converts the item's battery readings into stored samples.
func (it Item) Samples() []storage.BatterySample {
	samples := make([]storage.BatterySample, 0, len(it.BatterySamples))
	for _, s := range it.BatterySamples {
		samples = append(samples, storage.BatterySample{
			SessionID:      it.ID,
			ElapsedSeconds: s.ElapsedSeconds,
			VoltageMV:      s.VoltageMV,
		})
	}
	return samples
}
