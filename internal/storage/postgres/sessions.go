package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id, device_id, user_id, shot_type, device_mode, level, led_pattern, start_time, end_time,
	working_duration, pause_duration, pause_count, termination_reason, completion_percent,
	had_temperature_warning, had_battery_warning, battery_start, battery_end, sync_status, time_synced, created_at`

type sessionStore struct {
	pool *pgxpool.Pool
}

func scanSession(row pgx.Row) (*storage.UsageSession, error) {
	var s storage.UsageSession
	err := row.Scan(&s.ID, &s.DeviceID, &s.UserID, &s.ShotType, &s.DeviceMode, &s.Level, &s.LEDPattern, &s.StartTime, &s.EndTime,
		&s.WorkingDuration, &s.PauseDuration, &s.PauseCount, &s.TerminationReason, &s.CompletionPercent,
		&s.HadTemperatureWarning, &s.HadBatteryWarning, &s.BatteryStart, &s.BatteryEnd, &s.SyncStatus, &s.TimeSynced, &s.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	s.StartTime = s.StartTime.UTC()
	return &s, nil
}

// InsertIfAbsent relies on the primary key: a conflicting insert returns no
// row, which distinguishes a duplicate from a stored session.
func (ss *sessionStore) InsertIfAbsent(ctx context.Context, s storage.UsageSession) (bool, error) {
	var id string
	err := ss.pool.QueryRow(ctx,
		`INSERT INTO usage_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		 ON CONFLICT (id) DO NOTHING
		 RETURNING id`,
		s.ID, s.DeviceID, s.UserID, s.ShotType, s.DeviceMode, s.Level, s.LEDPattern, s.StartTime, s.EndTime,
		s.WorkingDuration, s.PauseDuration, s.PauseCount, s.TerminationReason, s.CompletionPercent,
		s.HadTemperatureWarning, s.HadBatteryWarning, s.BatteryStart, s.BatteryEnd, s.SyncStatus, s.TimeSynced, s.CreatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapError(err)
	}
	return true, nil
}

func (ss *sessionStore) InsertBatterySamples(ctx context.Context, samples []storage.BatterySample) error {
	if len(samples) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, b := range samples {
		batch.Queue(`INSERT INTO battery_samples (session_id, elapsed_seconds, voltage_mv) VALUES ($1, $2, $3)`,
			b.SessionID, b.ElapsedSeconds, b.VoltageMV)
	}
	return mapError(ss.pool.SendBatch(ctx, batch).Close())
}

func (ss *sessionStore) BatterySamples(ctx context.Context, sessionID string) ([]storage.BatterySample, error) {
	rows, err := ss.pool.Query(ctx,
		`SELECT session_id, elapsed_seconds, voltage_mv FROM battery_samples
		 WHERE session_id = $1 ORDER BY elapsed_seconds`, sessionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	samples := []storage.BatterySample{}
	for rows.Next() {
		var b storage.BatterySample
		if err := rows.Scan(&b.SessionID, &b.ElapsedSeconds, &b.VoltageMV); err != nil {
			return nil, err
		}
		samples = append(samples, b)
	}
	return samples, rows.Err()
}

func (ss *sessionStore) Get(ctx context.Context, id string) (*storage.UsageSession, error) {
	return scanSession(ss.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM usage_sessions WHERE id = $1`, id))
}

// Delete removes the session; battery samples cascade.
func (ss *sessionStore) Delete(ctx context.Context, id, userID string) error {
	return affected(ss.pool.Exec(ctx, `DELETE FROM usage_sessions WHERE id = $1 AND user_id = $2`, id, userID))
}

func sessionWhere(filter storage.SessionFilter) *where {
	w := &where{}
	if filter.UserID != "" {
		w.add(`user_id = $%d`, filter.UserID)
	}
	if filter.DeviceID != "" {
		w.add(`device_id = $%d`, filter.DeviceID)
	}
	if filter.Since != nil {
		w.add(`start_time >= $%d`, *filter.Since)
	}
	if filter.Before != nil {
		w.add(`start_time < $%d`, *filter.Before)
	}
	return w
}

func (ss *sessionStore) List(ctx context.Context, filter storage.SessionFilter) ([]storage.UsageSession, int, error) {
	w := sessionWhere(filter)

	total, err := ss.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	rows, err := ss.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM usage_sessions`+w.String()+
			` ORDER BY start_time DESC, created_at DESC, id DESC`+page(filter.Limit, filter.Offset),
		w.args...,
	)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	sessions := []storage.UsageSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

func (ss *sessionStore) Count(ctx context.Context, filter storage.SessionFilter) (int, error) {
	w := sessionWhere(filter)
	var count int
	err := ss.pool.QueryRow(ctx, `SELECT count(*) FROM usage_sessions`+w.String(), w.args...).Scan(&count)
	return count, mapError(err)
}

func (ss *sessionStore) CountUsers(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := ss.pool.QueryRow(ctx,
		`SELECT count(DISTINCT user_id) FROM usage_sessions WHERE start_time >= $1`, since,
	).Scan(&count)
	return count, mapError(err)
}

func (ss *sessionStore) Averages(ctx context.Context) (float64, float64, error) {
	var avgDuration, avgCompletion float64
	err := ss.pool.QueryRow(ctx,
		`SELECT COALESCE(avg(working_duration), 0)::float8, COALESCE(avg(completion_percent), 0)::float8
		 FROM usage_sessions`,
	).Scan(&avgDuration, &avgCompletion)
	return avgDuration, avgCompletion, mapError(err)
}

func (ss *sessionStore) DayKeys(ctx context.Context, since time.Time) ([]storage.DayKey, error) {
	rows, err := ss.pool.Query(ctx,
		`SELECT DISTINCT user_id::text, device_id::text,
		        to_char(start_time AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS stat_date
		 FROM usage_sessions
		 WHERE start_time >= $1
		 ORDER BY stat_date, user_id::text, device_id::text`, since)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	keys := []storage.DayKey{}
	for rows.Next() {
		var k storage.DayKey
		if err := rows.Scan(&k.UserID, &k.DeviceID, &k.Date); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
