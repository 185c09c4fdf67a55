package postgres

import (
	"context"

	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

type statsStore struct {
	pool *pgxpool.Pool
}

// Upsert replaces the row for (user, device, date) wholesale.
func (st *statsStore) Upsert(ctx context.Context, d storage.DailyStatistics) error {
	_, err := st.pool.Exec(ctx,
		`INSERT INTO daily_statistics (user_id, device_id, stat_date, total_sessions, total_duration,
		     ushot_sessions, ushot_duration, eshot_sessions, eshot_duration, led_sessions, led_duration,
		     mode_breakdown, level_breakdown, warning_count, updated_at)
		 VALUES ($1, $2, $3::text::date, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (user_id, device_id, stat_date) DO UPDATE
		 SET total_sessions = EXCLUDED.total_sessions,
		     total_duration = EXCLUDED.total_duration,
		     ushot_sessions = EXCLUDED.ushot_sessions,
		     ushot_duration = EXCLUDED.ushot_duration,
		     eshot_sessions = EXCLUDED.eshot_sessions,
		     eshot_duration = EXCLUDED.eshot_duration,
		     led_sessions = EXCLUDED.led_sessions,
		     led_duration = EXCLUDED.led_duration,
		     mode_breakdown = EXCLUDED.mode_breakdown,
		     level_breakdown = EXCLUDED.level_breakdown,
		     warning_count = EXCLUDED.warning_count,
		     updated_at = EXCLUDED.updated_at`,
		d.UserID, d.DeviceID, d.StatDate, d.TotalSessions, d.TotalDuration,
		d.UShotSessions, d.UShotDuration, d.EShotSessions, d.EShotDuration, d.LEDSessions, d.LEDDuration,
		breakdown(d.ModeBreakdown), breakdown(d.LevelBreakdown), d.WarningCount, d.UpdatedAt,
	)
	return mapError(err)
}

func breakdown(m map[int]int) map[int]int {
	if m == nil {
		return map[int]int{}
	}
	return m
}

func (st *statsStore) List(ctx context.Context, filter storage.StatsFilter) ([]storage.DailyStatistics, error) {
	var w where
	if filter.UserID != "" {
		w.add(`user_id = $%d`, filter.UserID)
	}
	if filter.DeviceID != "" {
		w.add(`device_id = $%d`, filter.DeviceID)
	}
	if filter.From != "" {
		w.add(`stat_date >= $%d::text::date`, filter.From)
	}
	if filter.To != "" {
		w.add(`stat_date <= $%d::text::date`, filter.To)
	}

	rows, err := st.pool.Query(ctx,
		`SELECT user_id, device_id, to_char(stat_date, 'YYYY-MM-DD'), total_sessions, total_duration,
		        ushot_sessions, ushot_duration, eshot_sessions, eshot_duration, led_sessions, led_duration,
		        mode_breakdown, level_breakdown, warning_count, updated_at
		 FROM daily_statistics`+w.String()+`
		 ORDER BY stat_date, device_id`,
		w.args...,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := []storage.DailyStatistics{}
	for rows.Next() {
		var d storage.DailyStatistics
		err := rows.Scan(&d.UserID, &d.DeviceID, &d.StatDate, &d.TotalSessions, &d.TotalDuration,
			&d.UShotSessions, &d.UShotDuration, &d.EShotSessions, &d.EShotDuration, &d.LEDSessions, &d.LEDDuration,
			&d.ModeBreakdown, &d.LevelBreakdown, &d.WarningCount, &d.UpdatedAt)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
