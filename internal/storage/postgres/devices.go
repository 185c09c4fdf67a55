package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const deviceColumns = `id, user_id, serial_number, model_name, nickname, firmware_version, ble_mac_address,
	is_active, total_sessions, last_synced_at, registered_at, updated_at`

type deviceStore struct {
	pool *pgxpool.Pool
}

func scanDevice(row pgx.Row) (*storage.Device, error) {
	var d storage.Device
	err := row.Scan(&d.ID, &d.UserID, &d.SerialNumber, &d.ModelName, &d.Nickname, &d.FirmwareVersion, &d.BLEMacAddress,
		&d.IsActive, &d.TotalSessions, &d.LastSyncedAt, &d.RegisteredAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

func (ds *deviceStore) queryDevices(ctx context.Context, sql string, args ...any) ([]storage.Device, error) {
	rows, err := ds.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	devices := []storage.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

func (ds *deviceStore) Create(ctx context.Context, d storage.Device) error {
	_, err := ds.pool.Exec(ctx,
		`INSERT INTO devices (`+deviceColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.UserID, d.SerialNumber, d.ModelName, d.Nickname, d.FirmwareVersion, d.BLEMacAddress,
		d.IsActive, d.TotalSessions, d.LastSyncedAt, d.RegisteredAt, d.UpdatedAt,
	)
	return mapError(err)
}

func (ds *deviceStore) Get(ctx context.Context, id string) (*storage.Device, error) {
	return scanDevice(ds.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
}

func (ds *deviceStore) GetOwned(ctx context.Context, id, userID string) (*storage.Device, error) {
	return scanDevice(ds.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1 AND user_id = $2`, id, userID))
}

func (ds *deviceStore) ListByUser(ctx context.Context, userID string) ([]storage.Device, error) {
	return ds.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = $1 ORDER BY registered_at DESC, id DESC`, userID)
}

func (ds *deviceStore) List(ctx context.Context, filter storage.DeviceFilter) ([]storage.Device, int, error) {
	var w where
	if filter.Search != "" {
		w.add(`(serial_number ILIKE $%d OR model_name ILIKE $%[1]d)`, storage.LikePattern(filter.Search))
	}

	var total int
	if err := ds.pool.QueryRow(ctx, `SELECT count(*) FROM devices`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	devices, err := ds.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices`+w.String()+` ORDER BY registered_at DESC, id DESC`+page(filter.Limit, filter.Offset),
		w.args...,
	)
	if err != nil {
		return nil, 0, err
	}
	return devices, total, nil
}

func (ds *deviceStore) Update(ctx context.Context, d storage.Device) error {
	return affected(ds.pool.Exec(ctx,
		`UPDATE devices
		 SET user_id = $2, serial_number = $3, model_name = $4, nickname = $5, firmware_version = $6,
		     ble_mac_address = $7, is_active = $8, total_sessions = $9, last_synced_at = $10, updated_at = $11
		 WHERE id = $1`,
		d.ID, d.UserID, d.SerialNumber, d.ModelName, d.Nickname, d.FirmwareVersion,
		d.BLEMacAddress, d.IsActive, d.TotalSessions, d.LastSyncedAt, d.UpdatedAt,
	))
}

// Transfer records the transfer and reassigns the device in one transaction.
func (ds *deviceStore) Transfer(ctx context.Context, t storage.DeviceTransfer) error {
	tx, err := ds.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE devices SET user_id = $3, updated_at = $4 WHERE id = $1 AND user_id = $2`,
		t.DeviceID, t.FromUserID, t.ToUserID, t.CreatedAt,
	)
	if err := affected(tag, err); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO device_transfers (id, device_id, from_user_id, to_user_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.DeviceID, t.FromUserID, t.ToUserID, t.Status, t.CreatedAt,
	)
	if err != nil {
		return mapError(err)
	}

	return tx.Commit(ctx)
}

func (ds *deviceStore) IncrementSessions(ctx context.Context, id string, n int, syncedAt time.Time) error {
	return affected(ds.pool.Exec(ctx,
		`UPDATE devices
		 SET total_sessions = total_sessions + $2, last_synced_at = $3, updated_at = $3
		 WHERE id = $1`,
		id, n, syncedAt,
	))
}

func (ds *deviceStore) Count(ctx context.Context, filter storage.DeviceCountFilter) (int, error) {
	var w where
	if filter.UserID != "" {
		w.add(`user_id = $%d`, filter.UserID)
	}
	if filter.ActiveOnly {
		w.conds = append(w.conds, `is_active`)
	}
	if filter.Since != nil {
		w.add(`registered_at >= $%d`, *filter.Since)
	}

	var count int
	err := ds.pool.QueryRow(ctx, `SELECT count(*) FROM devices`+w.String(), w.args...).Scan(&count)
	return count, mapError(err)
}

func (ds *deviceStore) FirmwareDistribution(ctx context.Context) (map[string]int, error) {
	rows, err := ds.pool.Query(ctx,
		`SELECT COALESCE(NULLIF(firmware_version, ''), 'unknown') AS version, count(*)
		 FROM devices WHERE is_active
		 GROUP BY version`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	dist := make(map[string]int)
	for rows.Next() {
		var (
			version string
			count   int
		)
		if err := rows.Scan(&version, &count); err != nil {
			return nil, fmt.Errorf("scan firmware distribution: %w", err)
		}
		dist[version] = count
	}
	return dist, rows.Err()
}
