package postgres

import (
	"context"

	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const firmwareColumns = `id, version, version_code, changelog, binary_url, binary_size, binary_checksum,
	min_version_code, is_active, created_at`

type firmwareStore struct {
	pool *pgxpool.Pool
}

func scanFirmware(row pgx.Row) (*storage.FirmwareVersion, error) {
	var f storage.FirmwareVersion
	err := row.Scan(&f.ID, &f.Version, &f.VersionCode, &f.Changelog, &f.BinaryURL, &f.BinarySize, &f.BinaryChecksum,
		&f.MinVersionCode, &f.IsActive, &f.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &f, nil
}

func (fs *firmwareStore) Create(ctx context.Context, f storage.FirmwareVersion) error {
	_, err := fs.pool.Exec(ctx,
		`INSERT INTO firmware_versions (`+firmwareColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.ID, f.Version, f.VersionCode, f.Changelog, f.BinaryURL, f.BinarySize, f.BinaryChecksum,
		f.MinVersionCode, f.IsActive, f.CreatedAt,
	)
	return mapError(err)
}

func (fs *firmwareStore) Get(ctx context.Context, id string) (*storage.FirmwareVersion, error) {
	return scanFirmware(fs.pool.QueryRow(ctx, `SELECT `+firmwareColumns+` FROM firmware_versions WHERE id = $1`, id))
}

func (fs *firmwareStore) Latest(ctx context.Context) (*storage.FirmwareVersion, error) {
	return scanFirmware(fs.pool.QueryRow(ctx,
		`SELECT `+firmwareColumns+` FROM firmware_versions WHERE is_active ORDER BY version_code DESC LIMIT 1`))
}

func (fs *firmwareStore) List(ctx context.Context) ([]storage.FirmwareVersion, error) {
	rows, err := fs.pool.Query(ctx, `SELECT `+firmwareColumns+` FROM firmware_versions ORDER BY version_code DESC`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	versions := []storage.FirmwareVersion{}
	for rows.Next() {
		f, err := scanFirmware(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *f)
	}
	return versions, rows.Err()
}

const rolloutColumns = `r.id, r.firmware_version_id, r.target_percentage, r.status, r.notes, r.created_by, r.created_at, r.updated_at`

type rolloutStore struct {
	pool *pgxpool.Pool
}

func scanRollout(row pgx.Row) (*storage.FirmwareRollout, error) {
	var r storage.FirmwareRollout
	err := row.Scan(&r.ID, &r.FirmwareVersionID, &r.TargetPercentage, &r.Status, &r.Notes, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &r, nil
}

func (rs *rolloutStore) Create(ctx context.Context, r storage.FirmwareRollout) error {
	_, err := rs.pool.Exec(ctx,
		`INSERT INTO firmware_rollouts (id, firmware_version_id, target_percentage, status, notes, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.FirmwareVersionID, r.TargetPercentage, r.Status, r.Notes, r.CreatedBy, r.CreatedAt, r.UpdatedAt,
	)
	return mapError(err)
}

func (rs *rolloutStore) Get(ctx context.Context, id string) (*storage.FirmwareRollout, error) {
	return scanRollout(rs.pool.QueryRow(ctx, `SELECT `+rolloutColumns+` FROM firmware_rollouts r WHERE r.id = $1`, id))
}

func (rs *rolloutStore) Update(ctx context.Context, r storage.FirmwareRollout) error {
	return affected(rs.pool.Exec(ctx,
		`UPDATE firmware_rollouts SET target_percentage = $2, status = $3, notes = $4, updated_at = $5 WHERE id = $1`,
		r.ID, r.TargetPercentage, r.Status, r.Notes, r.UpdatedAt,
	))
}

func (rs *rolloutStore) List(ctx context.Context) ([]storage.RolloutView, error) {
	rows, err := rs.pool.Query(ctx,
		`SELECT `+rolloutColumns+`, f.version, f.version_code
		 FROM firmware_rollouts r JOIN firmware_versions f ON f.id = r.firmware_version_id
		 ORDER BY r.created_at DESC, r.id DESC`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	views := []storage.RolloutView{}
	for rows.Next() {
		var v storage.RolloutView
		err := rows.Scan(&v.ID, &v.FirmwareVersionID, &v.TargetPercentage, &v.Status, &v.Notes, &v.CreatedBy,
			&v.CreatedAt, &v.UpdatedAt, &v.FirmwareVersion, &v.FirmwareVersionCode)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

func (rs *rolloutStore) LatestActive(ctx context.Context, firmwareVersionID string) (*storage.FirmwareRollout, error) {
	return scanRollout(rs.pool.QueryRow(ctx,
		`SELECT `+rolloutColumns+` FROM firmware_rollouts r
		 WHERE r.firmware_version_id = $1 AND r.status = $2
		 ORDER BY r.created_at DESC, r.id DESC LIMIT 1`,
		firmwareVersionID, storage.RolloutActive,
	))
}
