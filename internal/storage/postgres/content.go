package postgres

import (
	"context"

	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const announcementColumns = `id, title, content, type, is_published, published_at, created_by, created_at, updated_at`

type announcementStore struct {
	pool *pgxpool.Pool
}

func scanAnnouncement(row pgx.Row) (*storage.Announcement, error) {
	var a storage.Announcement
	err := row.Scan(&a.ID, &a.Title, &a.Content, &a.Type, &a.IsPublished, &a.PublishedAt, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

func (as *announcementStore) Create(ctx context.Context, a storage.Announcement) error {
	_, err := as.pool.Exec(ctx,
		`INSERT INTO announcements (`+announcementColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.Title, a.Content, a.Type, a.IsPublished, a.PublishedAt, a.CreatedBy, a.CreatedAt, a.UpdatedAt,
	)
	return mapError(err)
}

func (as *announcementStore) Get(ctx context.Context, id string) (*storage.Announcement, error) {
	return scanAnnouncement(as.pool.QueryRow(ctx, `SELECT `+announcementColumns+` FROM announcements WHERE id = $1`, id))
}

func (as *announcementStore) Update(ctx context.Context, a storage.Announcement) error {
	return affected(as.pool.Exec(ctx,
		`UPDATE announcements
		 SET title = $2, content = $3, type = $4, is_published = $5, published_at = $6, updated_at = $7
		 WHERE id = $1`,
		a.ID, a.Title, a.Content, a.Type, a.IsPublished, a.PublishedAt, a.UpdatedAt,
	))
}

func (as *announcementStore) Delete(ctx context.Context, id string) error {
	return affected(as.pool.Exec(ctx, `DELETE FROM announcements WHERE id = $1`, id))
}

func (as *announcementStore) List(ctx context.Context, publishedOnly bool) ([]storage.Announcement, error) {
	query := `SELECT ` + announcementColumns + ` FROM announcements ORDER BY created_at DESC, id DESC`
	if publishedOnly {
		query = `SELECT ` + announcementColumns + ` FROM announcements WHERE is_published
			ORDER BY COALESCE(published_at, created_at) DESC, id DESC`
	}

	rows, err := as.pool.Query(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	announcements := []storage.Announcement{}
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		announcements = append(announcements, *a)
	}
	return announcements, rows.Err()
}

const adminLogColumns = `id, admin_id, action, target_type, target_id, details, ip_address, created_at`

type adminLogStore struct {
	pool *pgxpool.Pool
}

func (ls *adminLogStore) Append(ctx context.Context, e storage.AdminLog) error {
	_, err := ls.pool.Exec(ctx,
		`INSERT INTO admin_logs (`+adminLogColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.AdminID, e.Action, e.TargetType, e.TargetID, e.Details, e.IPAddress, e.CreatedAt,
	)
	return mapError(err)
}

func (ls *adminLogStore) List(ctx context.Context, filter storage.AdminLogFilter) ([]storage.AdminLog, int, error) {
	var w where
	if filter.Action != "" {
		w.add(`action ILIKE $%d`, storage.LikePattern(filter.Action))
	}
	if filter.TargetType != "" {
		w.add(`target_type = $%d`, filter.TargetType)
	}
	if filter.AdminID != "" {
		w.add(`admin_id = $%d`, filter.AdminID)
	}

	var total int
	if err := ls.pool.QueryRow(ctx, `SELECT count(*) FROM admin_logs`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	rows, err := ls.pool.Query(ctx,
		`SELECT `+adminLogColumns+` FROM admin_logs`+w.String()+` ORDER BY created_at DESC, id DESC`+page(filter.Limit, filter.Offset),
		w.args...,
	)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	entries := []storage.AdminLog{}
	for rows.Next() {
		var e storage.AdminLog
		if err := rows.Scan(&e.ID, &e.AdminID, &e.Action, &e.TargetType, &e.TargetID, &e.Details, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
