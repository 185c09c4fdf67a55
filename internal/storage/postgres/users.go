package postgres

import (
	"context"
	"time"

	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, name, password_hash, role, is_active, created_at, updated_at, last_login_at`

type userStore struct {
	pool *pgxpool.Pool
}

func scanUser(row pgx.Row) (*storage.User, error) {
	var u storage.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (us *userStore) Create(ctx context.Context, user storage.User) error {
	_, err := us.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.Role, user.IsActive, user.CreatedAt, user.UpdatedAt, user.LastLoginAt,
	)
	return mapError(err)
}

func (us *userStore) Get(ctx context.Context, id string) (*storage.User, error) {
	return scanUser(us.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (us *userStore) GetByEmail(ctx context.Context, email string) (*storage.User, error) {
	return scanUser(us.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (us *userStore) Update(ctx context.Context, user storage.User) error {
	return affected(us.pool.Exec(ctx,
		`UPDATE users
		 SET email = $2, name = $3, password_hash = $4, role = $5, is_active = $6, updated_at = $7, last_login_at = $8
		 WHERE id = $1`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.Role, user.IsActive, user.UpdatedAt, user.LastLoginAt,
	))
}

func (us *userStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return affected(us.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at))
}

func (us *userStore) List(ctx context.Context, filter storage.UserFilter) ([]storage.User, int, error) {
	var w where
	if filter.Search != "" {
		w.add(`(email ILIKE $%d OR name ILIKE $%[1]d)`, storage.LikePattern(filter.Search))
	}

	var total int
	if err := us.pool.QueryRow(ctx, `SELECT count(*) FROM users`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	rows, err := us.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users`+w.String()+` ORDER BY created_at DESC, id DESC`+page(filter.Limit, filter.Offset),
		w.args...,
	)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	users := []storage.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (us *userStore) Count(ctx context.Context, since *time.Time) (int, error) {
	var w where
	if since != nil {
		w.add(`created_at >= $%d`, *since)
	}
	var count int
	err := us.pool.QueryRow(ctx, `SELECT count(*) FROM users`+w.String(), w.args...).Scan(&count)
	return count, mapError(err)
}

func (us *userStore) HasAdmin(ctx context.Context) (bool, error) {
	var exists bool
	err := us.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE role = $1)`, storage.RoleAdmin).Scan(&exists)
	return exists, mapError(err)
}
