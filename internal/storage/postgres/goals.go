package postgres

import (
	"context"

	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const goalColumns = `id, user_id, goal_type, target_minutes, to_char(start_date, 'YYYY-MM-DD'),
	to_char(end_date, 'YYYY-MM-DD'), is_active, created_at`

type goalStore struct {
	pool *pgxpool.Pool
}

func scanGoal(row pgx.Row) (*storage.Goal, error) {
	var g storage.Goal
	err := row.Scan(&g.ID, &g.UserID, &g.GoalType, &g.TargetMinutes, &g.StartDate, &g.EndDate, &g.IsActive, &g.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &g, nil
}

func (gs *goalStore) Create(ctx context.Context, g storage.Goal) error {
	_, err := gs.pool.Exec(ctx,
		`INSERT INTO user_goals (id, user_id, goal_type, target_minutes, start_date, end_date, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5::text::date, $6::text::date, $7, $8)`,
		g.ID, g.UserID, g.GoalType, g.TargetMinutes, g.StartDate, g.EndDate, g.IsActive, g.CreatedAt,
	)
	return mapError(err)
}

func (gs *goalStore) Get(ctx context.Context, id string) (*storage.Goal, error) {
	return scanGoal(gs.pool.QueryRow(ctx, `SELECT `+goalColumns+` FROM user_goals WHERE id = $1`, id))
}

func (gs *goalStore) Update(ctx context.Context, g storage.Goal) error {
	return affected(gs.pool.Exec(ctx,
		`UPDATE user_goals
		 SET goal_type = $2, target_minutes = $3, start_date = $4::text::date, end_date = $5::text::date, is_active = $6
		 WHERE id = $1`,
		g.ID, g.GoalType, g.TargetMinutes, g.StartDate, g.EndDate, g.IsActive,
	))
}

func (gs *goalStore) Delete(ctx context.Context, id string) error {
	return affected(gs.pool.Exec(ctx, `DELETE FROM user_goals WHERE id = $1`, id))
}

func (gs *goalStore) ListByUser(ctx context.Context, userID string) ([]storage.Goal, error) {
	rows, err := gs.pool.Query(ctx,
		`SELECT `+goalColumns+` FROM user_goals WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	goals := []storage.Goal{}
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, *g)
	}
	return goals, rows.Err()
}
