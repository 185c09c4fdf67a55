// Package postgres implements storage.Store on PostgreSQL using pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/dtxcloud/internal/config"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// PostgreSQL error codes mapped onto storage errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeInvalidText         = "22P02"
)

// Store implements the storage.Store interface backed by a connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	connectTimeout := 5 * time.Second
	if cfg.ConnectTimeout != "" {
		connectTimeout, err = time.ParseDuration(cfg.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid connect_timeout: %w", err)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Users returns the UserStore implementation
func (s *Store) Users() storage.UserStore { return &userStore{s.pool} }

// Devices returns the DeviceStore implementation
func (s *Store) Devices() storage.DeviceStore { return &deviceStore{s.pool} }

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore { return &sessionStore{s.pool} }

// Stats returns the StatsStore implementation
func (s *Store) Stats() storage.StatsStore { return &statsStore{s.pool} }

// Firmware returns the FirmwareStore implementation
func (s *Store) Firmware() storage.FirmwareStore { return &firmwareStore{s.pool} }

// Rollouts returns the RolloutStore implementation
func (s *Store) Rollouts() storage.RolloutStore { return &rolloutStore{s.pool} }

// Announcements returns the AnnouncementStore implementation
func (s *Store) Announcements() storage.AnnouncementStore { return &announcementStore{s.pool} }

// AdminLogs returns the AdminLogStore implementation
func (s *Store) AdminLogs() storage.AdminLogStore { return &adminLogStore{s.pool} }

// Goals returns the GoalStore implementation
func (s *Store) Goals() storage.GoalStore { return &goalStore{s.pool} }

// mapError translates driver errors into storage errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return storage.ErrConflict
		case codeForeignKeyViolation, codeInvalidText:
			return storage.ErrNotFound
		}
	}
	return err
}

// affected returns ErrNotFound when a write touched no rows.
func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// page renders LIMIT and OFFSET clauses; a zero limit means no limit.
func page(limit, offset int) string {
	clause := ""
	if limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}

// where accumulates positional filter conditions.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	clause := " WHERE " + w.conds[0]
	for _, cond := range w.conds[1:] {
		clause += " AND " + cond
	}
	return clause
}
