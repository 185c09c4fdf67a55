package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/goodtune/dtxcloud/internal/config"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/goodtune/dtxcloud/internal/storage/storagetest"
	"github.com/jackc/pgx/v5/pgconn"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("DTXCLOUD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DTXCLOUD_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := Open(ctx, config.PostgresConfig{URL: url, MaxConns: 4, ConnectTimeout: "5s"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_, err = store.pool.Exec(ctx, `TRUNCATE users, devices, device_transfers, usage_sessions, battery_samples,
		daily_statistics, firmware_versions, firmware_rollouts, announcements, admin_logs, user_goals CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return store
}

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return openTestStore(t)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Errorf("second migrate failed: %v", err)
	}
}

func TestOpenInvalidURL(t *testing.T) {
	if _, err := Open(context.Background(), config.PostgresConfig{URL: "://nope"}); err == nil {
		t.Error("Expected error for invalid url")
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique", &pgconn.PgError{Code: codeUniqueViolation}, storage.ErrConflict},
		{"foreign key", &pgconn.PgError{Code: codeForeignKeyViolation}, storage.ErrNotFound},
		{"bad uuid", &pgconn.PgError{Code: codeInvalidText}, storage.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	other := errors.New("other")
	if got := mapError(other); got != other {
		t.Errorf("Expected passthrough, got %v", got)
	}
}

func TestWhere(t *testing.T) {
	var w where
	if w.String() != "" {
		t.Errorf("Expected empty clause, got %q", w.String())
	}
	w.add(`user_id = $%d`, "u")
	w.add(`(email ILIKE $%d OR name ILIKE $%[1]d)`, "%a%")
	if got := w.String(); got != ` WHERE user_id = $1 AND (email ILIKE $2 OR name ILIKE $2)` {
		t.Errorf("Unexpected clause %q", got)
	}
	if len(w.args) != 2 {
		t.Errorf("Expected 2 args, got %d", len(w.args))
	}
	if got := page(20, 40); got != " LIMIT 20 OFFSET 40" {
		t.Errorf("Unexpected page clause %q", got)
	}
}
