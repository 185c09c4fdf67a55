package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goodtune/dtxcloud/internal/config"
	"github.com/goodtune/dtxcloud/internal/storage/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long:  `Apply the embedded PostgreSQL schema. Every statement is idempotent, so running it again is safe.`,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Storage.Type != "postgres" {
		return fmt.Errorf("migrate requires storage.type postgres, got %q", cfg.Storage.Type)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := postgres.Open(ctx, cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(os.Stdout, "✅ Schema applied")
	return nil
}
