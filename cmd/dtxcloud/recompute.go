package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/config"
	"github.com/goodtune/dtxcloud/internal/stats"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	recomputeUser   string
	recomputeDevice string
	recomputeDate   string
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Rebuild one day of usage statistics",
	Long:  `Recompute the daily statistics row of a (user, device, date) from the stored sessions and print it.`,
	Example: `  dtxcloud recompute --user 3f0c... --device 77aa... --date 2026-04-01`,
	Args:    cobra.NoArgs,
	RunE:    runRecompute,
}

func init() {
	recomputeCmd.Flags().StringVar(&recomputeUser, "user", "", "User ID (required)")
	recomputeCmd.Flags().StringVar(&recomputeDevice, "device", "", "Device ID (required)")
	recomputeCmd.Flags().StringVar(&recomputeDate, "date", "", "UTC date YYYY-MM-DD (defaults to today)")
	_ = recomputeCmd.MarkFlagRequired("user")
	_ = recomputeCmd.MarkFlagRequired("device")

	rootCmd.AddCommand(recomputeCmd)
}

func runRecompute(cmd *cobra.Command, args []string) error {
	clk := clock.RealClock{}

	date := recomputeDate
	if date == "" {
		date = clock.DateString(clk.Now())
	}
	if _, err := time.Parse(clock.DateLayout, date); err != nil {
		return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for one-shot commands
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	recomputer := stats.NewRecomputer(store.Sessions(), store.Stats(), clk, logger)
	row, err := recomputer.Recompute(ctx, recomputeUser, recomputeDevice, date)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(row)
}
