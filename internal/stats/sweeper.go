package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/rs/zerolog"
)

// Sweeper periodically recomputes recent daily statistics so rows skipped
// by a failed best-effort recompute during upload converge.
type Sweeper struct {
	sessions     storage.SessionStore
	recomputer   *Recomputer
	clock        clock.Clock
	sweepTime    time.Time // only hour and minute are used
	lookbackDays int
	logger       zerolog.Logger
	stopChan     chan struct{}
}

// NewSweeper creates a sweeper that runs daily at sweepTime (HH:MM, UTC).
func NewSweeper(sessions storage.SessionStore, recomputer *Recomputer, clk clock.Clock, sweepTime string, lookbackDays int, logger zerolog.Logger) (*Sweeper, error) {
	parsed, err := time.Parse("15:04", sweepTime)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep time %q: %w", sweepTime, err)
	}

	return &Sweeper{
		sessions:     sessions,
		recomputer:   recomputer,
		clock:        clk,
		sweepTime:    parsed,
		lookbackDays: lookbackDays,
		logger:       logger.With().Str("component", "aggregate-sweeper").Logger(),
		stopChan:     make(chan struct{}),
	}, nil
}

// Start begins the sweep loop.
func (s *Sweeper) Start() {
	go s.run()
	s.logger.Info().
		Str("sweep_time", s.sweepTime.Format("15:04")).
		Int("lookback_days", s.lookbackDays).
		Msg("Daily aggregate sweeper started")
}

// Stop stops the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stopChan)
	s.logger.Info().Msg("Daily aggregate sweeper stopped")
}

func (s *Sweeper) run() {
	for {
		next := s.nextRun(s.clock.Now())
		wait := next.Sub(s.clock.Now())

		s.logger.Debug().
			Time("next_run", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next aggregate sweep")

		select {
		case <-time.After(wait):
			if n, err := s.Sweep(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("Aggregate sweep failed")
			} else {
				s.logger.Info().Int("recomputed", n).Msg("Aggregate sweep complete")
			}
		case <-s.stopChan:
			return
		}
	}
}

// nextRun returns the next sweep instant strictly after now.
func (s *Sweeper) nextRun(now time.Time) time.Time {
	now = now.UTC()
	today := time.Date(
		now.Year(), now.Month(), now.Day(),
		s.sweepTime.Hour(), s.sweepTime.Minute(), 0, 0,
		time.UTC,
	)
	if !now.Before(today) {
		return today.AddDate(0, 0, 1)
	}
	return today
}

// Sweep recomputes every (user, device, date) with sessions in the lookback
// window, today included. A failing key is logged and skipped; the first
// such error is returned after all keys were attempted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	since := clock.Date(s.clock.Now()).AddDate(0, 0, -s.lookbackDays)
	keys, err := s.sessions.DayKeys(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("list day keys: %w", err)
	}

	var (
		done     int
		firstErr error
	)
	for _, key := range keys {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := s.recomputer.Recompute(ctx, key.UserID, key.DeviceID, key.Date); err != nil {
			s.logger.Warn().Err(err).
				Str("user_id", key.UserID).
				Str("device_id", key.DeviceID).
				Str("date", key.Date).
				Msg("Failed to recompute daily statistics")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		done++
	}

	return done, firstErr
}
