// Package sessions merges device session uploads into canonical storage.
//
// Uploads are idempotent per session ID: the storage layer's insert-if-absent
// is the only concurrency control, so overlapping retries of the same batch
// never create duplicate rows or inflate the device counter.
package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/dtxcloud/internal/besteffort"
	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/metrics"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/rs/zerolog"
)

// ErrDeviceNotFound is returned when the device is missing or owned by
// another user. No item of the batch is processed.
var ErrDeviceNotFound = errors.New("device not found or not owned by you")

// Recomputer refreshes one day of derived statistics.
type Recomputer interface {
	Recompute(ctx context.Context, userID, deviceID, date string) (*storage.DailyStatistics, error)
}

// Reconciler applies upload batches.
type Reconciler struct {
	devices    storage.DeviceStore
	sessions   storage.SessionStore
	recomputer Recomputer
	runner     *besteffort.Runner
	clock      clock.Clock
	logger     zerolog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(devices storage.DeviceStore, sessions storage.SessionStore, recomputer Recomputer, runner *besteffort.Runner, clk clock.Clock, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		devices:    devices,
		sessions:   sessions,
		recomputer: recomputer,
		runner:     runner,
		clock:      clk,
		logger:     logger.With().Str("component", "reconciler").Logger(),
	}
}

// Upload merges batch into storage on behalf of userID. Items are processed
// independently; a storage failure on one item is counted and the next item
// proceeds. Only the ownership check fails the whole call.
func (r *Reconciler) Upload(ctx context.Context, userID string, batch Batch) (Result, error) {
	if _, err := r.devices.GetOwned(ctx, batch.DeviceID, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, ErrDeviceNotFound
		}
		return Result{}, fmt.Errorf("lookup device %s: %w", batch.DeviceID, err)
	}

	var (
		result Result
		dates  []string
		seen   = make(map[string]struct{})
	)

	now := r.clock.Now()
	for _, item := range batch.Sessions {
		session := item.Session(userID, batch.DeviceID, now)

		inserted, err := r.sessions.InsertIfAbsent(ctx, session)
		switch {
		case err != nil:
			result.Errors++
			metrics.SessionItemsTotal.WithLabelValues("error").Inc()
			r.logger.Warn().Err(err).
				Str("session_id", item.ID).
				Str("device_id", batch.DeviceID).
				Msg("Failed to store session")
			continue
		case !inserted:
			result.Duplicates++
			metrics.SessionItemsTotal.WithLabelValues("duplicate").Inc()
			continue
		}

		result.Uploaded++
		metrics.SessionItemsTotal.WithLabelValues("uploaded").Inc()

		if len(item.BatterySamples) > 0 {
			samples := item.Samples()
			r.runner.Do(ctx, besteffort.OpBatterySamples, map[string]any{
				"session_id": item.ID,
				"samples":    len(samples),
			}, func(ctx context.Context) error {
				return r.sessions.InsertBatterySamples(ctx, samples)
			})
		}

		date := clock.DateString(session.StartTime)
		if _, ok := seen[date]; !ok {
			seen[date] = struct{}{}
			dates = append(dates, date)
		}
	}

	if result.Uploaded > 0 {
		r.runner.Do(ctx, besteffort.OpDeviceCounter, map[string]any{
			"device_id": batch.DeviceID,
			"uploaded":  result.Uploaded,
		}, func(ctx context.Context) error {
			return r.devices.IncrementSessions(ctx, batch.DeviceID, result.Uploaded, now)
		})

		for _, date := range dates {
			r.runner.Do(ctx, besteffort.OpAggregateRecompute, map[string]any{
				"user_id":   userID,
				"device_id": batch.DeviceID,
				"date":      date,
			}, func(ctx context.Context) error {
				_, err := r.recomputer.Recompute(ctx, userID, batch.DeviceID, date)
				return err
			})
		}
	}

	r.logger.Info().
		Str("user_id", userID).
		Str("device_id", batch.DeviceID).
		Int("uploaded", result.Uploaded).
		Int("duplicates", result.Duplicates).
		Int("errors", result.Errors).
		Msg("Session batch reconciled")

	return result, nil
}
