// Package besteffort runs side effects whose failure must be observed but
// must not fail the operation that triggered them.
package besteffort

import (
	"context"
	"fmt"

	"github.com/goodtune/dtxcloud/internal/metrics"
	"github.com/rs/zerolog"
)

// Operation names used as log fields and metric labels.
const (
	OpAggregateRecompute = "aggregate_recompute"
	OpBatterySamples     = "battery_samples"
	OpDeviceCounter      = "device_counter"
	OpAuditWrite         = "audit_write"
	OpLastLogin          = "last_login"
)

// Runner executes best-effort side effects.
type Runner struct {
	logger zerolog.Logger
}

// New creates a runner that logs failures with logger.
func New(logger zerolog.Logger) *Runner {
	return &Runner{
		logger: logger.With().Str("component", "best-effort").Logger(),
	}
}

// Do runs fn and reports whether it succeeded. A failure, including a panic,
// is logged with fields and counted under operation; it is never returned.
func (r *Runner) Do(ctx context.Context, operation string, fields map[string]any, fn func(ctx context.Context) error) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.fail(operation, fields, fmt.Errorf("panic: %v", p))
			ok = false
		}
	}()

	if err := fn(ctx); err != nil {
		r.fail(operation, fields, err)
		return false
	}
	return true
}

func (r *Runner) fail(operation string, fields map[string]any, err error) {
	metrics.BestEffortFailuresTotal.WithLabelValues(operation).Inc()
	r.logger.Warn().
		Err(err).
		Str("operation", operation).
		Fields(fields).
		Msg("Best-effort operation failed")
}
