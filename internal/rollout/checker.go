package rollout

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/dtxcloud/internal/metrics"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/rs/zerolog"
)

// Check outcomes, also used as metric labels.
const (
	OutcomeNoFirmware = "no_firmware"
	OutcomeUpToDate   = "up_to_date"
	OutcomeExcluded   = "excluded"
	OutcomeAdmitted   = "admitted"
	OutcomeUngated    = "ungated"
)

// Decision is the answer to a firmware update check.
type Decision struct {
	UpdateAvailable bool                     `json:"update_available"`
	Firmware        *storage.FirmwareVersion `json:"firmware,omitempty"`
	Outcome         string                   `json:"-"`
}

// Checker answers firmware update checks.
type Checker struct {
	firmware storage.FirmwareStore
	rollouts storage.RolloutStore
	logger   zerolog.Logger
}

// NewChecker creates a checker over the firmware and rollout stores.
func NewChecker(firmware storage.FirmwareStore, rollouts storage.RolloutStore, logger zerolog.Logger) *Checker {
	return &Checker{
		firmware: firmware,
		rollouts: rollouts,
		logger:   logger.With().Str("component", "rollout").Logger(),
	}
}

// Gate reports whether a user passes a rollout. A missing rollout, or one
// that is not active, does not gate anyone.
func Gate(rollout *storage.FirmwareRollout, userID string) bool {
	if rollout == nil || rollout.Status != storage.RolloutActive {
		return true
	}
	return Admitted(userID, rollout.FirmwareVersionID, rollout.TargetPercentage)
}

// Check decides whether userID, currently running currentCode, should be
// offered an update. Only the newest active firmware is ever a candidate;
// if its rollout excludes the user, no older version is offered instead.
func (c *Checker) Check(ctx context.Context, userID string, currentCode int) (Decision, error) {
	decision, err := c.check(ctx, userID, currentCode)
	if err != nil {
		return Decision{}, err
	}

	metrics.FirmwareChecksTotal.WithLabelValues(decision.Outcome).Inc()
	c.logger.Debug().
		Str("user_id", userID).
		Int("current_version_code", currentCode).
		Str("outcome", decision.Outcome).
		Msg("Firmware check")

	return decision, nil
}

func (c *Checker) check(ctx context.Context, userID string, currentCode int) (Decision, error) {
	latest, err := c.firmware.Latest(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return Decision{Outcome: OutcomeNoFirmware}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("latest firmware: %w", err)
	}

	if latest.VersionCode <= currentCode {
		return Decision{Outcome: OutcomeUpToDate}, nil
	}

	rollout, err := c.rollouts.LatestActive(ctx, latest.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return Decision{UpdateAvailable: true, Firmware: latest, Outcome: OutcomeUngated}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("active rollout for %s: %w", latest.ID, err)
	}

	if !Gate(rollout, userID) {
		return Decision{Outcome: OutcomeExcluded}, nil
	}

	return Decision{UpdateAvailable: true, Firmware: latest, Outcome: OutcomeAdmitted}, nil
}
