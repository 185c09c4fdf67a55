package rollout

import (
	"errors"
	"fmt"

	"github.com/goodtune/dtxcloud/internal/storage"
)

// ErrInvalidTransition is returned for a status change the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid rollout status transition")

var transitions = map[storage.RolloutStatus][]storage.RolloutStatus{
	storage.RolloutDraft:  {storage.RolloutActive},
	storage.RolloutActive: {storage.RolloutPaused, storage.RolloutCompleted},
	storage.RolloutPaused: {storage.RolloutActive, storage.RolloutCompleted},
}

// ValidStatus reports whether s names a rollout status.
func ValidStatus(s storage.RolloutStatus) bool {
	switch s {
	case storage.RolloutDraft, storage.RolloutActive, storage.RolloutPaused, storage.RolloutCompleted:
		return true
	}
	return false
}

// Transition checks that a rollout may move from one status to another.
// Staying in the same status is allowed.
func Transition(from, to storage.RolloutStatus) error {
	if from == to {
		return nil
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}
