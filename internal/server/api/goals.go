package api

import (
	"errors"
	"net/http"

	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type createGoalRequest struct {
	GoalType      string `json:"goal_type" validate:"required,oneof=weekly monthly"`
	TargetMinutes int    `json:"target_minutes" validate:"required,min=1"`
	StartDate     string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate       string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type updateGoalRequest struct {
	TargetMinutes *int  `json:"target_minutes" validate:"omitempty,min=1"`
	IsActive      *bool `json:"is_active"`
}

// GoalHandler manages the caller's usage goals.
type GoalHandler struct {
	goals  storage.GoalStore
	clock  clock.Clock
	logger zerolog.Logger
}

// NewGoalHandler creates a new goal handler.
func NewGoalHandler(goals storage.GoalStore, clk clock.Clock, logger zerolog.Logger) *GoalHandler {
	return &GoalHandler{
		goals:  goals,
		clock:  clk,
		logger: logger.With().Str("handler", "goal").Logger(),
	}
}

// List returns the caller's goals, newest first.
func (h *GoalHandler) List(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	goals, err := h.goals.ListByUser(r.Context(), user.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to list goals")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve goals")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"goals": goals})
}

// Create adds a goal.
func (h *GoalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createGoalRequest
	if !decode(w, r, &req) {
		return
	}

	user := currentUser(r)
	goal := storage.Goal{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		GoalType:      req.GoalType,
		TargetMinutes: req.TargetMinutes,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		IsActive:      true,
		CreatedAt:     h.clock.Now(),
	}
	if err := h.goals.Create(r.Context(), goal); err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to create goal")
		writeError(w, http.StatusInternalServerError, "Failed to create goal")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"goal": goal})
}

// owned loads the goal named in the path if the caller owns it.
func (h *GoalHandler) owned(w http.ResponseWriter, r *http.Request) (*storage.Goal, bool) {
	id := mux.Vars(r)["id"]
	goal, err := h.goals.Get(r.Context(), id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get goal")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve goal")
		return nil, false
	}
	if goal == nil || goal.UserID != currentUser(r).ID {
		writeError(w, http.StatusNotFound, "Goal not found")
		return nil, false
	}
	return goal, true
}

// Update changes a goal's target or active flag.
func (h *GoalHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateGoalRequest
	if !decode(w, r, &req) {
		return
	}

	goal, ok := h.owned(w, r)
	if !ok {
		return
	}
	if req.TargetMinutes != nil {
		goal.TargetMinutes = *req.TargetMinutes
	}
	if req.IsActive != nil {
		goal.IsActive = *req.IsActive
	}

	if err := h.goals.Update(r.Context(), *goal); err != nil {
		h.logger.Error().Err(err).Str("id", goal.ID).Msg("Failed to update goal")
		writeError(w, http.StatusInternalServerError, "Failed to update goal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"goal": goal})
}

// Delete removes a goal.
func (h *GoalHandler) Delete(w http.ResponseWriter, r *http.Request) {
	goal, ok := h.owned(w, r)
	if !ok {
		return
	}

	if err := h.goals.Delete(r.Context(), goal.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error().Err(err).Str("id", goal.ID).Msg("Failed to delete goal")
		writeError(w, http.StatusInternalServerError, "Failed to delete goal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
