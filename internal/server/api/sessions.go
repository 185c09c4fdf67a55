package api

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goodtune/dtxcloud/internal/besteffort"
	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/sessions"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// MaxExportRows caps a CSV export.
const MaxExportRows = 10000

var exportHeader = []string{
	"id", "device_id", "shot_type", "device_mode", "level",
	"start_time", "end_time", "working_duration", "pause_duration",
	"completion_percent", "termination_reason",
}

type sessionQuery struct {
	DeviceID  string `json:"device_id" validate:"omitempty,uuid"`
	StartDate string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Limit     int    `json:"limit" validate:"min=1,max=200"`
	Offset    int    `json:"offset" validate:"min=0"`
}

// filter converts the query into a store filter. Dates are whole UTC days.
func (q sessionQuery) filter(userID string) storage.SessionFilter {
	f := storage.SessionFilter{
		UserID:   userID,
		DeviceID: q.DeviceID,
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
	if q.StartDate != "" {
		since, _ := time.Parse(clock.DateLayout, q.StartDate)
		f.Since = &since
	}
	if q.EndDate != "" {
		end, _ := time.Parse(clock.DateLayout, q.EndDate)
		before := end.AddDate(0, 0, 1)
		f.Before = &before
	}
	return f
}

// SessionHandler handles session upload, listing, export and deletion.
type SessionHandler struct {
	reconciler *sessions.Reconciler
	sessions   storage.SessionStore
	recomputer sessions.Recomputer
	runner     *besteffort.Runner
	logger     zerolog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(reconciler *sessions.Reconciler, store storage.SessionStore, recomputer sessions.Recomputer, runner *besteffort.Runner, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		reconciler: reconciler,
		sessions:   store,
		recomputer: recomputer,
		runner:     runner,
		logger:     logger.With().Str("handler", "session").Logger(),
	}
}

// Upload merges a batch of device sessions.
func (h *SessionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	var batch sessions.Batch
	if !decode(w, r, &batch) {
		return
	}

	user := currentUser(r)
	result, err := h.reconciler.Upload(r.Context(), user.ID, batch)
	if err != nil {
		if errors.Is(err, sessions.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "Device not found or not owned by you")
			return
		}
		h.logger.Error().Err(err).Str("device_id", batch.DeviceID).Msg("Failed to upload sessions")
		writeError(w, http.StatusInternalServerError, "Failed to upload sessions")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *SessionHandler) parseQuery(w http.ResponseWriter, r *http.Request, defLimit int) (sessionQuery, bool) {
	details := map[string][]string{}
	values := r.URL.Query()
	q := sessionQuery{
		DeviceID:  values.Get("device_id"),
		StartDate: values.Get("start_date"),
		EndDate:   values.Get("end_date"),
		Limit:     queryInt(r, "limit", defLimit, details),
		Offset:    queryInt(r, "offset", 0, details),
	}
	if len(details) > 0 {
		writeValidationError(w, details)
		return q, false
	}
	return q, check(w, q)
}

// List returns the caller's sessions, newest first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseQuery(w, r, 50)
	if !ok {
		return
	}

	user := currentUser(r)
	items, total, err := h.sessions.List(r.Context(), q.filter(user.ID))
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to list sessions")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": items,
		"total":    total,
		"limit":    q.Limit,
		"offset":   q.Offset,
	})
}

// Export writes the caller's sessions as CSV.
func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseQuery(w, r, 50)
	if !ok {
		return
	}
	user := currentUser(r)
	filter := q.filter(user.ID)
	filter.Limit = MaxExportRows
	filter.Offset = 0

	items, _, err := h.sessions.List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to export sessions")
		writeError(w, http.StatusInternalServerError, "Failed to export sessions")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="sessions.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write(exportHeader)
	for _, s := range items {
		_ = cw.Write(exportRow(s))
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to write CSV export")
	}
}

func exportRow(s storage.UsageSession) []string {
	endTime := ""
	if s.EndTime != nil {
		endTime = s.EndTime.UTC().Format(time.RFC3339)
	}
	reason := ""
	if s.TerminationReason != nil {
		reason = strconv.Itoa(*s.TerminationReason)
	}
	return []string{
		s.ID,
		s.DeviceID,
		strconv.Itoa(s.ShotType),
		strconv.Itoa(s.DeviceMode),
		strconv.Itoa(s.Level),
		s.StartTime.UTC().Format(time.RFC3339),
		endTime,
		strconv.Itoa(s.WorkingDuration),
		strconv.Itoa(s.PauseDuration),
		strconv.Itoa(s.CompletionPercent),
		reason,
	}
}

// Delete removes one of the caller's sessions and refreshes that day's
// statistics.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	user := currentUser(r)

	session, err := h.sessions.Get(ctx, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get session")
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	if session == nil || session.UserID != user.ID {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	if err := h.sessions.Delete(ctx, id, user.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to delete session")
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}

	date := clock.DateString(session.StartTime)
	h.runner.Do(ctx, besteffort.OpAggregateRecompute, map[string]any{
		"user_id":   user.ID,
		"device_id": session.DeviceID,
		"date":      date,
	}, func(ctx context.Context) error {
		_, err := h.recomputer.Recompute(ctx, user.ID, session.DeviceID, date)
		return err
	})

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
