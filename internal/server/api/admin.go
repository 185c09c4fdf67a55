package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/goodtune/dtxcloud/internal/audit"
	"github.com/goodtune/dtxcloud/internal/auth"
	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type setupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	SetupKey string `json:"setup_key" validate:"required"`
}

type promoteRequest struct {
	UserID string `json:"user_id" validate:"required_without=Email,omitempty,uuid"`
	Email  string `json:"email" validate:"required_without=UserID,omitempty,email"`
}

type updateUserRequest struct {
	Role     *string `json:"role" validate:"omitempty,oneof=user admin"`
	IsActive *bool   `json:"is_active"`
}

type logsQuery struct {
	pagination
	Action     string `json:"action"`
	TargetType string `json:"target_type" validate:"omitempty,oneof=user device firmware rollout announcement system"`
	AdminID    string `json:"admin_id" validate:"omitempty,uuid"`
}

// AdminSummary identifies an administrator in setup and promote responses.
type AdminSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Owner is the account summary attached to admin listings.
type Owner struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// AdminDevice is a device with its owner.
type AdminDevice struct {
	storage.Device
	Owner *Owner `json:"owner"`
}

// AdminLogView is an audit entry with its actor.
type AdminLogView struct {
	storage.AdminLog
	Admin *Owner `json:"admin"`
}

// PlatformStats is the admin dashboard header.
type PlatformStats struct {
	TotalUsers    int `json:"total_users"`
	TotalDevices  int `json:"total_devices"`
	ActiveDevices int `json:"active_devices"`
	TotalSessions int `json:"total_sessions"`
	TodaySessions int `json:"today_sessions"`
}

// AdminHandler serves account, device and audit administration.
type AdminHandler struct {
	store    storage.Store
	recorder *audit.Recorder
	clock    clock.Clock
	setupKey string
	logger   zerolog.Logger
}

// NewAdminHandler creates a new admin handler. An empty setupKey disables
// the bootstrap endpoint.
func NewAdminHandler(store storage.Store, recorder *audit.Recorder, clk clock.Clock, setupKey string, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		store:    store,
		recorder: recorder,
		clock:    clk,
		setupKey: setupKey,
		logger:   logger.With().Str("handler", "admin").Logger(),
	}
}

// Setup promotes the first administrator using the configured setup key.
func (h *AdminHandler) Setup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	if h.setupKey == "" {
		writeError(w, http.StatusInternalServerError, "Admin setup key is not configured")
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.SetupKey), []byte(h.setupKey)) != 1 {
		writeError(w, http.StatusForbidden, "Invalid setup key")
		return
	}

	exists, err := h.store.Users().HasAdmin(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to check for administrators")
		writeError(w, http.StatusInternalServerError, "Admin setup failed")
		return
	}
	if exists {
		writeError(w, http.StatusForbidden, "Admin account already exists. Use the promote endpoint instead.")
		return
	}

	user, err := h.store.Users().GetByEmail(ctx, auth.NormalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found. The user must sign up first before being promoted to admin.")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to look up setup user")
		writeError(w, http.StatusInternalServerError, "Admin setup failed")
		return
	}

	if !h.promote(w, r, user) {
		return
	}

	h.recorder.Record(ctx, audit.Entry{
		AdminID:    user.ID,
		Action:     "admin.setup",
		TargetType: audit.TargetUser,
		TargetID:   user.ID,
		Details:    map[string]any{"email": user.Email, "method": "bootstrap"},
		IPAddress:  audit.ClientIP(r),
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Admin account created successfully",
		"admin":   AdminSummary{ID: user.ID, Email: user.Email},
	})
}

func (h *AdminHandler) promote(w http.ResponseWriter, r *http.Request, user *storage.User) bool {
	user.Role = storage.RoleAdmin
	user.UpdatedAt = h.clock.Now()
	if err := h.store.Users().Update(r.Context(), *user); err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to promote user")
		writeError(w, http.StatusInternalServerError, "Failed to promote user")
		return false
	}
	h.logger.Info().Str("user_id", user.ID).Msg("User promoted to admin")
	return true
}

// Promote grants the admin role to an existing user.
func (h *AdminHandler) Promote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	admin := currentUser(r)

	var (
		target *storage.User
		err    error
	)
	if req.UserID != "" {
		target, err = h.store.Users().Get(ctx, req.UserID)
	} else {
		target, err = h.store.Users().GetByEmail(ctx, auth.NormalizeEmail(req.Email))
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to look up user to promote")
		writeError(w, http.StatusInternalServerError, "Failed to promote user")
		return
	}
	if target.IsAdmin() {
		writeError(w, http.StatusConflict, "User is already an admin")
		return
	}

	if !h.promote(w, r, target) {
		return
	}

	h.recorder.Record(ctx, audit.Entry{
		AdminID:    admin.ID,
		Action:     "admin.promote",
		TargetType: audit.TargetUser,
		TargetID:   target.ID,
		Details:    map[string]any{"email": target.Email, "promoted_by": admin.Email},
		IPAddress:  audit.ClientIP(r),
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "User promoted to admin successfully",
		"admin":   AdminSummary{ID: target.ID, Email: target.Email},
	})
}

// Stats returns platform-wide counters.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	today := clock.Date(h.clock.Now())

	var out PlatformStats
	counts := []struct {
		dst   *int
		count func() (int, error)
	}{
		{&out.TotalUsers, func() (int, error) { return h.store.Users().Count(ctx, nil) }},
		{&out.TotalDevices, func() (int, error) { return h.store.Devices().Count(ctx, storage.DeviceCountFilter{}) }},
		{&out.ActiveDevices, func() (int, error) {
			return h.store.Devices().Count(ctx, storage.DeviceCountFilter{ActiveOnly: true})
		}},
		{&out.TotalSessions, func() (int, error) { return h.store.Sessions().Count(ctx, storage.SessionFilter{}) }},
		{&out.TodaySessions, func() (int, error) {
			return h.store.Sessions().Count(ctx, storage.SessionFilter{Since: &today})
		}},
	}
	for _, c := range counts {
		n, err := c.count()
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to compute platform stats")
			writeError(w, http.StatusInternalServerError, "Failed to retrieve stats")
			return
		}
		*c.dst = n
	}

	writeJSON(w, http.StatusOK, out)
}

// ListUsers pages through accounts, newest first.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	p, ok := parsePagination(w, r)
	if !ok {
		return
	}

	users, total, err := h.store.Users().List(r.Context(), storage.UserFilter{
		Search: p.Search,
		Limit:  p.Limit,
		Offset: p.offset(),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list users")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"total": total,
		"page":  p.Page,
		"limit": p.Limit,
	})
}

// GetUser returns one account with its device and session counts.
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	user, err := h.store.Users().Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get user")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve user")
		return
	}

	devices, err := h.store.Devices().Count(ctx, storage.DeviceCountFilter{UserID: id})
	if err != nil {
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to count user devices")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve user")
		return
	}
	sessionCount, err := h.store.Sessions().Count(ctx, storage.SessionFilter{UserID: id})
	if err != nil {
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to count user sessions")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profile":       user,
		"device_count":  devices,
		"session_count": sessionCount,
	})
}

// UpdateUser changes an account's role or active flag.
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Role == nil && req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "No fields to update")
		return
	}

	ctx := r.Context()
	id := mux.Vars(r)["id"]
	user, err := h.store.Users().Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get user")
		writeError(w, http.StatusInternalServerError, "Failed to update user")
		return
	}

	changes := map[string]any{}
	if req.Role != nil {
		user.Role = storage.Role(*req.Role)
		changes["role"] = *req.Role
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
		changes["is_active"] = *req.IsActive
	}
	user.UpdatedAt = h.clock.Now()

	if err := h.store.Users().Update(ctx, *user); err != nil {
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to update user")
		writeError(w, http.StatusInternalServerError, "Failed to update user")
		return
	}

	h.recorder.Record(ctx, audit.Entry{
		AdminID:    currentUser(r).ID,
		Action:     "user.update",
		TargetType: audit.TargetUser,
		TargetID:   id,
		Details:    changes,
		IPAddress:  audit.ClientIP(r),
	})

	writeJSON(w, http.StatusOK, user)
}

// owners resolves account summaries for a set of user IDs. Unknown IDs
// are left out.
func (h *AdminHandler) owners(r *http.Request, ids []string) (map[string]*Owner, error) {
	out := make(map[string]*Owner, len(ids))
	for _, id := range ids {
		if _, seen := out[id]; seen || id == "" {
			continue
		}
		user, err := h.store.Users().Get(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			out[id] = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = &Owner{Email: user.Email, Name: user.Name}
	}
	return out, nil
}

// ListDevices pages through every device with its owner.
func (h *AdminHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	p, ok := parsePagination(w, r)
	if !ok {
		return
	}

	devices, total, err := h.store.Devices().List(r.Context(), storage.DeviceFilter{
		Search: p.Search,
		Limit:  p.Limit,
		Offset: p.offset(),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list devices")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve devices")
		return
	}

	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.UserID)
	}
	owners, err := h.owners(r, ids)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to resolve device owners")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve devices")
		return
	}

	views := make([]AdminDevice, 0, len(devices))
	for _, d := range devices {
		views = append(views, AdminDevice{Device: d, Owner: owners[d.UserID]})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": views,
		"total":   total,
		"page":    p.Page,
		"limit":   p.Limit,
	})
}

// ListLogs pages through the audit trail, newest first.
func (h *AdminHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	p, ok := parsePagination(w, r)
	if !ok {
		return
	}
	values := r.URL.Query()
	q := logsQuery{
		pagination: p,
		Action:     values.Get("action"),
		TargetType: values.Get("target_type"),
		AdminID:    values.Get("admin_id"),
	}
	if !check(w, q) {
		return
	}

	logs, total, err := h.store.AdminLogs().List(r.Context(), storage.AdminLogFilter{
		Action:     q.Action,
		TargetType: q.TargetType,
		AdminID:    q.AdminID,
		Limit:      p.Limit,
		Offset:     p.offset(),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list admin logs")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve logs")
		return
	}

	ids := make([]string, 0, len(logs))
	for _, l := range logs {
		ids = append(ids, l.AdminID)
	}
	admins, err := h.owners(r, ids)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to resolve log actors")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve logs")
		return
	}

	views := make([]AdminLogView, 0, len(logs))
	for _, l := range logs {
		views = append(views, AdminLogView{AdminLog: l, Admin: admins[l.AdminID]})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  views,
		"total": total,
		"page":  p.Page,
		"limit": p.Limit,
	})
}
