package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goodtune/dtxcloud/internal/artifacts"
	"github.com/goodtune/dtxcloud/internal/audit"
	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/rollout"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type createAnnouncementRequest struct {
	Title       string `json:"title" validate:"required,min=1,max=200"`
	Content     string `json:"content" validate:"required,min=1"`
	Type        string `json:"type" validate:"omitempty,oneof=notice maintenance update"`
	IsPublished bool   `json:"is_published"`
}

type updateAnnouncementRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=200"`
	Content     *string `json:"content" validate:"omitempty,min=1"`
	Type        *string `json:"type" validate:"omitempty,oneof=notice maintenance update"`
	IsPublished *bool   `json:"is_published"`
}

type createFirmwareRequest struct {
	Version        string  `json:"version" validate:"required,min=1,max=50"`
	VersionCode    int     `json:"version_code" validate:"required,min=1"`
	Changelog      *string `json:"changelog"`
	BinaryURL      string  `json:"binary_url" validate:"omitempty,url"`
	BinarySize     *int64  `json:"binary_size" validate:"omitempty,min=0"`
	BinaryChecksum *string `json:"binary_checksum"`
	MinVersionCode *int    `json:"min_version_code" validate:"omitempty,min=0"`
	IsActive       *bool   `json:"is_active"`
}

type createRolloutRequest struct {
	FirmwareVersionID string  `json:"firmware_version_id" validate:"required,uuid"`
	TargetPercentage  int     `json:"target_percentage" validate:"required,min=1,max=100"`
	Notes             *string `json:"notes"`
}

type updateRolloutRequest struct {
	Status           *string `json:"status" validate:"omitempty,oneof=draft active paused completed"`
	TargetPercentage *int    `json:"target_percentage" validate:"omitempty,min=1,max=100"`
	Notes            *string `json:"notes"`
}

type uploadURLRequest struct {
	Filename string `json:"filename"`
}

// UploadURLResponse carries a presigned firmware upload.
type UploadURLResponse struct {
	SignedURL string    `json:"signed_url"`
	Path      string    `json:"path"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DownloadURLResponse carries a presigned firmware download.
type DownloadURLResponse struct {
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ContentHandler manages announcements, firmware and rollouts. Every
// mutation is audited.
type ContentHandler struct {
	store    storage.Store
	recorder *audit.Recorder
	signer   artifacts.Signer
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewContentHandler creates a new content handler.
func NewContentHandler(store storage.Store, recorder *audit.Recorder, signer artifacts.Signer, clk clock.Clock, logger zerolog.Logger) *ContentHandler {
	return &ContentHandler{
		store:    store,
		recorder: recorder,
		signer:   signer,
		clock:    clk,
		logger:   logger.With().Str("handler", "content").Logger(),
	}
}

func (h *ContentHandler) record(r *http.Request, action, targetType, targetID string, details map[string]any) {
	h.recorder.Record(r.Context(), audit.Entry{
		AdminID:    currentUser(r).ID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		IPAddress:  audit.ClientIP(r),
	})
}

// ListAnnouncements returns every announcement, newest first.
func (h *ContentHandler) ListAnnouncements(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.Announcements().List(r.Context(), false)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list announcements")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve announcements")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"announcements": items})
}

// CreateAnnouncement adds an announcement, stamping published_at when it
// is published straight away.
func (h *ContentHandler) CreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req createAnnouncementRequest
	if !decode(w, r, &req) {
		return
	}

	now := h.clock.Now()
	a := storage.Announcement{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Content:     req.Content,
		Type:        req.Type,
		IsPublished: req.IsPublished,
		CreatedBy:   currentUser(r).ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if a.Type == "" {
		a.Type = "notice"
	}
	if a.IsPublished {
		a.PublishedAt = &now
	}

	if err := h.store.Announcements().Create(r.Context(), a); err != nil {
		h.logger.Error().Err(err).Msg("Failed to create announcement")
		writeError(w, http.StatusInternalServerError, "Failed to create announcement")
		return
	}

	h.record(r, "announcement.create", audit.TargetAnnouncement, a.ID, map[string]any{"title": a.Title})
	writeJSON(w, http.StatusCreated, a)
}

// UpdateAnnouncement edits an announcement. Publishing stamps
// published_at and unpublishing clears it.
func (h *ContentHandler) UpdateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req updateAnnouncementRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Title == nil && req.Content == nil && req.Type == nil && req.IsPublished == nil {
		writeError(w, http.StatusBadRequest, "No fields to update")
		return
	}

	ctx := r.Context()
	id := mux.Vars(r)["id"]
	a, err := h.store.Announcements().Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Announcement not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get announcement")
		writeError(w, http.StatusInternalServerError, "Failed to update announcement")
		return
	}

	now := h.clock.Now()
	changes := map[string]any{}
	if req.Title != nil {
		a.Title = *req.Title
		changes["title"] = *req.Title
	}
	if req.Content != nil {
		a.Content = *req.Content
		changes["content"] = *req.Content
	}
	if req.Type != nil {
		a.Type = *req.Type
		changes["type"] = *req.Type
	}
	if req.IsPublished != nil {
		a.IsPublished = *req.IsPublished
		changes["is_published"] = *req.IsPublished
		if a.IsPublished {
			a.PublishedAt = &now
			changes["published_at"] = now
		} else {
			a.PublishedAt = nil
			changes["published_at"] = nil
		}
	}
	a.UpdatedAt = now

	if err := h.store.Announcements().Update(ctx, *a); err != nil {
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to update announcement")
		writeError(w, http.StatusInternalServerError, "Failed to update announcement")
		return
	}

	h.record(r, "announcement.update", audit.TargetAnnouncement, id, changes)
	writeJSON(w, http.StatusOK, a)
}

// DeleteAnnouncement removes an announcement.
func (h *ContentHandler) DeleteAnnouncement(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.Announcements().Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Announcement not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to delete announcement")
		writeError(w, http.StatusInternalServerError, "Failed to delete announcement")
		return
	}

	h.record(r, "announcement.delete", audit.TargetAnnouncement, id, nil)
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// ListFirmware returns every firmware version, highest code first.
func (h *ContentHandler) ListFirmware(w http.ResponseWriter, r *http.Request) {
	versions, err := h.store.Firmware().List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list firmware")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve firmware versions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"firmware_versions": versions})
}

// CreateFirmware registers a firmware build.
func (h *ContentHandler) CreateFirmware(w http.ResponseWriter, r *http.Request) {
	var req createFirmwareRequest
	if !decode(w, r, &req) {
		return
	}

	fw := storage.FirmwareVersion{
		ID:             uuid.NewString(),
		Version:        req.Version,
		VersionCode:    req.VersionCode,
		Changelog:      req.Changelog,
		BinaryURL:      req.BinaryURL,
		BinarySize:     req.BinarySize,
		BinaryChecksum: req.BinaryChecksum,
		MinVersionCode: req.MinVersionCode,
		IsActive:       true,
		CreatedAt:      h.clock.Now(),
	}
	if req.IsActive != nil {
		fw.IsActive = *req.IsActive
	}

	if err := h.store.Firmware().Create(r.Context(), fw); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			writeError(w, http.StatusConflict, "Firmware version code already exists")
			return
		}
		h.logger.Error().Err(err).Str("version", fw.Version).Msg("Failed to create firmware")
		writeError(w, http.StatusInternalServerError, "Failed to create firmware version")
		return
	}

	h.record(r, "firmware.create", audit.TargetFirmware, fw.ID, map[string]any{"version": fw.Version})
	writeJSON(w, http.StatusCreated, fw)
}

// ListRollouts returns every rollout with its firmware, newest first.
func (h *ContentHandler) ListRollouts(w http.ResponseWriter, r *http.Request) {
	rollouts, err := h.store.Rollouts().List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list rollouts")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve rollouts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"rollouts": rollouts})
}

// CreateRollout gates a firmware version. New rollouts start as drafts.
func (h *ContentHandler) CreateRollout(w http.ResponseWriter, r *http.Request) {
	var req createRolloutRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	if _, err := h.store.Firmware().Get(ctx, req.FirmwareVersionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Firmware version not found")
			return
		}
		h.logger.Error().Err(err).Str("firmware_version_id", req.FirmwareVersionID).Msg("Failed to get firmware")
		writeError(w, http.StatusInternalServerError, "Failed to create rollout")
		return
	}

	now := h.clock.Now()
	ro := storage.FirmwareRollout{
		ID:                uuid.NewString(),
		FirmwareVersionID: req.FirmwareVersionID,
		TargetPercentage:  req.TargetPercentage,
		Status:            storage.RolloutDraft,
		Notes:             req.Notes,
		CreatedBy:         currentUser(r).ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := h.store.Rollouts().Create(ctx, ro); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Firmware version not found")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to create rollout")
		writeError(w, http.StatusInternalServerError, "Failed to create rollout")
		return
	}

	h.record(r, "rollout.create", audit.TargetRollout, ro.ID, map[string]any{
		"firmware_version_id": ro.FirmwareVersionID,
		"target_percentage":   ro.TargetPercentage,
	})
	writeJSON(w, http.StatusCreated, ro)
}

// UpdateRollout changes a rollout's status, percentage or notes. Status
// changes must follow the rollout lifecycle.
func (h *ContentHandler) UpdateRollout(w http.ResponseWriter, r *http.Request) {
	var req updateRolloutRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Status == nil && req.TargetPercentage == nil && req.Notes == nil {
		writeError(w, http.StatusBadRequest, "No fields to update")
		return
	}

	ctx := r.Context()
	id := mux.Vars(r)["id"]
	ro, err := h.store.Rollouts().Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Rollout not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get rollout")
		writeError(w, http.StatusInternalServerError, "Failed to update rollout")
		return
	}

	changes := map[string]any{}
	if req.Status != nil {
		next := storage.RolloutStatus(*req.Status)
		if err := rollout.Transition(ro.Status, next); err != nil {
			writeError(w, http.StatusConflict, "Cannot change rollout status from "+string(ro.Status)+" to "+string(next))
			return
		}
		ro.Status = next
		changes["status"] = *req.Status
	}
	if req.TargetPercentage != nil {
		ro.TargetPercentage = *req.TargetPercentage
		changes["target_percentage"] = *req.TargetPercentage
	}
	if req.Notes != nil {
		ro.Notes = req.Notes
		changes["notes"] = *req.Notes
	}
	ro.UpdatedAt = h.clock.Now()

	if err := h.store.Rollouts().Update(ctx, *ro); err != nil {
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to update rollout")
		writeError(w, http.StatusInternalServerError, "Failed to update rollout")
		return
	}

	h.record(r, "rollout.update", audit.TargetRollout, id, changes)
	writeJSON(w, http.StatusOK, ro)
}

// UploadURL presigns an upload of a new firmware binary.
func (h *ContentHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	var req uploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Filename) == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}

	path := artifacts.ObjectPath(req.Filename, h.clock.Now())
	signed, err := h.signer.UploadURL(r.Context(), path)
	if err != nil {
		h.signerError(w, err, path)
		return
	}

	h.record(r, "firmware.upload_url", audit.TargetFirmware, "", map[string]any{
		"filename": artifacts.SafeName(req.Filename),
		"path":     path,
	})
	writeJSON(w, http.StatusOK, UploadURLResponse{
		SignedURL: signed.URL,
		Path:      signed.Path,
		ExpiresAt: signed.ExpiresAt,
	})
}

// DownloadURL presigns a download of a stored firmware binary.
func (h *ContentHandler) DownloadURL(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	signed, err := h.signer.DownloadURL(r.Context(), path)
	if err != nil {
		h.signerError(w, err, path)
		return
	}

	writeJSON(w, http.StatusOK, DownloadURLResponse{
		DownloadURL: signed.URL,
		ExpiresAt:   signed.ExpiresAt,
	})
}

func (h *ContentHandler) signerError(w http.ResponseWriter, err error, path string) {
	if errors.Is(err, artifacts.ErrNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, "Firmware storage is not configured")
		return
	}
	h.logger.Error().Err(err).Str("path", path).Msg("Failed to presign firmware URL")
	writeError(w, http.StatusInternalServerError, "Failed to create signed URL")
}
