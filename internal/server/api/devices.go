package api

import (
	"errors"
	"net/http"

	"github.com/goodtune/dtxcloud/internal/auth"
	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type registerDeviceRequest struct {
	SerialNumber    string `json:"serial_number" validate:"required,min=1,max=100"`
	ModelName       string `json:"model_name" validate:"max=100"`
	FirmwareVersion string `json:"firmware_version" validate:"max=50"`
	BLEMacAddress   string `json:"ble_mac_address" validate:"max=20"`
}

type updateDeviceRequest struct {
	Nickname        *string `json:"nickname" validate:"omitempty,max=100"`
	FirmwareVersion *string `json:"firmware_version" validate:"omitempty,max=50"`
}

type transferDeviceRequest struct {
	ToEmail string `json:"to_email" validate:"required,email"`
}

// DeviceHandler handles the caller's devices.
type DeviceHandler struct {
	devices storage.DeviceStore
	users   storage.UserStore
	clock   clock.Clock
	logger  zerolog.Logger
}

// NewDeviceHandler creates a new device handler.
func NewDeviceHandler(devices storage.DeviceStore, users storage.UserStore, clk clock.Clock, logger zerolog.Logger) *DeviceHandler {
	return &DeviceHandler{
		devices: devices,
		users:   users,
		clock:   clk,
		logger:  logger.With().Str("handler", "device").Logger(),
	}
}

// List returns the caller's devices, newest first.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	devices, err := h.devices.ListByUser(r.Context(), user.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to list devices")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

// Register adds a device to the caller's account.
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if !decode(w, r, &req) {
		return
	}

	user := currentUser(r)
	now := h.clock.Now()
	device := storage.Device{
		ID:              uuid.NewString(),
		UserID:          user.ID,
		SerialNumber:    req.SerialNumber,
		ModelName:       req.ModelName,
		FirmwareVersion: optional(req.FirmwareVersion),
		BLEMacAddress:   optional(req.BLEMacAddress),
		IsActive:        true,
		RegisteredAt:    now,
		UpdatedAt:       now,
	}
	if device.ModelName == "" {
		device.ModelName = storage.DefaultModelName
	}

	if err := h.devices.Create(r.Context(), device); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			writeError(w, http.StatusConflict, "Device already registered")
			return
		}
		h.logger.Error().Err(err).Str("serial", req.SerialNumber).Msg("Failed to register device")
		writeError(w, http.StatusInternalServerError, "Failed to register device")
		return
	}

	h.logger.Info().Str("id", device.ID).Str("user_id", user.ID).Msg("Device registered")
	writeJSON(w, http.StatusCreated, map[string]interface{}{"device": device})
}

// owned loads the device named in the path if the caller owns it.
func (h *DeviceHandler) owned(w http.ResponseWriter, r *http.Request) (*storage.Device, bool) {
	id := mux.Vars(r)["id"]
	user := currentUser(r)

	device, err := h.devices.GetOwned(r.Context(), id, user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Device not found")
			return nil, false
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get device")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve device")
		return nil, false
	}
	return device, true
}

// Get returns one of the caller's devices.
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	device, ok := h.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"device": device})
}

// Update changes a device's nickname or firmware version.
func (h *DeviceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateDeviceRequest
	if !decode(w, r, &req) {
		return
	}

	device, ok := h.owned(w, r)
	if !ok {
		return
	}

	if req.Nickname != nil {
		device.Nickname = req.Nickname
	}
	if req.FirmwareVersion != nil {
		device.FirmwareVersion = req.FirmwareVersion
	}
	device.UpdatedAt = h.clock.Now()

	if err := h.devices.Update(r.Context(), *device); err != nil {
		h.logger.Error().Err(err).Str("id", device.ID).Msg("Failed to update device")
		writeError(w, http.StatusInternalServerError, "Failed to update device")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"device": device})
}

// Delete deactivates a device. Its sessions are kept.
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	device, ok := h.owned(w, r)
	if !ok {
		return
	}

	device.IsActive = false
	device.UpdatedAt = h.clock.Now()
	if err := h.devices.Update(r.Context(), *device); err != nil {
		h.logger.Error().Err(err).Str("id", device.ID).Msg("Failed to deactivate device")
		writeError(w, http.StatusInternalServerError, "Failed to delete device")
		return
	}

	h.logger.Info().Str("id", device.ID).Msg("Device deactivated")
	writeJSON(w, http.StatusOK, map[string]interface{}{"device": device})
}

// Transfer hands a device over to another account.
func (h *DeviceHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferDeviceRequest
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	user := currentUser(r)
	id := mux.Vars(r)["id"]

	if _, err := h.devices.GetOwned(ctx, id, user.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Device not found or not owned by you")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get device")
		writeError(w, http.StatusInternalServerError, "Failed to transfer device")
		return
	}

	target, err := h.users.GetByEmail(ctx, auth.NormalizeEmail(req.ToEmail))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Target user not found")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to look up transfer target")
		writeError(w, http.StatusInternalServerError, "Failed to transfer device")
		return
	}
	if target.ID == user.ID {
		writeError(w, http.StatusBadRequest, "Cannot transfer device to yourself")
		return
	}

	transfer := storage.DeviceTransfer{
		ID:         uuid.NewString(),
		DeviceID:   id,
		FromUserID: user.ID,
		ToUserID:   target.ID,
		Status:     storage.TransferStatusPending,
		CreatedAt:  h.clock.Now(),
	}
	if err := h.devices.Transfer(ctx, transfer); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Device not found or not owned by you")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to transfer device")
		writeError(w, http.StatusInternalServerError, "Failed to transfer device")
		return
	}

	h.logger.Info().Str("id", id).Str("from", user.ID).Str("to", target.ID).Msg("Device transferred")
	writeJSON(w, http.StatusOK, map[string]interface{}{"transfer": transfer})
}
