package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/trust"
	"github.com/iudanet/peersync/internal/validation"
	"github.com/iudanet/peersync/pkg/api"
)

// TrustService операции над набором доверенных устройств
type TrustService interface {
	Trust(ctx context.Context, c trust.Candidate, grants map[string]models.PermissionLevel) bool
	Untrust(ctx context.Context, deviceID string) error
	Grant(ctx context.Context, deviceID, capability string, level models.PermissionLevel, ttl time.Duration) error
	Revoke(ctx context.Context, deviceID, capability string) error
	Get(deviceID string) (*models.TrustedDevice, error)
	List() []*models.TrustedDevice
}

// PeersHandler управляет доверенными устройствами
type PeersHandler struct {
	logger  *slog.Logger
	trust   TrustService
	node    Node
	pairing Pairing
}

// NewPeersHandler создает handler доверенных устройств
func NewPeersHandler(logger *slog.Logger, ts TrustService, node Node, p Pairing) *PeersHandler {
	return &PeersHandler{
		logger:  logger,
		trust:   ts,
		node:    node,
		pairing: p,
	}
}

// List обрабатывает GET /peers
func (h *PeersHandler) List(w http.ResponseWriter, r *http.Request) {
	devices := h.trust.List()

	resp := make([]api.PeerResponse, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, api.NewPeerResponse(d, h.node.IsConnected(d.DeviceID)))
	}

	sendJSON(h.logger, w, resp, http.StatusOK)
}

// Accept обрабатывает POST /peers.
// Проверяет токен сопряжения и добавляет устройство в доверенные с sync:write.
func (h *PeersHandler) Accept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.AcceptPairingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.WarnContext(ctx, "Invalid pairing request", "error", err)
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		sendError(h.logger, w, "token is required", http.StatusBadRequest)
		return
	}

	claims, err := h.pairing.Verify(req.Token)
	if err != nil {
		h.logger.WarnContext(ctx, "Pairing token rejected", "error", err)
		sendError(h.logger, w, "invalid pairing token", http.StatusBadRequest)
		return
	}

	candidate, err := claims.Candidate()
	if err != nil {
		h.logger.WarnContext(ctx, "Pairing token carries malformed keys", "error", err)
		sendError(h.logger, w, "invalid pairing token", http.StatusBadRequest)
		return
	}

	grants := map[string]models.PermissionLevel{trust.CapabilitySync: models.LevelWrite}
	if !h.trust.Trust(ctx, candidate, grants) {
		sendError(h.logger, w, "device cannot be trusted", http.StatusBadRequest)
		return
	}

	device, err := h.trust.Get(candidate.DeviceID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Trusted device disappeared", "device_id", candidate.DeviceID, "error", err)
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "Device paired", "device_id", device.DeviceID, "name", device.DisplayName)
	sendJSON(h.logger, w, api.NewPeerResponse(device, h.node.IsConnected(device.DeviceID)), http.StatusCreated)
}

// Untrust обрабатывает DELETE /peers/{id}
func (h *PeersHandler) Untrust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := mux.Vars(r)["id"]
	if !validDeviceID(h.logger, w, deviceID) {
		return
	}

	if _, err := h.trust.Get(deviceID); err != nil {
		h.sendTrustError(w, r, err)
		return
	}

	if err := h.trust.Untrust(ctx, deviceID); err != nil {
		h.sendTrustError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Grant обрабатывает PUT /peers/{id}/permissions/{capability}
func (h *PeersHandler) Grant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	deviceID, capability := vars["id"], vars["capability"]
	if !validDeviceID(h.logger, w, deviceID) {
		return
	}

	var req api.GrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	level, err := models.ParsePermissionLevel(req.Level)
	if err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		ttl, err = time.ParseDuration(req.TTL)
		if err != nil || ttl <= 0 {
			sendError(h.logger, w, "ttl must be a positive duration", http.StatusBadRequest)
			return
		}
	}

	if err := h.trust.Grant(ctx, deviceID, capability, level, ttl); err != nil {
		h.sendTrustError(w, r, err)
		return
	}

	h.sendDevice(w, r, deviceID)
}

// Revoke обрабатывает DELETE /peers/{id}/permissions/{capability}
func (h *PeersHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	deviceID := vars["id"]
	if !validDeviceID(h.logger, w, deviceID) {
		return
	}

	if err := h.trust.Revoke(r.Context(), deviceID, vars["capability"]); err != nil {
		h.sendTrustError(w, r, err)
		return
	}

	h.sendDevice(w, r, deviceID)
}

func (h *PeersHandler) sendDevice(w http.ResponseWriter, r *http.Request, deviceID string) {
	device, err := h.trust.Get(deviceID)
	if err != nil {
		h.sendTrustError(w, r, err)
		return
	}
	sendJSON(h.logger, w, api.NewPeerResponse(device, h.node.IsConnected(deviceID)), http.StatusOK)
}

// sendTrustError переводит ошибки trust в HTTP статусы
func (h *PeersHandler) sendTrustError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, trust.ErrUnknownDevice):
		sendError(h.logger, w, "device not found", http.StatusNotFound)
	case errors.Is(err, trust.ErrUnknownCapability):
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.ErrorContext(r.Context(), "Trust operation failed", "path", r.URL.Path, "error", err)
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
	}
}

// validDeviceID проверяет {id} из пути до обращения к trust
func validDeviceID(logger *slog.Logger, w http.ResponseWriter, id string) bool {
	if err := validation.ValidateDeviceID(id); err != nil {
		sendError(logger, w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
