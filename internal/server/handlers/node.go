package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/orchestrator"
	"github.com/iudanet/peersync/internal/pairing"
	"github.com/iudanet/peersync/pkg/api"
)

// Node операции движка синхронизации, доступные API управления
type Node interface {
	Status() orchestrator.Status
	PairingMaterials() models.PairingMaterials
	IsConnected(deviceID string) bool
	PublishLocalChange(
		ctx context.Context,
		documentID string,
		docType models.DocumentType,
		opType models.OperationType,
		payload map[string]any,
	) (*models.Operation, error)
}

// Pairing выпуск и проверка токенов сопряжения
type Pairing interface {
	Issue() (string, time.Time, error)
	Verify(token string) (*pairing.Claims, error)
}

// NodeHandler отдает состояние узла и данные для сопряжения
type NodeHandler struct {
	logger  *slog.Logger
	node    Node
	pairing Pairing
}

// NewNodeHandler создает handler состояния узла
func NewNodeHandler(logger *slog.Logger, node Node, p Pairing) *NodeHandler {
	return &NodeHandler{
		logger:  logger,
		node:    node,
		pairing: p,
	}
}

// Status обрабатывает GET /status
func (h *NodeHandler) Status(w http.ResponseWriter, r *http.Request) {
	st := h.node.Status()

	sendJSON(h.logger, w, api.StatusResponse{
		State:          string(st.State),
		DeviceID:       st.DeviceID,
		ConnectedPeers: st.ConnectedPeers,
		DocumentCount:  st.DocumentCount,
		VectorClock:    st.VectorClock,
	}, http.StatusOK)
}

// Pairing обрабатывает GET /pairing.
// Возвращает публичные ключи устройства и свежий подписанный токен сопряжения.
func (h *NodeHandler) Pairing(w http.ResponseWriter, r *http.Request) {
	token, expiresAt, err := h.pairing.Issue()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to issue pairing token", "error", err)
		sendError(h.logger, w, "failed to issue pairing token", http.StatusInternalServerError)
		return
	}

	sendJSON(h.logger, w, api.PairingResponse{
		Materials: h.node.PairingMaterials(),
		Token:     token,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}
