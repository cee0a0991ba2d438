package handlers

import (
	"log/slog"
	"net/http"

	"github.com/iudanet/peersync/pkg/api"
)

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger *slog.Logger
}

// NewHealthHandler создает новый handler для health check
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		logger: logger,
	}
}

// Health обрабатывает GET /health.
// Отвечает, пока процесс жив; состояние синхронизации отдает /status.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	sendJSON(h.logger, w, api.HealthResponse{Status: "ok"}, http.StatusOK)
}
