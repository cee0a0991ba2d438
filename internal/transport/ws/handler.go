package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/iudanet/peersync/internal/orchestrator"
)

// Acceptor принимает входящее соединение (orchestrator.Engine)
type Acceptor interface {
	Accept(ctx context.Context, conn orchestrator.Connection) error
}

// Handler поднимает WebSocket и передает соединение в Acceptor
type Handler struct {
	acceptor Acceptor
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler создает обработчик GET /ws
func NewHandler(acceptor Acceptor, logger *slog.Logger) *Handler {
	return &Handler{
		acceptor: acceptor,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Пиры не браузеры: запросы с Origin отклоняются
			CheckOrigin: func(r *http.Request) bool {
				return r.Header.Get("Origin") == ""
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже записал ответ с ошибкой
		h.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	if err := h.acceptor.Accept(context.WithoutCancel(r.Context()), NewConn(c)); err != nil {
		h.logger.Warn("Peer connection rejected", "remote", r.RemoteAddr, "error", err)
	}
}
