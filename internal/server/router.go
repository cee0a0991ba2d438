// Package server собирает HTTP слушатели узла: синхронизацию (WebSocket) и API управления.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iudanet/peersync/internal/server/handlers"
	"github.com/iudanet/peersync/internal/server/middleware"
	"github.com/iudanet/peersync/internal/transport/ws"
)

// Пути, доступные без токена и не попадающие в access log
const (
	HealthPath  = "/health"
	MetricsPath = "/metrics"
)

// ControlDeps зависимости API управления
type ControlDeps struct {
	Node      handlers.Node
	Trust     handlers.TrustService
	Documents handlers.Documents
	Pairing   handlers.Pairing
	Gatherer  prometheus.Gatherer // nil - prometheus.DefaultGatherer
	Limiter   *middleware.RateLimiter
	Token     string
}

// NewControlRouter создает router API управления
func NewControlRouter(deps ControlDeps, logger *slog.Logger) http.Handler {
	health := handlers.NewHealthHandler(logger)
	node := handlers.NewNodeHandler(logger, deps.Node, deps.Pairing)
	peers := handlers.NewPeersHandler(logger, deps.Trust, deps.Node, deps.Pairing)
	docs := handlers.NewDocumentsHandler(logger, deps.Documents, deps.Node)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := mux.NewRouter()
	r.HandleFunc(HealthPath, health.Health).Methods(http.MethodGet)
	r.Handle(MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/status", node.Status).Methods(http.MethodGet)
	r.HandleFunc("/pairing", node.Pairing).Methods(http.MethodGet)

	r.HandleFunc("/peers", peers.List).Methods(http.MethodGet)
	r.HandleFunc("/peers", peers.Accept).Methods(http.MethodPost)
	r.HandleFunc("/peers/{id}", peers.Untrust).Methods(http.MethodDelete)
	r.HandleFunc("/peers/{id}/permissions/{capability}", peers.Grant).Methods(http.MethodPut)
	r.HandleFunc("/peers/{id}/permissions/{capability}", peers.Revoke).Methods(http.MethodDelete)

	r.HandleFunc("/documents", docs.List).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}", docs.Get).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}", docs.Put).Methods(http.MethodPut)
	r.HandleFunc("/documents/{id}", docs.Delete).Methods(http.MethodDelete)

	// Порядок: recovery -> logging -> rate limit -> token
	var h http.Handler = r
	h = middleware.TokenAuth(logger, deps.Token, HealthPath, MetricsPath)(h)
	if deps.Limiter != nil {
		h = deps.Limiter.Middleware(h)
	}
	h = middleware.Logging(logger, HealthPath, MetricsPath)(h)
	return middleware.Recovery(logger)(h)
}

// NewSyncRouter создает router слушателя синхронизации: только GET /ws
func NewSyncRouter(acceptor ws.Acceptor, limiter *middleware.RateLimiter, logger *slog.Logger) http.Handler {
	r := mux.NewRouter()
	r.Handle(ws.Path, ws.NewHandler(acceptor, logger)).Methods(http.MethodGet)

	var h http.Handler = r
	if limiter != nil {
		h = limiter.Middleware(h)
	}
	h = middleware.Logging(logger)(h)
	return middleware.Recovery(logger)(h)
}
