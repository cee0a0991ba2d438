package orchestrator

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iudanet/peersync/internal/crdt"
)

// Причины отклонения операций
const (
	reasonAuthentication = "authentication"
	reasonStale          = "stale"
	reasonInvalid        = "invalid"
	reasonPermission     = "permission"
	reasonStorage        = "storage"
)

type metrics struct {
	opsCreated      prometheus.Counter
	opsSent         prometheus.Counter
	opsReceived     prometheus.Counter
	opsApplied      prometheus.Counter
	opsRejected     *prometheus.CounterVec
	decryptFailures prometheus.Counter
	invalidFrames   prometheus.Counter
	transportErrors prometheus.Counter
	syncSessions    prometheus.Counter
	connectedPeers  prometheus.Gauge
}

// newMetrics создает счетчики и регистрирует их, если reg не nil
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		opsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "peersync", Name: "operations_created_total",
			Help: "Local operations created on this device.",
		}),
		opsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "peersync", Name: "operations_sent_total",
			Help: "Operations queued to peers.",
		}),
		opsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "peersync", Name: "operations_received_total",
			Help: "Operations received from peers.",
		}),
		opsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "peersync", Name: "operations_applied_total",
			Help: "Remote operations merged into the document store.",
		}),
		opsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peersync", Name: "operations_rejected_total",
			Help: "Remote operations dropped, by reason.",
		}, []string{"reason"}),
		decryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "peersync", Name: "decrypt_failures_total",
			Help: "Frames that failed authenticated decryption.",
		}),
		invalidFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "peersync", Name: "invalid_frames_total",
			Help: "Frames or envelopes that did not match the wire schema.",
		}),
		transportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "peersync", Name: "transport_errors_total",
			Help: "Dial, send and receive failures.",
		}),
		syncSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "peersync", Name: "sync_sessions_total",
			Help: "Completed initial sync exchanges.",
		}),
		connectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "peersync", Name: "connected_peers",
			Help: "Currently connected peers.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.opsCreated, m.opsSent, m.opsReceived, m.opsApplied, m.opsRejected,
			m.decryptFailures, m.invalidFrames, m.transportErrors, m.syncSessions, m.connectedPeers,
		)
	}
	return m
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, crdt.ErrAuthentication):
		return reasonAuthentication
	case errors.Is(err, crdt.ErrStaleOperation):
		return reasonStale
	case errors.Is(err, crdt.ErrInvalidOperation):
		return reasonInvalid
	default:
		return reasonStorage
	}
}
