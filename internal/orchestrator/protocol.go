package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/iudanet/peersync/internal/crdt"
	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/trust"
	"github.com/iudanet/peersync/pkg/api"
)

// maxOpsPerEnvelope ограничивает размер одного сообщения с операциями
const maxOpsPerEnvelope = 500

var errPeerClosed = errors.New("peer connection closed")

func summaryEnvelope(summary map[string]models.VectorClock) *api.Envelope {
	return &api.Envelope{Type: api.EnvelopeSummary, Summary: summary}
}

func pingEnvelope() *api.Envelope {
	return &api.Envelope{Type: api.EnvelopePing}
}

func (e *Engine) sendHello(ctx context.Context, conn Connection) error {
	data, err := json.Marshal(api.Frame{
		Type: api.FrameHello,
		Hello: &api.Hello{
			DeviceID:     e.deps.Identity.DeviceID(),
			Name:         e.opts.Name,
			DeviceType:   string(e.opts.DeviceType),
			Capabilities: e.opts.Capabilities,
			Port:         e.opts.Port,
			Protocol:     api.ProtocolVersion,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to encode hello: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.HandshakeTimeout)
	defer cancel()
	if err := conn.Send(ctx, data); err != nil {
		e.metrics.transportErrors.Inc()
		return fmt.Errorf("%w: failed to send hello: %v", ErrHandshake, err)
	}
	return nil
}

// receiveHello читает первый кадр соединения. Соединение закрывается, если hello не пришел вовремя.
func (e *Engine) receiveHello(conn Connection) (*api.Hello, error) {
	timer := time.AfterFunc(e.opts.HandshakeTimeout, func() { _ = conn.Close() })
	defer timer.Stop()

	data, err := conn.Receive()
	if err != nil {
		e.metrics.transportErrors.Inc()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	frame, err := api.DecodeFrame(data)
	if err != nil {
		e.metrics.invalidFrames.Inc()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if frame.Type != api.FrameHello || frame.Hello == nil {
		return nil, fmt.Errorf("%w: expected hello, got %s", ErrHandshake, frame.Type)
	}
	if frame.Hello.Protocol != api.ProtocolVersion {
		return nil, fmt.Errorf("%w: unsupported protocol version %d", ErrHandshake, frame.Hello.Protocol)
	}
	return frame.Hello, nil
}

// sendEnvelope шифрует сообщение для пира и ставит его в outbox.
// Переполненный outbox означает зависшего пира: он отключается.
func (e *Engine) sendEnvelope(p *peer, env *api.Envelope) error {
	plaintext, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	sealed, err := e.deps.Channel.Seal(plaintext, p.id)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(api.Frame{Type: api.FrameSealed, Sealed: sealed})
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	select {
	case <-p.ctx.Done():
		return errPeerClosed
	default:
	}

	select {
	case p.outbox <- frame:
		return nil
	default:
		err := fmt.Errorf("%w: outbox full", ErrTransportTimeout)
		e.metrics.transportErrors.Inc()
		e.dropPeer(p, err)
		return err
	}
}

func (e *Engine) sendOperations(p *peer, ops []*models.Operation) {
	for start := 0; start < len(ops); start += maxOpsPerEnvelope {
		end := min(start+maxOpsPerEnvelope, len(ops))
		batch := ops[start:end]
		if err := e.sendEnvelope(p, &api.Envelope{Type: api.EnvelopeOperations, Operations: batch}); err != nil {
			e.logger.Warn("Failed to send operations", "peer", p.id, "error", err)
			return
		}
		e.metrics.opsSent.Add(float64(len(batch)))
	}
}

// broadcast рассылает операцию всем подключенным пирам с правом sync:read
func (e *Engine) broadcast(op *models.Operation) {
	for _, p := range e.snapshotPeers() {
		if !e.deps.Trust.Check(p.id, trust.CapabilitySync, models.LevelRead) {
			continue
		}
		e.sendOperations(p, []*models.Operation{op})
	}
}

// handleFrame расшифровывает и обрабатывает кадр пира. Ошибки считаются и не прерывают работу.
func (e *Engine) handleFrame(ctx context.Context, p *peer, data []byte) {
	frame, err := api.DecodeFrame(data)
	if err != nil {
		e.metrics.invalidFrames.Inc()
		e.logger.Warn("Invalid frame", "peer", p.id, "error", err)
		return
	}
	if frame.Type != api.FrameSealed {
		e.logger.Debug("Ignoring unexpected frame", "peer", p.id, "type", frame.Type)
		return
	}

	plaintext, err := e.deps.Channel.Open(frame.Sealed, p.id)
	if err != nil {
		e.metrics.decryptFailures.Inc()
		e.logger.Warn("Dropping undecryptable frame", "peer", p.id, "error", err)
		return
	}

	env, err := api.DecodeEnvelope(plaintext)
	if err != nil {
		e.metrics.invalidFrames.Inc()
		e.logger.Warn("Invalid envelope", "peer", p.id, "error", err)
		return
	}

	switch env.Type {
	case api.EnvelopeSummary:
		e.handleSummary(p, env.Summary)
	case api.EnvelopeRequest:
		e.handleRequest(p, env.Request)
	case api.EnvelopeOperations:
		e.handleOperations(ctx, p, env.Operations)
	case api.EnvelopePing:
	}
}

// handleSummary отвечает на summary инициатора: отправляет операции, которых у него нет,
// и запрашивает документы, в которых он впереди. Request отправляется всегда и
// служит подтверждением summary.
func (e *Engine) handleSummary(p *peer, remote map[string]models.VectorClock) {
	local := e.deps.Store.Summary()

	if e.deps.Trust.Check(p.id, trust.CapabilitySync, models.LevelRead) {
		var ops []*models.Operation
		for _, id := range sortedKeys(local) {
			ops = append(ops, e.deps.Store.OperationsSince(id, remote[id])...)
		}
		e.sendOperations(p, ops)
	}

	request := make(map[string]models.VectorClock)
	if e.deps.Trust.Check(p.id, trust.CapabilitySync, models.LevelRead) {
		for id, theirs := range remote {
			mine := local[id]
			if mine == nil {
				mine = models.VectorClock{}
			}
			if !theirs.LessOrEqual(mine) {
				request[id] = mine
			}
		}
	}

	if err := e.sendEnvelope(p, &api.Envelope{Type: api.EnvelopeRequest, Request: request}); err != nil {
		e.logger.Warn("Failed to send sync request", "peer", p.id, "error", err)
	}
	e.finishSync(p)
}

// handleRequest отправляет операции по запрошенным документам
func (e *Engine) handleRequest(p *peer, request map[string]models.VectorClock) {
	if e.deps.Trust.Check(p.id, trust.CapabilitySync, models.LevelRead) {
		var ops []*models.Operation
		for _, id := range sortedKeys(request) {
			ops = append(ops, e.deps.Store.OperationsSince(id, request[id])...)
		}
		e.sendOperations(p, ops)
	}
	e.finishSync(p)
}

// handleOperations применяет операции пира. Достаточно sync:read, который доверенное
// устройство получает по умолчанию; sync:none отключает прием.
// Операции могут быть созданы третьим устройством: подпись проверяется по origin.
func (e *Engine) handleOperations(ctx context.Context, p *peer, ops []*models.Operation) {
	allowed := e.deps.Trust.Check(p.id, trust.CapabilitySync, models.LevelRead)

	for _, op := range ops {
		e.metrics.opsReceived.Inc()

		if !allowed {
			e.metrics.opsRejected.WithLabelValues(reasonPermission).Inc()
			e.logger.Warn("Peer has no sync permission", "peer", p.id, "operation_id", op.ID)
			continue
		}

		applied, err := e.deps.Store.ApplyOperation(ctx, op)
		switch {
		case err == nil && applied:
			e.metrics.opsApplied.Inc()
		case errors.Is(err, crdt.ErrStaleOperation):
			e.metrics.opsRejected.WithLabelValues(reasonStale).Inc()
		case err != nil:
			e.metrics.opsRejected.WithLabelValues(rejectReason(err)).Inc()
			e.logger.Warn("Operation rejected", "peer", p.id, "operation_id", op.ID, "error", err)
		}
	}
}

func sortedKeys(m map[string]models.VectorClock) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
