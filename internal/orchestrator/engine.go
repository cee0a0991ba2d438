// Package orchestrator ведет протокол синхронизации: подключение доверенных пиров,
// начальную дельта-синхронизацию, рассылку локальных операций и прием удаленных.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-retry"

	"github.com/iudanet/peersync/internal/channel"
	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/storage"
)

// Options параметры движка
type Options struct {
	Registerer       prometheus.Registerer // nil - метрики не регистрируются
	Name             string
	DeviceType       models.DeviceType
	Capabilities     []string
	Port             int
	OutboxSize       int
	SendTimeout      time.Duration
	HandshakeTimeout time.Duration
	DeviceTimeout    time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
}

func (o *Options) setDefaults() {
	if o.OutboxSize <= 0 {
		o.OutboxSize = 256
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.DeviceTimeout <= 0 {
		o.DeviceTimeout = 300 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = time.Minute
	}
}

// Deps компоненты, которые движок связывает между собой
type Deps struct {
	Identity  Identity
	Trust     TrustView
	Channel   SecureChannel
	Store     DocumentStore
	Dialer    Dialer
	Discovery Discovery              // nil - только входящие соединения и известные адреса
	Addresses storage.AddressStorage // nil - адреса пиров не запоминаются
}

// Status состояние для наблюдения
type Status struct {
	VectorClock    models.VectorClock `json:"vector_clock"`
	State          State              `json:"state"`
	DeviceID       string             `json:"device_id"`
	ConnectedPeers []string           `json:"connected_peers"`
	DocumentCount  int                `json:"document_count"`
}

type inbound struct {
	peer *peer
	data []byte
}

// Engine движок синхронизации. Один экземпляр на процесс.
type Engine struct {
	deps    Deps
	logger  *slog.Logger
	metrics *metrics
	runCtx  context.Context
	cancel  context.CancelFunc
	peers   map[string]*peer
	dialing map[string]struct{}
	inbox   chan inbound
	opts    Options
	state   State
	wg      sync.WaitGroup
	syncing atomic.Int32
	mu      sync.Mutex
}

// New создает движок в состоянии Stopped
func New(deps Deps, opts Options, logger *slog.Logger) *Engine {
	opts.setDefaults()

	e := &Engine{
		deps:    deps,
		logger:  logger,
		metrics: newMetrics(opts.Registerer),
		peers:   make(map[string]*peer),
		dialing: make(map[string]struct{}),
		inbox:   make(chan inbound, 256),
		opts:    opts,
		state:   StateStopped,
	}
	deps.Trust.OnUntrust(e.RemoveDevice)
	return e
}

// Start загружает документы, запускает обработку сообщений и discovery.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.runCtx != nil {
		e.mu.Unlock()
		return nil
	}
	e.state = StateStarting
	e.mu.Unlock()

	if err := e.deps.Store.Load(ctx); err != nil {
		e.setState(StateError)
		return fmt.Errorf("failed to load document store: %w", err)
	}

	e.mu.Lock()
	e.runCtx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := e.runCtx
	e.state = StateDiscovering
	e.wg.Add(2)
	e.mu.Unlock()

	go e.dispatch(runCtx)
	go e.livenessLoop(runCtx)

	if e.deps.Discovery != nil {
		e.wg.Add(1)
		go e.discoveryLoop(runCtx)
	}
	if e.deps.Addresses != nil {
		e.wg.Add(1)
		go e.redialKnown(runCtx)
	}

	e.logger.Info("Sync engine started",
		"device_id", e.deps.Identity.DeviceID(),
		"documents", e.deps.Store.DocumentCount())
	return nil
}

// Stop отменяет discovery и все соединения и дожидается завершения горутин
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.runCtx == nil {
		e.state = StateStopped
		e.mu.Unlock()
		return
	}
	e.cancel()
	e.runCtx = nil
	peers := make([]*peer, 0, len(e.peers))
	for _, p := range e.peers {
		peers = append(peers, p)
	}
	e.peers = make(map[string]*peer)
	e.mu.Unlock()

	for _, p := range peers {
		p.close()
		e.deps.Channel.CloseSession(p.id)
	}
	e.wg.Wait()

	e.syncing.Store(0)
	e.metrics.connectedPeers.Set(0)
	e.setState(StateStopped)
	e.logger.Info("Sync engine stopped")
}

// AddDevice подключается к доверенному устройству и запускает начальную синхронизацию.
// Уже подключенное устройство не переподключается.
func (e *Engine) AddDevice(ctx context.Context, desc models.DeviceDescriptor) error {
	self := e.deps.Identity.DeviceID()
	id := desc.DeviceID

	if !e.running() {
		return ErrNotRunning
	}
	if id == "" || id == self {
		return fmt.Errorf("%w: invalid device id %q", ErrHandshake, id)
	}
	if !e.deps.Trust.IsTrusted(id) {
		return fmt.Errorf("%w: %s", channel.ErrUntrustedPeer, id)
	}
	if e.IsConnected(id) || !e.beginDial(id) {
		return nil
	}
	defer e.endDial(id)

	if _, err := e.deps.Channel.EstablishSession(id); err != nil {
		return err
	}
	// Ключ сессии живет, пока есть соединение. Встречное соединение могло
	// появиться за время рукопожатия, тогда ключ ему еще нужен.
	abort := func(conn Connection) {
		if conn != nil {
			_ = conn.Close()
		}
		if !e.IsConnected(id) {
			e.deps.Channel.CloseSession(id)
		}
	}

	conn, err := e.deps.Dialer.Dial(ctx, desc)
	if err != nil {
		e.metrics.transportErrors.Inc()
		abort(nil)
		return fmt.Errorf("failed to dial %s: %w", id, err)
	}

	if err := e.sendHello(ctx, conn); err != nil {
		abort(conn)
		return err
	}
	hello, err := e.receiveHello(conn)
	if err != nil {
		abort(conn)
		return err
	}
	if hello.DeviceID != id {
		abort(conn)
		return fmt.Errorf("%w: expected %s, peer introduced itself as %s", ErrHandshake, id, hello.DeviceID)
	}

	p := e.register(id, self, conn)
	if p == nil {
		_ = conn.Close()
		return nil
	}

	if err := e.sendEnvelope(p, summaryEnvelope(e.deps.Store.Summary())); err != nil {
		return err
	}

	e.afterConnect(ctx, p, desc)
	return nil
}

// Accept обрабатывает входящее соединение: hello, проверка доверия, регистрация пира.
// Возвращается после рукопожатия, дальше соединение обслуживают горутины движка.
func (e *Engine) Accept(ctx context.Context, conn Connection) error {
	if !e.running() {
		_ = conn.Close()
		return ErrNotRunning
	}

	hello, err := e.receiveHello(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	id := hello.DeviceID
	if id == e.deps.Identity.DeviceID() {
		_ = conn.Close()
		return fmt.Errorf("%w: connection from self", ErrHandshake)
	}
	if !e.deps.Trust.IsTrusted(id) {
		_ = conn.Close()
		e.logger.Warn("Rejected connection from untrusted device", "device_id", id, "remote", conn.RemoteAddr())
		return fmt.Errorf("%w: %s", channel.ErrUntrustedPeer, id)
	}
	if _, err := e.deps.Channel.EstablishSession(id); err != nil {
		_ = conn.Close()
		return err
	}
	if err := e.sendHello(ctx, conn); err != nil {
		_ = conn.Close()
		return err
	}

	p := e.register(id, id, conn)
	if p == nil {
		_ = conn.Close()
		return nil
	}
	e.afterConnect(ctx, p, models.DeviceDescriptor{
		DeviceID:     id,
		Name:         hello.Name,
		Type:         models.DeviceType(hello.DeviceType),
		Address:      hostOf(conn.RemoteAddr()),
		Port:         hello.Port,
		Capabilities: hello.Capabilities,
	})
	return nil
}

// RemoveDevice закрывает соединение и сессию пира. Доверие не отзывается.
func (e *Engine) RemoveDevice(deviceID string) {
	e.mu.Lock()
	p := e.peers[deviceID]
	e.mu.Unlock()

	if p != nil {
		e.dropPeer(p, nil)
		return
	}
	e.deps.Channel.CloseSession(deviceID)
}

// PublishLocalChange создает локальную операцию и рассылает ее подключенным пирам.
// Ошибка отправки одному пиру не влияет на остальных.
func (e *Engine) PublishLocalChange(
	ctx context.Context,
	documentID string,
	docType models.DocumentType,
	opType models.OperationType,
	payload map[string]any,
) (*models.Operation, error) {
	if !e.running() {
		return nil, ErrNotRunning
	}

	op, err := e.deps.Store.CreateLocalOperation(ctx, documentID, docType, opType, payload)
	if err != nil {
		return nil, err
	}
	e.metrics.opsCreated.Inc()

	e.broadcast(op)
	return op, nil
}

// Status возвращает текущее состояние движка
func (e *Engine) Status() Status {
	e.mu.Lock()
	state := e.state
	ids := make([]string, 0, len(e.peers))
	for id := range e.peers {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)

	if state == StateDiscovering {
		switch {
		case e.syncing.Load() > 0:
			state = StateSyncing
		case len(ids) > 0:
			state = StateConnected
		}
	}

	return Status{
		State:          state,
		DeviceID:       e.deps.Identity.DeviceID(),
		ConnectedPeers: ids,
		DocumentCount:  e.deps.Store.DocumentCount(),
		VectorClock:    e.deps.Store.GlobalClock(),
	}
}

// PairingMaterials публичные данные устройства для сопряжения
func (e *Engine) PairingMaterials() models.PairingMaterials {
	return e.deps.Identity.PairingMaterials()
}

// IsConnected сообщает, есть ли активное соединение с пиром
func (e *Engine) IsConnected(deviceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.peers[deviceID]
	return ok
}

func (e *Engine) running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runCtx != nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != s {
		e.logger.Debug("Sync engine state changed", "from", e.state, "to", s)
		e.state = s
	}
}

func (e *Engine) beginDial(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.dialing[id]; ok {
		return false
	}
	e.dialing[id] = struct{}{}
	return true
}

func (e *Engine) endDial(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.dialing, id)
}

// register добавляет пира и запускает его горутины.
// Если соединение с пиром уже есть, остается то, которое открыл устройство с меньшим device_id:
// обе стороны принимают одинаковое решение. Возвращает nil, если новое соединение лишнее.
func (e *Engine) register(id, dialedBy string, conn Connection) *peer {
	e.mu.Lock()
	if e.runCtx == nil {
		e.mu.Unlock()
		return nil
	}

	preferred := e.deps.Identity.DeviceID()
	if id < preferred {
		preferred = id
	}

	existing := e.peers[id]
	if existing != nil && existing.dialedBy == preferred && dialedBy != preferred {
		e.mu.Unlock()
		e.logger.Debug("Dropping duplicate connection", "peer", id)
		return nil
	}

	p := newPeer(e.runCtx, id, dialedBy, conn, e.opts.OutboxSize)
	// начальная синхронизация идет до первого request (инициатор) или summary (принимающая сторона)
	p.syncing.Store(true)
	e.syncing.Add(1)
	e.peers[id] = p
	count := len(e.peers)
	e.wg.Add(2)
	go e.readLoop(p)
	go e.writeLoop(p)
	e.mu.Unlock()

	if existing != nil {
		e.unmarkSyncing(existing)
		existing.close()
		e.logger.Debug("Replaced connection", "peer", id)
	}

	e.metrics.connectedPeers.Set(float64(count))
	e.logger.Info("Peer connected", "peer", id, "remote", conn.RemoteAddr(), "dialed_by", dialedBy)
	return p
}

// dropPeer закрывает соединение и убирает пира, если он все еще зарегистрирован
func (e *Engine) dropPeer(p *peer, cause error) {
	p.close()

	e.mu.Lock()
	removed := e.peers[p.id] == p
	if removed {
		delete(e.peers, p.id)
	}
	count := len(e.peers)
	e.mu.Unlock()

	if !removed {
		return
	}

	e.unmarkSyncing(p)
	e.deps.Channel.CloseSession(p.id)
	e.metrics.connectedPeers.Set(float64(count))

	if cause != nil {
		e.logger.Warn("Peer dropped", "peer", p.id, "error", cause)
	} else {
		e.logger.Info("Peer disconnected", "peer", p.id)
	}
}

func (e *Engine) unmarkSyncing(p *peer) {
	if p.syncing.Swap(false) {
		e.syncing.Add(-1)
	}
}

func (e *Engine) finishSync(p *peer) {
	if p.syncing.Swap(false) {
		e.syncing.Add(-1)
		e.metrics.syncSessions.Inc()
		e.logger.Info("Initial sync finished", "peer", p.id)
	}
}

// afterConnect обновляет last_seen и запоминает адрес пира
func (e *Engine) afterConnect(ctx context.Context, p *peer, desc models.DeviceDescriptor) {
	if err := e.deps.Trust.Touch(ctx, p.id); err != nil {
		e.logger.Warn("Failed to update last seen", "peer", p.id, "error", err)
	}
	if e.deps.Addresses == nil || desc.Address == "" || desc.Port == 0 {
		return
	}
	if err := e.deps.Addresses.SavePeerAddress(ctx, desc); err != nil {
		e.logger.Warn("Failed to remember peer address", "peer", p.id, "error", err)
	}
}

func (e *Engine) readLoop(p *peer) {
	defer e.wg.Done()

	for {
		data, err := p.conn.Receive()
		if err != nil {
			if p.ctx.Err() == nil {
				e.metrics.transportErrors.Inc()
				e.dropPeer(p, err)
			}
			return
		}
		p.touch()

		select {
		case e.inbox <- inbound{peer: p, data: data}:
		case <-p.ctx.Done():
			return
		}
	}
}

func (e *Engine) writeLoop(p *peer) {
	defer e.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case msg := <-p.outbox:
			ctx, cancel := context.WithTimeout(p.ctx, e.opts.SendTimeout)
			err := p.conn.Send(ctx, msg)
			cancel()
			if err != nil {
				if p.ctx.Err() != nil {
					return
				}
				if errors.Is(err, context.DeadlineExceeded) {
					err = fmt.Errorf("%w: %v", ErrTransportTimeout, err)
				}
				e.metrics.transportErrors.Inc()
				e.dropPeer(p, err)
				return
			}
		}
	}
}

// dispatch единственный обработчик входящих сообщений
func (e *Engine) dispatch(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case in := <-e.inbox:
			e.handleFrame(ctx, in.peer, in.data)
		}
	}
}

// discoveryLoop передает найденные устройства в AddDevice.
// Сбой discovery переводит движок в Error до следующей попытки (экспоненциальный backoff).
func (e *Engine) discoveryLoop(ctx context.Context) {
	defer e.wg.Done()

	backoff := retry.WithCappedDuration(e.opts.BackoffMax, retry.NewExponential(e.opts.BackoffBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		found, err := e.deps.Discovery.Discover(ctx)
		if err != nil {
			e.setState(StateError)
			e.logger.Warn("Discovery failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		e.setState(StateDiscovering)

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case desc, ok := <-found:
				if !ok {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					e.setState(StateError)
					e.logger.Warn("Discovery stream closed, retrying")
					return retry.RetryableError(errors.New("discovery stream closed"))
				}
				e.handleDiscovered(ctx, desc)
			}
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("Discovery loop stopped", "error", err)
	}
}

func (e *Engine) handleDiscovered(ctx context.Context, desc models.DeviceDescriptor) {
	if desc.DeviceID == e.deps.Identity.DeviceID() || e.IsConnected(desc.DeviceID) {
		return
	}
	if !e.deps.Trust.IsTrusted(desc.DeviceID) {
		e.logger.Debug("Ignoring untrusted device", "device_id", desc.DeviceID, "address", desc.Address)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.AddDevice(ctx, desc); err != nil && ctx.Err() == nil {
			e.logger.Warn("Failed to connect to discovered device", "device_id", desc.DeviceID, "error", err)
		}
	}()
}

// redialKnown подключается к запомненным адресам доверенных пиров
func (e *Engine) redialKnown(ctx context.Context) {
	defer e.wg.Done()

	known, err := e.deps.Addresses.LoadPeerAddresses(ctx)
	if err != nil {
		e.logger.Warn("Failed to load known peer addresses", "error", err)
		return
	}
	for _, desc := range known {
		e.handleDiscovered(ctx, desc)
	}
}

// livenessLoop шлет ping и отключает пиров, молчащих дольше DeviceTimeout
func (e *Engine) livenessLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.opts.DeviceTimeout / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, p := range e.snapshotPeers() {
				if now.Sub(p.seen()) > e.opts.DeviceTimeout {
					e.dropPeer(p, fmt.Errorf("%w: no frames for %s", ErrTransportTimeout, e.opts.DeviceTimeout))
					continue
				}
				_ = e.sendEnvelope(p, pingEnvelope())
			}
		}
	}
}

func (e *Engine) snapshotPeers() []*peer {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*peer, 0, len(e.peers))
	for _, p := range e.peers {
		out = append(out, p)
	}
	return out
}
