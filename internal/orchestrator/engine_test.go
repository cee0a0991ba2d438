package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/peersync/internal/channel"
	"github.com/iudanet/peersync/internal/crdt"
	"github.com/iudanet/peersync/internal/identity"
	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/storage/boltdb"
	"github.com/iudanet/peersync/internal/storage/keyfile"
	"github.com/iudanet/peersync/internal/storage/sqlite"
	"github.com/iudanet/peersync/internal/trust"
	"github.com/iudanet/peersync/pkg/api"
)

const waitTimeout = 5 * time.Second

type testNode struct {
	id      *identity.Store
	trust   *trust.Manager
	channel *channel.Channel
	store   *crdt.Store
	engine  *Engine
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestNode(t *testing.T, dialer Dialer, discovery Discovery, tune func(o *Options)) *testNode {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()
	dir := t.TempDir()

	id, err := identity.LoadOrCreate(ctx, keyfile.New(filepath.Join(dir, "identity.json")), "", logger)
	require.NoError(t, err)

	bolt, err := boltdb.New(ctx, filepath.Join(dir, "trust.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	docs, err := sqlite.New(ctx, filepath.Join(dir, "documents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	tm, err := trust.NewManager(ctx, bolt, id.DeviceID(), logger)
	require.NoError(t, err)
	ch := channel.New(id, tm, logger)
	store := crdt.New(id.DeviceID(), docs, ch, ch, logger)

	opts := Options{
		Registerer:       prometheus.NewRegistry(),
		Name:             "node",
		DeviceType:       models.DeviceTypeDesktop,
		Port:             8001,
		SendTimeout:      time.Second,
		HandshakeTimeout: 2 * time.Second,
		DeviceTimeout:    time.Minute,
		BackoffBase:      5 * time.Millisecond,
		BackoffMax:       20 * time.Millisecond,
	}
	if tune != nil {
		tune(&opts)
	}

	engine := New(Deps{
		Identity:  id,
		Trust:     tm,
		Channel:   ch,
		Store:     store,
		Dialer:    dialer,
		Discovery: discovery,
		Addresses: bolt,
	}, opts, logger)

	n := &testNode{id: id, trust: tm, channel: ch, store: store, engine: engine}
	t.Cleanup(engine.Stop)
	return n
}

func (n *testNode) start(t *testing.T) {
	t.Helper()
	require.NoError(t, n.engine.Start(context.Background()))
}

func (n *testNode) trustNode(t *testing.T, other *testNode, level models.PermissionLevel) {
	t.Helper()
	ok := n.trust.Trust(context.Background(), trust.Candidate{
		DeviceID:            other.id.DeviceID(),
		Name:                "peer",
		Type:                models.DeviceTypeMobile,
		EncryptionPublicKey: other.id.PublicEncryptionKey(),
		SigningPublicKey:    other.id.PublicSigningKey(),
	}, map[string]models.PermissionLevel{trust.CapabilitySync: level})
	require.True(t, ok)
}

func (n *testNode) descriptor() models.DeviceDescriptor {
	return models.DeviceDescriptor{DeviceID: n.id.DeviceID(), Address: "127.0.0.1", Port: 8001}
}

func (n *testNode) hasContent(docID string, want map[string]any) func() bool {
	return func() bool {
		doc, err := n.store.Get(docID)
		if err != nil {
			return false
		}
		got, _ := json.Marshal(doc.Content)
		exp, _ := json.Marshal(want)
		return string(got) == string(exp)
	}
}

// twoNodes создает два узла, доверяющих друг другу с sync:write
func twoNodes(t *testing.T) (*testNode, *testNode, *pipeDialer) {
	dialer := newPipeDialer()
	a := newTestNode(t, dialer, nil, nil)
	b := newTestNode(t, dialer, nil, nil)
	dialer.add(a.id.DeviceID(), a.engine)
	dialer.add(b.id.DeviceID(), b.engine)

	a.trustNode(t, b, models.LevelWrite)
	b.trustNode(t, a, models.LevelWrite)
	a.start(t)
	b.start(t)
	return a, b, dialer
}

func TestEngine_InitialSyncExchangesMissingDocuments(t *testing.T) {
	ctx := context.Background()
	a, b, _ := twoNodes(t)

	_, err := a.engine.PublishLocalChange(ctx, "from-a", models.DocumentTypeNote, models.OperationCreate,
		map[string]any{"text": "a"})
	require.NoError(t, err)
	_, err = b.engine.PublishLocalChange(ctx, "from-b", models.DocumentTypeReminder, models.OperationCreate,
		map[string]any{"at": "09:00"})
	require.NoError(t, err)

	require.NoError(t, a.engine.AddDevice(ctx, b.descriptor()))

	require.Eventually(t, b.hasContent("from-a", map[string]any{"text": "a"}), waitTimeout, 10*time.Millisecond)
	require.Eventually(t, a.hasContent("from-b", map[string]any{"at": "09:00"}), waitTimeout, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return a.engine.Status().State == StateConnected && b.engine.Status().State == StateConnected
	}, waitTimeout, 10*time.Millisecond)

	assert.Equal(t, []string{b.id.DeviceID()}, a.engine.Status().ConnectedPeers)
	assert.GreaterOrEqual(t, testutil.ToFloat64(a.engine.metrics.syncSessions), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(b.engine.metrics.syncSessions), 1.0)
}

func TestEngine_ScenarioBroadcastAndMerge(t *testing.T) {
	ctx := context.Background()
	a, b, _ := twoNodes(t)

	require.NoError(t, a.engine.AddDevice(ctx, b.descriptor()))
	require.Eventually(t, func() bool { return b.engine.IsConnected(a.id.DeviceID()) }, waitTimeout, 10*time.Millisecond)

	_, err := a.engine.PublishLocalChange(ctx, "note1", models.DocumentTypeNote, models.OperationCreate,
		map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.Eventually(t, b.hasContent("note1", map[string]any{"text": "hi"}), waitTimeout, 10*time.Millisecond)

	_, err = b.engine.PublishLocalChange(ctx, "note1", models.DocumentTypeNote, models.OperationUpdate,
		map[string]any{"text": "hi all"})
	require.NoError(t, err)
	require.Eventually(t, a.hasContent("note1", map[string]any{"text": "hi all"}), waitTimeout, 10*time.Millisecond)

	want := models.VectorClock{a.id.DeviceID(): 1, b.id.DeviceID(): 1}
	for _, n := range []*testNode{a, b} {
		doc, err := n.store.Get("note1")
		require.NoError(t, err)
		assert.Equal(t, want, doc.Clock)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(a.engine.metrics.opsApplied))
}

func TestEngine_RejectsUntrustedPeer(t *testing.T) {
	ctx := context.Background()
	dialer := newPipeDialer()
	a := newTestNode(t, dialer, nil, nil)
	b := newTestNode(t, dialer, nil, nil)
	dialer.add(b.id.DeviceID(), b.engine)

	// a доверяет b, но b не знает a
	a.trustNode(t, b, models.LevelWrite)
	a.start(t)
	b.start(t)

	err := a.engine.AddDevice(ctx, b.descriptor())
	require.ErrorIs(t, err, ErrHandshake)
	assert.False(t, a.engine.IsConnected(b.id.DeviceID()))
	assert.False(t, b.engine.IsConnected(a.id.DeviceID()))

	// Недоверенное устройство не дозванивается вовсе
	err = b.engine.AddDevice(ctx, a.descriptor())
	assert.ErrorIs(t, err, channel.ErrUntrustedPeer)
}

func TestEngine_PermissionGate(t *testing.T) {
	ctx := context.Background()
	dialer := newPipeDialer()
	a := newTestNode(t, dialer, nil, nil)
	b := newTestNode(t, dialer, nil, nil)
	dialer.add(b.id.DeviceID(), b.engine)

	a.trustNode(t, b, models.LevelWrite)
	b.trustNode(t, a, models.LevelNone) // b не принимает операции от a
	a.start(t)
	b.start(t)

	require.NoError(t, a.engine.AddDevice(ctx, b.descriptor()))
	require.Eventually(t, func() bool { return b.engine.IsConnected(a.id.DeviceID()) }, waitTimeout, 10*time.Millisecond)

	_, err := a.engine.PublishLocalChange(ctx, "secret", models.DocumentTypeMemory, models.OperationCreate,
		map[string]any{"k": "v"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(b.engine.metrics.opsRejected.WithLabelValues(reasonPermission)) >= 1
	}, waitTimeout, 10*time.Millisecond)

	_, err = b.store.Get("secret")
	assert.Error(t, err)
	assert.Equal(t, 0, b.store.DocumentCount())
}

func TestEngine_DefaultTrustAcceptsOperations(t *testing.T) {
	ctx := context.Background()
	dialer := newPipeDialer()
	a := newTestNode(t, dialer, nil, nil)
	b := newTestNode(t, dialer, nil, nil)
	dialer.add(b.id.DeviceID(), b.engine)

	// Без явных grants устройство получает sync:read
	for _, pair := range [][2]*testNode{{a, b}, {b, a}} {
		ok := pair[0].trust.Trust(ctx, trust.Candidate{
			DeviceID:            pair[1].id.DeviceID(),
			Name:                "peer",
			Type:                models.DeviceTypeMobile,
			EncryptionPublicKey: pair[1].id.PublicEncryptionKey(),
			SigningPublicKey:    pair[1].id.PublicSigningKey(),
		}, nil)
		require.True(t, ok)
	}
	a.start(t)
	b.start(t)

	_, err := a.engine.PublishLocalChange(ctx, "before", models.DocumentTypeNote, models.OperationCreate,
		map[string]any{"text": "offline"})
	require.NoError(t, err)

	require.NoError(t, a.engine.AddDevice(ctx, b.descriptor()))
	require.Eventually(t, func() bool { return b.engine.IsConnected(a.id.DeviceID()) }, waitTimeout, 10*time.Millisecond)
	require.Eventually(t, b.hasContent("before", map[string]any{"text": "offline"}), waitTimeout, 10*time.Millisecond)

	_, err = a.engine.PublishLocalChange(ctx, "note1", models.DocumentTypeNote, models.OperationCreate,
		map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.Eventually(t, b.hasContent("note1", map[string]any{"text": "hi"}), waitTimeout, 10*time.Millisecond)

	assert.Equal(t, 0.0, testutil.ToFloat64(b.engine.metrics.opsRejected.WithLabelValues(reasonPermission)))
}

func TestEngine_FailedDialClosesSession(t *testing.T) {
	ctx := context.Background()
	// b не зарегистрирован в dialer, Dial завершается ошибкой
	a := newTestNode(t, newPipeDialer(), nil, nil)
	b := newTestNode(t, newPipeDialer(), nil, nil)
	a.trustNode(t, b, models.LevelWrite)
	a.start(t)

	err := a.engine.AddDevice(ctx, b.descriptor())
	require.Error(t, err)
	assert.False(t, a.engine.IsConnected(b.id.DeviceID()))
	assert.False(t, a.channel.HasSession(b.id.DeviceID()))
}

func TestEngine_FailedHandshakeClosesSession(t *testing.T) {
	ctx := context.Background()
	dialer := newPipeDialer()
	a := newTestNode(t, dialer, nil, nil)
	b := newTestNode(t, dialer, nil, nil)
	dialer.add(b.id.DeviceID(), b.engine)

	// b не доверяет a и закрывает соединение после hello
	a.trustNode(t, b, models.LevelWrite)
	a.start(t)
	b.start(t)

	err := a.engine.AddDevice(ctx, b.descriptor())
	require.Error(t, err)
	assert.False(t, a.engine.IsConnected(b.id.DeviceID()))
	assert.False(t, a.channel.HasSession(b.id.DeviceID()))
}

func TestEngine_RemoveDeviceAndUntrust(t *testing.T) {
	ctx := context.Background()
	a, b, _ := twoNodes(t)

	require.NoError(t, a.engine.AddDevice(ctx, b.descriptor()))
	require.Eventually(t, func() bool { return b.engine.IsConnected(a.id.DeviceID()) }, waitTimeout, 10*time.Millisecond)

	a.engine.RemoveDevice(b.id.DeviceID())
	assert.False(t, a.engine.IsConnected(b.id.DeviceID()))
	assert.False(t, a.channel.HasSession(b.id.DeviceID()))
	assert.True(t, a.trust.IsTrusted(b.id.DeviceID()), "RemoveDevice не отзывает доверие")

	require.Eventually(t, func() bool { return !b.engine.IsConnected(a.id.DeviceID()) }, waitTimeout, 10*time.Millisecond)

	// Повторное подключение и отзыв доверия
	require.NoError(t, a.engine.AddDevice(ctx, b.descriptor()))
	require.True(t, a.engine.IsConnected(b.id.DeviceID()))

	require.NoError(t, a.trust.Untrust(ctx, b.id.DeviceID()))
	assert.False(t, a.engine.IsConnected(b.id.DeviceID()))
}

func TestEngine_StateLifecycle(t *testing.T) {
	dialer := newPipeDialer()
	a := newTestNode(t, dialer, nil, nil)

	assert.Equal(t, StateStopped, a.engine.Status().State)

	_, err := a.engine.PublishLocalChange(context.Background(), "x", models.DocumentTypeNote, models.OperationCreate, nil)
	assert.ErrorIs(t, err, ErrNotRunning)

	a.start(t)
	assert.Equal(t, StateDiscovering, a.engine.Status().State)

	a.engine.Stop()
	assert.Equal(t, StateStopped, a.engine.Status().State)
}

func TestEngine_DiscoveryConnectsTrustedDevices(t *testing.T) {
	dialer := newPipeDialer()
	disc := &stubDiscovery{found: make(chan models.DeviceDescriptor, 4), failures: 2}
	a := newTestNode(t, dialer, disc, nil)
	b := newTestNode(t, dialer, nil, nil)
	stranger := newTestNode(t, dialer, nil, nil)
	dialer.add(b.id.DeviceID(), b.engine)
	dialer.add(stranger.id.DeviceID(), stranger.engine)

	a.trustNode(t, b, models.LevelWrite)
	b.trustNode(t, a, models.LevelWrite)
	b.start(t)
	stranger.start(t)
	a.start(t)

	disc.found <- stranger.descriptor()
	disc.found <- b.descriptor()

	require.Eventually(t, func() bool { return a.engine.IsConnected(b.id.DeviceID()) }, waitTimeout, 10*time.Millisecond)
	assert.False(t, a.engine.IsConnected(stranger.id.DeviceID()))

	disc.mu.Lock()
	calls := disc.calls
	disc.mu.Unlock()
	assert.Equal(t, 3, calls, "две неудачные попытки и одна успешная")
}

func TestEngine_DiscoveryErrorStateAndRecovery(t *testing.T) {
	dialer := newPipeDialer()
	disc := &stubDiscovery{found: make(chan models.DeviceDescriptor, 1), failing: true}
	a := newTestNode(t, dialer, disc, nil)
	b := newTestNode(t, dialer, nil, nil)
	dialer.add(b.id.DeviceID(), b.engine)

	a.trustNode(t, b, models.LevelWrite)
	b.trustNode(t, a, models.LevelWrite)
	b.start(t)
	a.start(t)

	require.Eventually(t, func() bool {
		return a.engine.Status().State == StateError
	}, waitTimeout, time.Millisecond)

	// После восстановления backoff возвращает движок в Discovering
	disc.setFailing(false)
	require.Eventually(t, func() bool {
		return a.engine.Status().State == StateDiscovering
	}, waitTimeout, time.Millisecond)

	disc.found <- b.descriptor()
	require.Eventually(t, func() bool {
		return a.engine.Status().State == StateConnected
	}, waitTimeout, 10*time.Millisecond)
	assert.True(t, a.engine.IsConnected(b.id.DeviceID()))
}

func TestEngine_RedialsKnownAddresses(t *testing.T) {
	ctx := context.Background()
	dialer := newPipeDialer()
	a := newTestNode(t, dialer, nil, nil)
	b := newTestNode(t, dialer, nil, nil)
	dialer.add(b.id.DeviceID(), b.engine)

	a.trustNode(t, b, models.LevelWrite)
	b.trustNode(t, a, models.LevelWrite)
	require.NoError(t, a.engine.deps.Addresses.SavePeerAddress(ctx, b.descriptor()))

	b.start(t)
	a.start(t)

	require.Eventually(t, func() bool { return a.engine.IsConnected(b.id.DeviceID()) }, waitTimeout, 10*time.Millisecond)
}

// stuckConn принимает hello, но дальше зависает на отправке и молчит на чтении
type stuckConn struct {
	hello  []byte
	closed chan struct{}
	sent   int
	once   sync.Once
	mu     sync.Mutex
	served bool
}

func (c *stuckConn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	c.sent++
	first := c.sent == 1
	c.mu.Unlock()
	if first {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

func (c *stuckConn) Receive() ([]byte, error) {
	c.mu.Lock()
	if !c.served {
		c.served = true
		c.mu.Unlock()
		return c.hello, nil
	}
	c.mu.Unlock()
	<-c.closed
	return nil, io.EOF
}

func (c *stuckConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *stuckConn) RemoteAddr() string { return "10.0.0.9:1" }

func helloFrom(t *testing.T, n *testNode) []byte {
	t.Helper()
	data, err := json.Marshal(api.Frame{
		Type:  api.FrameHello,
		Hello: &api.Hello{DeviceID: n.id.DeviceID(), Protocol: api.ProtocolVersion},
	})
	require.NoError(t, err)
	return data
}

func TestEngine_SendTimeoutDropsPeer(t *testing.T) {
	ctx := context.Background()
	dialer := newPipeDialer()
	a := newTestNode(t, dialer, nil, func(o *Options) { o.SendTimeout = 30 * time.Millisecond })
	stuck := newTestNode(t, dialer, nil, nil)
	a.trustNode(t, stuck, models.LevelWrite)
	a.start(t)

	conn := &stuckConn{hello: helloFrom(t, stuck), closed: make(chan struct{})}
	require.NoError(t, a.engine.Accept(ctx, conn))
	require.True(t, a.engine.IsConnected(stuck.id.DeviceID()))

	_, err := a.engine.PublishLocalChange(ctx, "n", models.DocumentTypeNote, models.OperationCreate, map[string]any{"x": 1})
	require.NoError(t, err, "зависший пир не блокирует локальную запись")

	require.Eventually(t, func() bool { return !a.engine.IsConnected(stuck.id.DeviceID()) }, waitTimeout, 10*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(a.engine.metrics.transportErrors), 1.0)
}

func TestEngine_SilentPeerRemovedByLiveness(t *testing.T) {
	ctx := context.Background()
	dialer := newPipeDialer()
	a := newTestNode(t, dialer, nil, func(o *Options) { o.DeviceTimeout = 60 * time.Millisecond })
	silent := newTestNode(t, dialer, nil, nil)
	a.trustNode(t, silent, models.LevelWrite)
	a.start(t)

	client, server := newPipe()
	go func() {
		// отвечаем только hello и дальше молчим
		_, _ = client.Receive()
	}()
	require.NoError(t, client.Send(ctx, helloFrom(t, silent)))
	require.NoError(t, a.engine.Accept(ctx, server))
	require.True(t, a.engine.IsConnected(silent.id.DeviceID()))

	require.Eventually(t, func() bool { return !a.engine.IsConnected(silent.id.DeviceID()) }, waitTimeout, 10*time.Millisecond)
}

func TestEngine_DuplicateConnectionKeepsSmallerDialer(t *testing.T) {
	dialer := newPipeDialer()
	a := newTestNode(t, dialer, nil, nil)
	b := newTestNode(t, dialer, nil, nil)
	a.trustNode(t, b, models.LevelWrite)
	a.start(t)

	self, other := a.id.DeviceID(), b.id.DeviceID()
	preferred := self
	if other < self {
		preferred = other
	}

	c1, _ := newPipe()
	c2, _ := newPipe()

	// Сначала соединение, открытое не предпочтительной стороной
	nonPreferred := self
	if preferred == self {
		nonPreferred = other
	}
	p1 := a.engine.register(other, nonPreferred, c1)
	require.NotNil(t, p1)

	p2 := a.engine.register(other, preferred, c2)
	require.NotNil(t, p2, "соединение предпочтительной стороны заменяет существующее")
	assert.Error(t, p1.ctx.Err(), "старое соединение закрыто")

	c3, _ := newPipe()
	p3 := a.engine.register(other, nonPreferred, c3)
	assert.Nil(t, p3, "лишнее соединение отклоняется")
	assert.NoError(t, p2.ctx.Err())
}

func TestEngine_DropsUndecryptableFrames(t *testing.T) {
	ctx := context.Background()
	a, b, _ := twoNodes(t)

	require.NoError(t, a.engine.AddDevice(ctx, b.descriptor()))
	require.Eventually(t, func() bool { return b.engine.IsConnected(a.id.DeviceID()) }, waitTimeout, 10*time.Millisecond)

	b.engine.mu.Lock()
	p := b.engine.peers[a.id.DeviceID()]
	b.engine.mu.Unlock()
	require.NotNil(t, p)

	garbage, err := json.Marshal(api.Frame{Type: api.FrameSealed, Sealed: []byte("not really encrypted at all, sorry")})
	require.NoError(t, err)
	b.engine.handleFrame(ctx, p, garbage)
	b.engine.handleFrame(ctx, p, []byte("{"))

	assert.Equal(t, 1.0, testutil.ToFloat64(b.engine.metrics.decryptFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.engine.metrics.invalidFrames))
	assert.True(t, b.engine.IsConnected(a.id.DeviceID()), "мусор не разрывает соединение")
}
