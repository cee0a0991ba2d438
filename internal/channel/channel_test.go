package channel

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/peersync/internal/identity"
	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/storage/boltdb"
	"github.com/iudanet/peersync/internal/storage/keyfile"
	"github.com/iudanet/peersync/internal/trust"
)

type node struct {
	id      *identity.Store
	trust   *trust.Manager
	channel *Channel
}

func newNode(t *testing.T, name string) *node {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	id, err := identity.LoadOrCreate(ctx, keyfile.New(filepath.Join(dir, name+".json")), "", logger)
	require.NoError(t, err)

	st, err := boltdb.New(ctx, filepath.Join(dir, name+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	tm, err := trust.NewManager(ctx, st, id.DeviceID(), logger)
	require.NoError(t, err)

	return &node{id: id, trust: tm, channel: New(id, tm, logger)}
}

func (n *node) trustPeer(t *testing.T, peer *node) {
	t.Helper()
	ok := n.trust.Trust(context.Background(), trust.Candidate{
		DeviceID:            peer.id.DeviceID(),
		Name:                "peer",
		Type:                models.DeviceTypeDesktop,
		EncryptionPublicKey: peer.id.PublicEncryptionKey(),
		SigningPublicKey:    peer.id.PublicSigningKey(),
	}, nil)
	require.True(t, ok)
}

func pair(t *testing.T) (*node, *node) {
	a, b := newNode(t, "a"), newNode(t, "b")
	a.trustPeer(t, b)
	b.trustPeer(t, a)
	return a, b
}

func TestChannel_EstablishSessionSymmetric(t *testing.T) {
	a, b := pair(t)

	ka, err := a.channel.EstablishSession(b.id.DeviceID())
	require.NoError(t, err)
	kb, err := b.channel.EstablishSession(a.id.DeviceID())
	require.NoError(t, err)

	assert.Equal(t, ka, kb)
	assert.True(t, a.channel.HasSession(b.id.DeviceID()))
}

func TestChannel_EstablishSessionUntrusted(t *testing.T) {
	a, b := newNode(t, "a"), newNode(t, "b")

	_, err := a.channel.EstablishSession(b.id.DeviceID())
	assert.ErrorIs(t, err, ErrUntrustedPeer)
}

func TestChannel_SealOpen(t *testing.T) {
	a, b := pair(t)
	aid, bid := a.id.DeviceID(), b.id.DeviceID()

	_, err := a.channel.Seal([]byte("x"), bid)
	require.ErrorIs(t, err, ErrNoSession)

	_, err = a.channel.EstablishSession(bid)
	require.NoError(t, err)
	_, err = b.channel.EstablishSession(aid)
	require.NoError(t, err)

	sealed, err := a.channel.Seal([]byte("operation"), bid)
	require.NoError(t, err)

	opened, err := b.channel.Open(sealed, aid)
	require.NoError(t, err)
	assert.Equal(t, []byte("operation"), opened)

	// Подмена байта
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = b.channel.Open(tampered, aid)
	assert.ErrorIs(t, err, ErrDecrypt)

	// Отражение: сообщение a->b не открывается как b->a
	_, err = a.channel.Open(sealed, bid)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestChannel_UntrustDropsSession(t *testing.T) {
	a, b := pair(t)
	bid := b.id.DeviceID()

	_, err := a.channel.EstablishSession(bid)
	require.NoError(t, err)

	require.NoError(t, a.trust.Untrust(context.Background(), bid))

	assert.False(t, a.channel.HasSession(bid))
	_, err = a.channel.Seal([]byte("x"), bid)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestChannel_RetrustWithNewKeysDropsSession(t *testing.T) {
	ctx := context.Background()
	a, b := pair(t)
	c := newNode(t, "c")
	bid := b.id.DeviceID()

	_, err := a.channel.EstablishSession(bid)
	require.NoError(t, err)

	// Повторное доверие с теми же ключами сессию не трогает
	a.trustPeer(t, b)
	assert.True(t, a.channel.HasSession(bid))

	ok := a.trust.Trust(ctx, trust.Candidate{
		DeviceID:            bid,
		Name:                "peer",
		Type:                models.DeviceTypeDesktop,
		EncryptionPublicKey: c.id.PublicEncryptionKey(),
		SigningPublicKey:    c.id.PublicSigningKey(),
	}, nil)
	require.True(t, ok)
	assert.False(t, a.channel.HasSession(bid))

	// Новая сессия выводится из новых ключей
	key, err := a.channel.EstablishSession(bid)
	require.NoError(t, err)
	assert.NotEqual(t, key, mustSession(t, b, a.id.DeviceID()))
}

func mustSession(t *testing.T, n *node, peerID string) SessionKey {
	t.Helper()
	key, err := n.channel.EstablishSession(peerID)
	require.NoError(t, err)
	return key
}

func TestChannel_Verify(t *testing.T) {
	a, b := pair(t)
	stranger := newNode(t, "c")
	msg := []byte("signed op")

	sig := b.channel.Sign(msg)
	assert.True(t, a.channel.Verify(msg, sig, b.id.DeviceID()))
	assert.False(t, a.channel.Verify([]byte("other"), sig, b.id.DeviceID()))
	assert.False(t, a.channel.Verify(msg, sig[:5], b.id.DeviceID()))

	// Собственные подписи проверяются своим ключом
	own := a.channel.Sign(msg)
	assert.True(t, a.channel.Verify(msg, own, a.id.DeviceID()))

	// Неизвестный origin
	strangerSig := stranger.channel.Sign(msg)
	assert.False(t, a.channel.Verify(msg, strangerSig, stranger.id.DeviceID()))

	// Приостановленный origin
	require.NoError(t, a.trust.SetActive(context.Background(), b.id.DeviceID(), false))
	assert.False(t, a.channel.Verify(msg, sig, b.id.DeviceID()))
}
