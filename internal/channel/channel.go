// Package channel реализует защищенный канал между доверенными устройствами:
// сессионные ключи (X25519 + HKDF), AEAD (AES-256-GCM) и подписи Ed25519.
package channel

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"sync"

	pcrypto "github.com/iudanet/peersync/internal/crypto"
	"github.com/iudanet/peersync/internal/models"
)

// KeyHolder - ключи этого устройства (identity.Store)
type KeyHolder interface {
	DeviceID() string
	PublicSigningKey() ed25519.PublicKey
	Sign(message []byte) []byte
	SharedSecret(peerEncPub []byte) ([]byte, error)
}

// TrustLookup - набор доверенных устройств (trust.Manager)
type TrustLookup interface {
	IsTrusted(deviceID string) bool
	Get(deviceID string) (*models.TrustedDevice, error)
	OnUntrust(fn func(deviceID string))
}

// SessionKey симметричный ключ сессии с одним пиром
type SessionKey []byte

// Channel хранит сессионные ключи по device_id пира
type Channel struct {
	keys     KeyHolder
	trust    TrustLookup
	logger   *slog.Logger
	sessions map[string]SessionKey
	mu       sync.RWMutex
}

// New создает канал и подписывается на удаление доверия: сессия такого пира сбрасывается
func New(keys KeyHolder, trust TrustLookup, logger *slog.Logger) *Channel {
	c := &Channel{
		keys:     keys,
		trust:    trust,
		logger:   logger,
		sessions: make(map[string]SessionKey),
	}
	trust.OnUntrust(c.CloseSession)
	return c
}

// EstablishSession вычисляет сессионный ключ с доверенным пиром
func (c *Channel) EstablishSession(peerID string) (SessionKey, error) {
	if !c.trust.IsTrusted(peerID) {
		return nil, fmt.Errorf("%w: %s", ErrUntrustedPeer, peerID)
	}
	peer, err := c.trust.Get(peerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUntrustedPeer, peerID)
	}

	shared, err := c.keys.SharedSecret(peer.EncryptionPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	key, err := pcrypto.DeriveSessionKey(shared, c.keys.DeviceID(), peerID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sessions[peerID] = key
	c.mu.Unlock()

	c.logger.Debug("Session established", "peer", peerID)
	return append(SessionKey(nil), key...), nil
}

// HasSession сообщает, установлена ли сессия с пиром
func (c *Channel) HasSession(peerID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sessions[peerID]
	return ok
}

// CloseSession забывает сессионный ключ пира
func (c *Channel) CloseSession(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[peerID]; ok {
		delete(c.sessions, peerID)
		c.logger.Debug("Session closed", "peer", peerID)
	}
}

// Seal шифрует сообщение для пира.
// Associated data "sender->receiver" не дает отразить сообщение обратно отправителю.
func (c *Channel) Seal(plaintext []byte, peerID string) ([]byte, error) {
	key, ok := c.session(peerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, peerID)
	}
	return pcrypto.EncryptWithAD(plaintext, key, direction(c.keys.DeviceID(), peerID))
}

// Open расшифровывает сообщение от пира
func (c *Channel) Open(ciphertext []byte, peerID string) ([]byte, error) {
	key, ok := c.session(peerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, peerID)
	}
	plaintext, err := pcrypto.DecryptWithAD(ciphertext, key, direction(peerID, c.keys.DeviceID()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

// Sign подписывает байты ключом устройства
func (c *Channel) Sign(message []byte) []byte {
	return c.keys.Sign(message)
}

// Verify проверяет подпись origin. Никогда не возвращает ошибку:
// неизвестный, приостановленный origin или неверная подпись дают false.
func (c *Channel) Verify(message, signature []byte, originID string) bool {
	if originID == c.keys.DeviceID() {
		return pcrypto.Verify(c.keys.PublicSigningKey(), message, signature)
	}
	if !c.trust.IsTrusted(originID) {
		return false
	}
	peer, err := c.trust.Get(originID)
	if err != nil {
		return false
	}
	return pcrypto.Verify(peer.SigningPublicKey, message, signature)
}

func (c *Channel) session(peerID string) (SessionKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.sessions[peerID]
	return key, ok
}

func direction(from, to string) []byte {
	return []byte(from + "->" + to)
}
