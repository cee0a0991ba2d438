package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/curve25519"
)

// Параметры Argon2id для ключа, защищающего приватные ключи устройства на диске
const (
	// Argon2Time - количество итераций (time cost)
	Argon2Time = 1
	// Argon2Memory - объем памяти в KB (64MB = 64*1024 KB)
	Argon2Memory = 64 * 1024
	// Argon2Threads - количество параллельных потоков
	Argon2Threads = 4
	// Argon2KeyLen - длина выходного ключа в байтах
	Argon2KeyLen = 32
	// SaltSize - размер соли в байтах
	SaltSize = 32
)

// EncryptionKeyPair пара ключей X25519 для обмена ключами (ECDH)
type EncryptionKeyPair struct {
	Private []byte // 32 bytes
	Public  []byte // 32 bytes
}

// GenerateSalt генерирует криптографически случайную соль указанного размера
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	_, err := rand.Read(salt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKeyEncryptionKey получает ключ шифрования приватных ключей из passphrase.
// Использует Argon2id с context string "identity", чтобы ключ не совпадал с другими производными.
func DeriveKeyEncryptionKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}

	input := append([]byte(passphrase), []byte("identity")...)
	return argon2.IDKey(input, salt, Argon2Time, Argon2Memory, Argon2Threads, Argon2KeyLen), nil
}

// GenerateEncryptionKeyPair генерирует пару ключей X25519
func GenerateEncryptionKeyPair() (*EncryptionKeyPair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("failed to generate x25519 private key: %w", err)
	}

	pub, err := X25519PublicKey(priv)
	if err != nil {
		return nil, err
	}

	return &EncryptionKeyPair{Private: priv, Public: pub}, nil
}

// X25519PublicKey вычисляет публичный ключ X25519 по приватному
func X25519PublicKey(priv []byte) ([]byte, error) {
	if len(priv) != curve25519.ScalarSize {
		return nil, fmt.Errorf("x25519 private key must be %d bytes, got %d", curve25519.ScalarSize, len(priv))
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive x25519 public key: %w", err)
	}
	return pub, nil
}

// SharedSecret выполняет ECDH X25519.
// Возвращает ошибку для публичных ключей малого порядка (нулевой общий секрет).
func SharedSecret(priv, peerPub []byte) ([]byte, error) {
	if len(peerPub) != curve25519.PointSize {
		return nil, fmt.Errorf("x25519 public key must be %d bytes, got %d", curve25519.PointSize, len(peerPub))
	}
	secret, err := curve25519.X25519(priv, peerPub)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	return secret, nil
}

// GenerateSigningKeyPair генерирует пару ключей Ed25519
func GenerateSigningKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	return pub, priv, nil
}

// Verify проверяет подпись Ed25519. Никогда не паникует на ключе неверной длины.
func Verify(pub, message, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, signature)
}
