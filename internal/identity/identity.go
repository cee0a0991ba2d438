// Package identity владеет долговременными ключами устройства.
// Приватные ключи не покидают Store: наружу отдаются только подписи и общий секрет ECDH.
package identity

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pcrypto "github.com/iudanet/peersync/internal/crypto"
	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/storage"
)

// Store identity устройства
type Store struct {
	createdAt time.Time
	logger    *slog.Logger
	deviceID  string
	encPriv   []byte
	encPub    []byte
	signPriv  ed25519.PrivateKey
	signPub   ed25519.PublicKey
}

// LoadOrCreate загружает ключи из хранилища или создает новые, если хранилище пусто.
// Пустая passphrase означает хранение приватных ключей без шифрования.
func LoadOrCreate(ctx context.Context, st storage.IdentityStorage, passphrase string, logger *slog.Logger) (*Store, error) {
	rec, err := st.LoadIdentity(ctx)
	if err == nil {
		s, openErr := open(rec, passphrase, logger)
		if openErr != nil {
			return nil, openErr
		}
		logger.Info("Identity loaded", "device_id", s.deviceID)
		return s, nil
	}
	if !errors.Is(err, storage.ErrIdentityNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
	}

	s, err := generate(logger)
	if err != nil {
		return nil, err
	}

	rec, err = s.record(passphrase)
	if err != nil {
		return nil, err
	}
	if err := st.SaveIdentity(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save identity: %w", err)
	}

	logger.Info("New identity created", "device_id", s.deviceID, "sealed", rec.Sealed)
	return s, nil
}

func generate(logger *slog.Logger) (*Store, error) {
	enc, err := pcrypto.GenerateEncryptionKeyPair()
	if err != nil {
		return nil, err
	}
	signPub, signPriv, err := pcrypto.GenerateSigningKeyPair()
	if err != nil {
		return nil, err
	}
	deviceID, err := pcrypto.DeviceIDFromKey(enc.Public)
	if err != nil {
		return nil, err
	}

	return &Store{
		createdAt: time.Now().UTC(),
		logger:    logger,
		deviceID:  deviceID,
		encPriv:   enc.Private,
		encPub:    enc.Public,
		signPriv:  signPriv,
		signPub:   signPub,
	}, nil
}

// open восстанавливает Store из записи и проверяет ее согласованность
func open(rec *models.IdentityRecord, passphrase string, logger *slog.Logger) (*Store, error) {
	encPriv, signPriv := rec.EncryptionPrivate, rec.SigningPrivate

	if rec.Sealed {
		if passphrase == "" {
			return nil, fmt.Errorf("%w: identity is sealed, passphrase required", ErrIdentityCorrupt)
		}
		kek, err := pcrypto.DeriveKeyEncryptionKey(passphrase, rec.Salt)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
		}
		ad := []byte(rec.DeviceID)
		if encPriv, err = pcrypto.DecryptWithAD(encPriv, kek, ad); err != nil {
			return nil, fmt.Errorf("%w: wrong passphrase or damaged key file", ErrIdentityCorrupt)
		}
		if signPriv, err = pcrypto.DecryptWithAD(signPriv, kek, ad); err != nil {
			return nil, fmt.Errorf("%w: wrong passphrase or damaged key file", ErrIdentityCorrupt)
		}
	}

	if len(signPriv) != ed25519.PrivateKeySize || len(rec.SigningPublic) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: bad signing key length", ErrIdentityCorrupt)
	}

	encPub, err := pcrypto.X25519PublicKey(encPriv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
	}
	if !bytes.Equal(encPub, rec.EncryptionPublic) {
		return nil, fmt.Errorf("%w: encryption public key does not match private key", ErrIdentityCorrupt)
	}
	if err := pcrypto.VerifyDeviceID(rec.DeviceID, encPub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
	}

	sp := ed25519.PrivateKey(signPriv)
	derived, ok := sp.Public().(ed25519.PublicKey)
	if !ok || !derived.Equal(ed25519.PublicKey(rec.SigningPublic)) {
		return nil, fmt.Errorf("%w: signing public key does not match private key", ErrIdentityCorrupt)
	}

	return &Store{
		createdAt: rec.CreatedAt,
		logger:    logger,
		deviceID:  rec.DeviceID,
		encPriv:   encPriv,
		encPub:    encPub,
		signPriv:  sp,
		signPub:   derived,
	}, nil
}

// record строит персистентное представление, при необходимости шифруя приватные ключи
func (s *Store) record(passphrase string) (*models.IdentityRecord, error) {
	rec := &models.IdentityRecord{
		CreatedAt:         s.createdAt,
		DeviceID:          s.deviceID,
		EncryptionPublic:  s.encPub,
		EncryptionPrivate: s.encPriv,
		SigningPublic:     s.signPub,
		SigningPrivate:    s.signPriv,
	}
	if passphrase == "" {
		return rec, nil
	}

	salt, err := pcrypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	kek, err := pcrypto.DeriveKeyEncryptionKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	ad := []byte(s.deviceID)
	if rec.EncryptionPrivate, err = pcrypto.EncryptWithAD(s.encPriv, kek, ad); err != nil {
		return nil, fmt.Errorf("failed to seal encryption key: %w", err)
	}
	if rec.SigningPrivate, err = pcrypto.EncryptWithAD(s.signPriv, kek, ad); err != nil {
		return nil, fmt.Errorf("failed to seal signing key: %w", err)
	}
	rec.Salt = salt
	rec.Sealed = true

	return rec, nil
}

// DeviceID возвращает device_id этого устройства
func (s *Store) DeviceID() string {
	return s.deviceID
}

// CreatedAt время создания identity
func (s *Store) CreatedAt() time.Time {
	return s.createdAt
}

// PublicEncryptionKey возвращает копию публичного ключа X25519
func (s *Store) PublicEncryptionKey() []byte {
	return append([]byte(nil), s.encPub...)
}

// PublicSigningKey возвращает копию публичного ключа Ed25519
func (s *Store) PublicSigningKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), s.signPub...)
}

// Sign подписывает сообщение ключом устройства
func (s *Store) Sign(message []byte) []byte {
	return ed25519.Sign(s.signPriv, message)
}

// SharedSecret выполняет X25519 с публичным ключом пира
func (s *Store) SharedSecret(peerEncPub []byte) ([]byte, error) {
	return pcrypto.SharedSecret(s.encPriv, peerEncPub)
}

// Signer возвращает crypto.Signer для подписи JWT токенов сопряжения
func (s *Store) Signer() crypto.Signer {
	return s.signPriv
}

// PairingMaterials публичные данные для сопряжения
func (s *Store) PairingMaterials() models.PairingMaterials {
	return models.PairingMaterials{
		DeviceID:            s.deviceID,
		EncryptionPublicKey: hex.EncodeToString(s.encPub),
		SigningPublicKey:    hex.EncodeToString(s.signPub),
	}
}
