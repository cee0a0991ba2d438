// Package pairing выпускает и проверяет токены сопряжения устройств.
//
// Токен - JWT (EdDSA), подписанный ключом подписи выпустившего устройства.
// Он самодостаточен: публичные ключи лежат в claims, а device_id обязан
// совпадать с хэшем ключа шифрования.
package pairing

import (
	"crypto"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/curve25519"

	pcrypto "github.com/iudanet/peersync/internal/crypto"
	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/trust"
)

// Issuer значение iss в токенах сопряжения
const Issuer = "peersync"

// DefaultTTL срок действия токена по умолчанию
const DefaultTTL = 10 * time.Minute

// ErrInvalidToken токен не прошел проверку
var ErrInvalidToken = errors.New("invalid pairing token")

// Claims содержимое токена сопряжения
type Claims struct {
	DeviceID            string            `json:"device_id"`
	Name                string            `json:"name"`
	Type                models.DeviceType `json:"type"`
	EncryptionPublicKey string            `json:"enc_pub"`  // hex
	SigningPublicKey    string            `json:"sign_pub"` // hex
	jwt.RegisteredClaims
}

// Candidate превращает claims в кандидата на доверие
func (c *Claims) Candidate() (trust.Candidate, error) {
	encPub, err := hex.DecodeString(c.EncryptionPublicKey)
	if err != nil {
		return trust.Candidate{}, fmt.Errorf("%w: bad enc_pub: %v", ErrInvalidToken, err)
	}
	signPub, err := hex.DecodeString(c.SigningPublicKey)
	if err != nil {
		return trust.Candidate{}, fmt.Errorf("%w: bad sign_pub: %v", ErrInvalidToken, err)
	}
	return trust.Candidate{
		DeviceID:            c.DeviceID,
		Name:                c.Name,
		Type:                c.Type,
		EncryptionPublicKey: encPub,
		SigningPublicKey:    signPub,
	}, nil
}

// KeySource ключи устройства, выпускающего токен (identity.Store)
type KeySource interface {
	DeviceID() string
	PublicEncryptionKey() []byte
	PublicSigningKey() ed25519.PublicKey
	Signer() crypto.Signer
}

// Service выпускает и проверяет токены
type Service struct {
	keys       KeySource
	now        func() time.Time
	name       string
	deviceType models.DeviceType
	ttl        time.Duration
}

// NewService создает сервис сопряжения для этого устройства
func NewService(keys KeySource, name string, deviceType models.DeviceType, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		keys:       keys,
		name:       name,
		deviceType: deviceType,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Issue выпускает токен сопряжения для этого устройства
func (s *Service) Issue() (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		DeviceID:            s.keys.DeviceID(),
		Name:                s.name,
		Type:                s.deviceType,
		EncryptionPublicKey: hex.EncodeToString(s.keys.PublicEncryptionKey()),
		SigningPublicKey:    hex.EncodeToString(s.keys.PublicSigningKey()),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   s.keys.DeviceID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.keys.Signer())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign pairing token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify проверяет токен другого устройства и возвращает его claims
func (s *Service) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, keyFromClaims,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// keyFromClaims достает ключ проверки из самого токена, предварительно
// убедившись, что device_id выведен из ключа шифрования.
func keyFromClaims(token *jwt.Token) (any, error) {
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", token.Claims)
	}

	encPub, err := hex.DecodeString(claims.EncryptionPublicKey)
	if err != nil || len(encPub) != curve25519.PointSize {
		return nil, fmt.Errorf("enc_pub must be %d hex-encoded bytes", curve25519.PointSize)
	}
	if err := pcrypto.VerifyDeviceID(claims.DeviceID, encPub); err != nil {
		return nil, err
	}
	if claims.Subject != claims.DeviceID {
		return nil, fmt.Errorf("subject %q does not match device id", claims.Subject)
	}

	signPub, err := hex.DecodeString(claims.SigningPublicKey)
	if err != nil || len(signPub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("sign_pub must be %d hex-encoded bytes", ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(signPub), nil
}
