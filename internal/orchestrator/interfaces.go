package orchestrator

import (
	"context"

	"github.com/iudanet/peersync/internal/channel"
	"github.com/iudanet/peersync/internal/models"
)

// Connection транспортное соединение с пиром. Каждое сообщение передается целиком.
type Connection interface {
	Send(ctx context.Context, data []byte) error
	Receive() ([]byte, error)
	Close() error
	RemoteAddr() string
}

// Dialer открывает исходящее соединение к найденному устройству
type Dialer interface {
	Dial(ctx context.Context, desc models.DeviceDescriptor) (Connection, error)
}

// Discovery поставляет найденные устройства. Канал закрывается при остановке или сбое.
type Discovery interface {
	Discover(ctx context.Context) (<-chan models.DeviceDescriptor, error)
}

// Identity публичные данные этого устройства
type Identity interface {
	DeviceID() string
	PairingMaterials() models.PairingMaterials
}

// TrustView набор доверенных устройств (trust.Manager)
type TrustView interface {
	IsTrusted(deviceID string) bool
	Check(deviceID, capability string, required models.PermissionLevel) bool
	Touch(ctx context.Context, deviceID string) error
	OnUntrust(fn func(deviceID string))
}

// SecureChannel защищенный канал (channel.Channel)
type SecureChannel interface {
	EstablishSession(peerID string) (channel.SessionKey, error)
	Seal(plaintext []byte, peerID string) ([]byte, error)
	Open(ciphertext []byte, peerID string) ([]byte, error)
	CloseSession(peerID string)
}

// DocumentStore хранилище документов (crdt.Store)
type DocumentStore interface {
	Load(ctx context.Context) error
	ApplyOperation(ctx context.Context, op *models.Operation) (bool, error)
	CreateLocalOperation(
		ctx context.Context,
		documentID string,
		docType models.DocumentType,
		opType models.OperationType,
		payload map[string]any,
	) (*models.Operation, error)
	Summary() map[string]models.VectorClock
	OperationsSince(documentID string, peer models.VectorClock) []*models.Operation
	GlobalClock() models.VectorClock
	DocumentCount() int
}
