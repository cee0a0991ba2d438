package storage

import (
	"context"

	"github.com/iudanet/peersync/internal/models"
)

//go:generate moq -out truststorage_mock.go . TrustStorage

// TrustStorage defines durable storage for the trusted-device set
type TrustStorage interface {
	// LoadTrustedDevices returns every persisted trusted device
	LoadTrustedDevices(ctx context.Context) ([]*models.TrustedDevice, error)

	// SaveTrustedDevices replaces the whole persisted set in one atomic write
	SaveTrustedDevices(ctx context.Context, devices []*models.TrustedDevice) error
}

//go:generate moq -out addressstorage_mock.go . AddressStorage

// AddressStorage remembers the last known network address of peers
// Used to redial known peers on startup when discovery is disabled or slow
type AddressStorage interface {
	// SavePeerAddress stores the last known descriptor of a peer
	SavePeerAddress(ctx context.Context, desc models.DeviceDescriptor) error

	// LoadPeerAddresses returns every remembered descriptor
	LoadPeerAddresses(ctx context.Context) ([]models.DeviceDescriptor, error)

	// DeletePeerAddress forgets the address of a peer
	DeletePeerAddress(ctx context.Context, deviceID string) error
}
