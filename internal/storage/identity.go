package storage

import (
	"context"

	"github.com/iudanet/peersync/internal/models"
)

//go:generate moq -out identitystorage_mock.go . IdentityStorage

// IdentityStorage defines durable storage for the device's own keys
type IdentityStorage interface {
	// LoadIdentity reads the persisted identity record
	// Returns ErrIdentityNotFound if nothing has been persisted yet
	LoadIdentity(ctx context.Context) (*models.IdentityRecord, error)

	// SaveIdentity atomically replaces the persisted identity record
	SaveIdentity(ctx context.Context, rec *models.IdentityRecord) error
}
