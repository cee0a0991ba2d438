package storage

import (
	"context"

	"github.com/iudanet/peersync/internal/models"
)

//go:generate moq -out documentstorage_mock.go . DocumentStorage

// DocumentStorage defines the application storage for replicated documents
type DocumentStorage interface {
	// SaveDocument persists the merged document together with the operation
	// that produced it, in one transaction
	SaveDocument(ctx context.Context, doc *models.Document, op *models.Operation) error

	// LoadDocuments returns all documents including tombstones
	// Used at startup to seed the CRDT store
	LoadDocuments(ctx context.Context) ([]*models.Document, error)

	// LoadOperations returns the accepted operation log in apply order
	LoadOperations(ctx context.Context) ([]*models.Operation, error)

	// Close releases the underlying database
	Close() error
}
