package storage

import "errors"

// Common storage errors
var (
	// ErrIdentityNotFound indicates that no device identity has been persisted yet
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrDeviceNotFound indicates that trusted device was not found
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDocumentNotFound indicates that CRDT document was not found
	ErrDocumentNotFound = errors.New("document not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
