package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/storage"
)

// SavePeerAddress stores the last known descriptor of a peer
func (s *Storage) SavePeerAddress(ctx context.Context, desc models.DeviceDescriptor) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAddresses)
		if bucket == nil {
			return fmt.Errorf("addresses bucket not found")
		}

		if err := bucket.Put([]byte(desc.DeviceID), data); err != nil {
			return fmt.Errorf("failed to save peer address: %w", err)
		}

		return nil
	})
}

// LoadPeerAddresses returns every remembered descriptor
func (s *Storage) LoadPeerAddresses(ctx context.Context) ([]models.DeviceDescriptor, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var out []models.DeviceDescriptor

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAddresses)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var desc models.DeviceDescriptor
			if err := json.Unmarshal(v, &desc); err != nil {
				return fmt.Errorf("failed to unmarshal descriptor: %w", err)
			}
			out = append(out, desc)
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load peer addresses: %w", err)
	}

	return out, nil
}

// DeletePeerAddress forgets the address of a peer
func (s *Storage) DeletePeerAddress(ctx context.Context, deviceID string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAddresses)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(deviceID))
	})
}
