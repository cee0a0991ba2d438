package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/storage"
)

// SaveTrustedDevices replaces the whole trusted-device set in one transaction.
// Частичная запись невозможна: bbolt либо коммитит весь tx, либо ничего.
func (s *Storage) SaveTrustedDevices(ctx context.Context, devices []*models.TrustedDevice) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		// Пересоздаем bucket: полная перезапись набора
		if err := tx.DeleteBucket(bucketTrusted); err != nil && err != bbolt.ErrBucketNotFound {
			return fmt.Errorf("failed to delete bucket: %w", err)
		}
		bucket, err := tx.CreateBucket(bucketTrusted)
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}

		for _, d := range devices {
			data, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("failed to marshal device %s: %w", d.DeviceID, err)
			}
			if err := bucket.Put([]byte(d.DeviceID), data); err != nil {
				return fmt.Errorf("failed to save device %s: %w", d.DeviceID, err)
			}
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// LoadTrustedDevices returns every persisted trusted device
func (s *Storage) LoadTrustedDevices(ctx context.Context) ([]*models.TrustedDevice, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var devices []*models.TrustedDevice

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTrusted)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var d models.TrustedDevice
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("failed to unmarshal device: %w", err)
			}
			devices = append(devices, &d)
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load trusted devices: %w", err)
	}

	return devices, nil
}
