package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/storage"
)

// SaveDocument stores the merged document and appends the operation to the log.
// Ключ операции - порядковый номер bucket'а (big-endian), поэтому ForEach
// возвращает операции в порядке применения.
func (s *Storage) SaveDocument(ctx context.Context, doc *models.Document, op *models.Operation) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	docData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	var opData []byte
	if op != nil {
		opData, err = json.Marshal(op)
		if err != nil {
			return fmt.Errorf("failed to marshal operation: %w", err)
		}
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		if docs == nil {
			return fmt.Errorf("documents bucket not found")
		}
		if err := docs.Put([]byte(doc.ID), docData); err != nil {
			return fmt.Errorf("failed to save document: %w", err)
		}

		if opData == nil {
			return nil
		}

		ops := tx.Bucket(bucketOperations)
		if ops == nil {
			return fmt.Errorf("operations bucket not found")
		}
		seq, err := ops.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate operation sequence: %w", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := ops.Put(key, opData); err != nil {
			return fmt.Errorf("failed to save operation: %w", err)
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// LoadDocuments returns all documents including tombstones
func (s *Storage) LoadDocuments(ctx context.Context) ([]*models.Document, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var docs []*models.Document

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDocuments)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			doc := &models.Document{}
			if err := decodeJSON(v, doc); err != nil {
				return fmt.Errorf("failed to unmarshal document: %w", err)
			}
			docs = append(docs, doc)
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}

	return docs, nil
}

// LoadOperations returns the accepted operation log in apply order
func (s *Storage) LoadOperations(ctx context.Context) ([]*models.Operation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var ops []*models.Operation

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketOperations)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			op := &models.Operation{}
			if err := decodeJSON(v, op); err != nil {
				return fmt.Errorf("failed to unmarshal operation: %w", err)
			}
			ops = append(ops, op)
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load operations: %w", err)
	}

	return ops, nil
}

// decodeJSON декодирует с UseNumber, чтобы числа в content не превращались в float64
// и подпись операции проверялась на тех же байтах, что были подписаны.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
