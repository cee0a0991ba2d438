// Package keyfile хранит identity устройства в отдельном JSON файле с правами 0600.
package keyfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/storage"
)

// Store file-backed IdentityStorage
type Store struct {
	path string
}

// New создает хранилище identity по указанному пути.
// Директория создается при первой записи.
func New(path string) *Store {
	return &Store{path: path}
}

// Path возвращает путь к файлу ключей
func (s *Store) Path() string {
	return s.path
}

// LoadIdentity читает identity из файла.
// Возвращает storage.ErrIdentityNotFound, если файла нет.
func (s *Store) LoadIdentity(ctx context.Context) (*models.IdentityRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	var rec models.IdentityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode identity file: %w", err)
	}

	return &rec, nil
}

// SaveIdentity атомарно записывает identity: временный файл, fsync, rename.
func (s *Store) SaveIdentity(ctx context.Context, rec *models.IdentityRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}

	return WriteFileAtomic(s.path, data, 0o600)
}

// WriteFileAtomic записывает файл так, что читатель видит либо старое, либо новое содержимое.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// после успешного rename файла уже нет
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}
