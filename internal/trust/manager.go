// Package trust управляет набором доверенных устройств и их разрешениями.
package trust

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/storage"
)

// Candidate публичные данные устройства, которому выдается доверие
type Candidate struct {
	DeviceID            string
	Name                string
	Type                models.DeviceType
	EncryptionPublicKey []byte
	SigningPublicKey    []byte
}

// Manager хранит доверенные устройства в памяти и сохраняет весь набор при каждой мутации
type Manager struct {
	storage   storage.TrustStorage
	logger    *slog.Logger
	devices   map[string]*models.TrustedDevice
	now       func() time.Time
	selfID    string
	listeners []func(deviceID string)
	mu        sync.RWMutex
}

// NewManager загружает набор доверенных устройств из хранилища.
// selfID записывается в granted_by выданных разрешений.
func NewManager(ctx context.Context, st storage.TrustStorage, selfID string, logger *slog.Logger) (*Manager, error) {
	list, err := st.LoadTrustedDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load trusted devices: %w", err)
	}

	devices := make(map[string]*models.TrustedDevice, len(list))
	for _, d := range list {
		if d.Permissions == nil {
			d.Permissions = make(map[string]models.Permission)
		}
		devices[d.DeviceID] = d
	}

	logger.Info("Trusted devices loaded", "count", len(devices))

	return &Manager{
		storage: st,
		logger:  logger,
		devices: devices,
		now:     func() time.Time { return time.Now().UTC() },
		selfID:  selfID,
	}, nil
}

// OnUntrust регистрирует обработчик, вызываемый после удаления устройства из доверенных
// и после повторного Trust с другими ключами
func (m *Manager) OnUntrust(fn func(deviceID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Trust регистрирует (или заменяет) доверенное устройство.
// Без явных grants устройство получает sync:read.
// Возвращает false при некорректных ключах или ошибке сохранения.
func (m *Manager) Trust(ctx context.Context, c Candidate, grants map[string]models.PermissionLevel) bool {
	if c.DeviceID == "" || c.DeviceID == m.selfID {
		m.logger.Warn("Refusing to trust device", "device_id", c.DeviceID)
		return false
	}
	if len(c.EncryptionPublicKey) != curve25519.PointSize || len(c.SigningPublicKey) != ed25519.PublicKeySize {
		m.logger.Warn("Refusing to trust device with malformed keys", "device_id", c.DeviceID)
		return false
	}
	if len(grants) == 0 {
		grants = map[string]models.PermissionLevel{CapabilitySync: models.LevelRead}
	}

	now := m.now()
	device := &models.TrustedDevice{
		DeviceID:            c.DeviceID,
		DisplayName:         c.Name,
		DeviceType:          c.Type,
		EncryptionPublicKey: append([]byte(nil), c.EncryptionPublicKey...),
		SigningPublicKey:    append([]byte(nil), c.SigningPublicKey...),
		Permissions:         make(map[string]models.Permission, len(grants)),
		TrustedAt:           now,
		LastSeen:            now,
		IsActive:            true,
	}
	for capability, level := range grants {
		if !IsKnownCapability(capability) {
			m.logger.Warn("Skipping unknown capability", "device_id", c.DeviceID, "capability", capability)
			continue
		}
		device.Permissions[capability] = models.Permission{
			Capability: capability,
			Level:      level,
			GrantedBy:  m.selfID,
			GrantedAt:  now,
		}
	}

	m.mu.Lock()
	prev := m.devices[c.DeviceID]
	m.devices[c.DeviceID] = device
	if err := m.persistLocked(ctx); err != nil {
		m.restoreLocked(c.DeviceID, prev)
		m.mu.Unlock()
		m.logger.Error("Failed to persist trusted device", "device_id", c.DeviceID, "error", err)
		return false
	}
	// Сессии со старыми ключами закрываются так же, как при Untrust
	var listeners []func(string)
	if prev != nil && keysChanged(prev, device) {
		listeners = append(listeners, m.listeners...)
	}
	m.mu.Unlock()

	if listeners != nil {
		m.logger.Warn("Device keys changed, dropping sessions", "device_id", c.DeviceID)
		for _, fn := range listeners {
			fn(c.DeviceID)
		}
	}

	m.logger.Info("Device trusted", "device_id", c.DeviceID, "name", c.Name)
	return true
}

func keysChanged(a, b *models.TrustedDevice) bool {
	return !bytes.Equal(a.EncryptionPublicKey, b.EncryptionPublicKey) ||
		!bytes.Equal(a.SigningPublicKey, b.SigningPublicKey)
}

// Untrust удаляет устройство из доверенных. Для неизвестного устройства ничего не делает.
func (m *Manager) Untrust(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	prev, ok := m.devices[deviceID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.devices, deviceID)
	if err := m.persistLocked(ctx); err != nil {
		m.restoreLocked(deviceID, prev)
		m.mu.Unlock()
		return err
	}
	listeners := append([]func(string){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(deviceID)
	}

	m.logger.Info("Device untrusted", "device_id", deviceID)
	return nil
}

// IsTrusted сообщает, что устройство известно и активно
func (m *Manager) IsTrusted(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	return ok && d.IsActive
}

// Grant выдает (или заменяет) разрешение. ttl <= 0 - бессрочно.
func (m *Manager) Grant(ctx context.Context, deviceID, capability string, level models.PermissionLevel, ttl time.Duration) error {
	if !IsKnownCapability(capability) {
		return fmt.Errorf("%w: %s", ErrUnknownCapability, capability)
	}

	return m.mutate(ctx, deviceID, func(d *models.TrustedDevice) {
		now := m.now()
		p := models.Permission{
			Capability: capability,
			Level:      level,
			GrantedBy:  m.selfID,
			GrantedAt:  now,
		}
		if ttl > 0 {
			exp := now.Add(ttl)
			p.ExpiresAt = &exp
		}
		d.Permissions[capability] = p
	})
}

// Revoke отзывает разрешение на capability
func (m *Manager) Revoke(ctx context.Context, deviceID, capability string) error {
	return m.mutate(ctx, deviceID, func(d *models.TrustedDevice) {
		delete(d.Permissions, capability)
	})
}

// Check сообщает, что устройство доверено, активно и имеет уровень не ниже required
func (m *Manager) Check(deviceID, capability string, required models.PermissionLevel) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[deviceID]
	if !ok || !d.IsActive {
		return false
	}
	p, ok := d.Permissions[capability]
	if !ok {
		return required == models.LevelNone
	}
	return p.Effective(m.now()).Allows(required)
}

// Get возвращает копию доверенного устройства
func (m *Manager) Get(deviceID string) (*models.TrustedDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return d.Clone(), nil
}

// List возвращает копии всех доверенных устройств, отсортированные по device_id
func (m *Manager) List() []*models.TrustedDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.TrustedDevice, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Touch обновляет last_seen устройства
func (m *Manager) Touch(ctx context.Context, deviceID string) error {
	return m.mutate(ctx, deviceID, func(d *models.TrustedDevice) {
		d.LastSeen = m.now()
	})
}

// SetActive включает или приостанавливает доверие без удаления устройства
func (m *Manager) SetActive(ctx context.Context, deviceID string, active bool) error {
	return m.mutate(ctx, deviceID, func(d *models.TrustedDevice) {
		d.IsActive = active
	})
}

// mutate применяет изменение к копии устройства и сохраняет набор.
// При ошибке сохранения состояние в памяти не меняется.
func (m *Manager) mutate(ctx context.Context, deviceID string, fn func(d *models.TrustedDevice)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	next := prev.Clone()
	fn(next)
	m.devices[deviceID] = next

	if err := m.persistLocked(ctx); err != nil {
		m.devices[deviceID] = prev
		return err
	}
	return nil
}

func (m *Manager) restoreLocked(deviceID string, prev *models.TrustedDevice) {
	if prev == nil {
		delete(m.devices, deviceID)
		return
	}
	m.devices[deviceID] = prev
}

func (m *Manager) persistLocked(ctx context.Context) error {
	list := make([]*models.TrustedDevice, 0, len(m.devices))
	for _, d := range m.devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].DeviceID < list[j].DeviceID })

	if err := m.storage.SaveTrustedDevices(ctx, list); err != nil {
		return fmt.Errorf("failed to persist trusted devices: %w", err)
	}
	return nil
}
