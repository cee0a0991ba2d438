package models

import (
	"fmt"
	"time"
)

// DeviceType тип устройства пользователя
type DeviceType string

// Типы устройств
const (
	DeviceTypeMobile  DeviceType = "mobile"
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeHub     DeviceType = "hub"
	DeviceTypeTV      DeviceType = "tv"
	DeviceTypeCar     DeviceType = "car"
	DeviceTypeWatch   DeviceType = "watch"
)

// ParseDeviceType проверяет строку и возвращает тип устройства.
func ParseDeviceType(s string) (DeviceType, error) {
	switch t := DeviceType(s); t {
	case DeviceTypeMobile, DeviceTypeDesktop, DeviceTypeHub, DeviceTypeTV, DeviceTypeCar, DeviceTypeWatch:
		return t, nil
	default:
		return "", fmt.Errorf("unknown device type %q", s)
	}
}

// PermissionLevel уровень доступа к capability.
// Уровни упорядочены: none < read < write < admin.
type PermissionLevel string

// Уровни доступа
const (
	LevelNone  PermissionLevel = "none"
	LevelRead  PermissionLevel = "read"
	LevelWrite PermissionLevel = "write"
	LevelAdmin PermissionLevel = "admin"
)

// Rank возвращает порядковый номер уровня для сравнения.
// Неизвестный уровень считается none.
func (l PermissionLevel) Rank() int {
	switch l {
	case LevelRead:
		return 1
	case LevelWrite:
		return 2
	case LevelAdmin:
		return 3
	default:
		return 0
	}
}

// Allows сообщает, достаточно ли уровня l для required.
func (l PermissionLevel) Allows(required PermissionLevel) bool {
	return l.Rank() >= required.Rank()
}

// ParsePermissionLevel проверяет строку и возвращает уровень доступа.
func ParsePermissionLevel(s string) (PermissionLevel, error) {
	switch l := PermissionLevel(s); l {
	case LevelNone, LevelRead, LevelWrite, LevelAdmin:
		return l, nil
	default:
		return "", fmt.Errorf("unknown permission level %q", s)
	}
}

// Permission разрешение доверенного устройства на одну capability
type Permission struct {
	GrantedAt  time.Time       `json:"granted_at"`           // GrantedAt время выдачи
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"` // ExpiresAt опциональный срок действия
	Capability string          `json:"capability"`           // Capability имя capability (sync, camera, ...)
	Level      PermissionLevel `json:"level"`                // Level уровень доступа
	GrantedBy  string          `json:"granted_by"`           // GrantedBy device_id выдавшего устройства
}

// Effective возвращает уровень с учетом срока действия.
func (p Permission) Effective(now time.Time) PermissionLevel {
	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		return LevelNone
	}
	return p.Level
}

// TrustedDevice представляет устройство, которому этот узел доверяет
type TrustedDevice struct {
	TrustedAt           time.Time             `json:"trusted_at"`
	LastSeen            time.Time             `json:"last_seen"`
	Permissions         map[string]Permission `json:"permissions"`  // ключ - capability
	DeviceID            string                `json:"device_id"`
	DisplayName         string                `json:"name"`
	DeviceType          DeviceType            `json:"type"`
	EncryptionPublicKey []byte                `json:"enc_pub_key"`  // X25519, 32 bytes
	SigningPublicKey    []byte                `json:"sign_pub_key"` // Ed25519, 32 bytes
	IsActive            bool                  `json:"is_active"`
}

// Clone создает глубокую копию устройства
func (d *TrustedDevice) Clone() *TrustedDevice {
	perms := make(map[string]Permission, len(d.Permissions))
	for k, p := range d.Permissions {
		if p.ExpiresAt != nil {
			exp := *p.ExpiresAt
			p.ExpiresAt = &exp
		}
		perms[k] = p
	}

	return &TrustedDevice{
		DeviceID:            d.DeviceID,
		DisplayName:         d.DisplayName,
		DeviceType:          d.DeviceType,
		EncryptionPublicKey: append([]byte(nil), d.EncryptionPublicKey...),
		SigningPublicKey:    append([]byte(nil), d.SigningPublicKey...),
		Permissions:         perms,
		TrustedAt:           d.TrustedAt,
		LastSeen:            d.LastSeen,
		IsActive:            d.IsActive,
	}
}

// DeviceDescriptor описывает устройство, найденное discovery
type DeviceDescriptor struct {
	DeviceID     string     `json:"device_id"`
	Name         string     `json:"name"`
	Type         DeviceType `json:"type,omitempty"`
	Address      string     `json:"address"`
	Capabilities []string   `json:"capabilities"`
	Port         int        `json:"port"`
}

// PairingMaterials публичные данные устройства для ручного сопряжения
type PairingMaterials struct {
	DeviceID            string `json:"device_id"`
	EncryptionPublicKey string `json:"encryption_public_key"` // hex
	SigningPublicKey    string `json:"signing_public_key"`    // hex
}
