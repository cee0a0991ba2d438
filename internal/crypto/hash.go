package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DeviceIDLength длина device_id в hex-символах
const DeviceIDLength = 16

// DeviceIDFromKey вычисляет device_id как первые 16 hex-символов SHA256 от
// публичного ключа шифрования. Используется при сопряжении и при загрузке identity.
func DeviceIDFromKey(encPub []byte) (string, error) {
	if len(encPub) == 0 {
		return "", fmt.Errorf("public key cannot be empty")
	}

	hash := sha256.Sum256(encPub)
	return hex.EncodeToString(hash[:])[:DeviceIDLength], nil
}

// VerifyDeviceID проверяет, что device_id соответствует публичному ключу шифрования
func VerifyDeviceID(deviceID string, encPub []byte) error {
	if deviceID == "" {
		return fmt.Errorf("device id cannot be empty")
	}

	computed, err := DeviceIDFromKey(encPub)
	if err != nil {
		return fmt.Errorf("failed to compute device id: %w", err)
	}

	if computed != deviceID {
		return fmt.Errorf("device id %s does not match public key", deviceID)
	}

	return nil
}
