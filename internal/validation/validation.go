package validation

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// DeviceIDPattern формат device_id: первые 16 hex-символов SHA256 публичного ключа
var DeviceIDPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

// DocumentIDPattern допустимые символы document_id
// Латинские буквы, цифры, точка, дефис, нижнее подчеркивание и двоеточие
var DocumentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

const (
	// MaxDocumentIDLen максимальная длина document_id
	MaxDocumentIDLen = 256
	// MaxDeviceNameLen максимальная длина имени устройства (в символах)
	MaxDeviceNameLen = 128
	// MinPassphraseLen минимальная длина passphrase для шифрования ключей
	MinPassphraseLen = 12
)

// ValidateDeviceID проверяет формат device_id
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("device id cannot be empty")
	}

	if !DeviceIDPattern.MatchString(id) {
		return fmt.Errorf("device id must be 16 lowercase hex characters")
	}

	return nil
}

// ValidateDocumentID проверяет, что document_id можно использовать в URL и хранилище
func ValidateDocumentID(id string) error {
	if id == "" {
		return fmt.Errorf("document id cannot be empty")
	}

	if len(id) > MaxDocumentIDLen {
		return fmt.Errorf("document id must not exceed %d characters", MaxDocumentIDLen)
	}

	if !DocumentIDPattern.MatchString(id) {
		return fmt.Errorf("document id can only contain letters, numbers, '.', '_', ':' and '-'")
	}

	return nil
}

// ValidateDeviceName проверяет отображаемое имя устройства
func ValidateDeviceName(name string) error {
	if name == "" {
		return fmt.Errorf("device name cannot be empty")
	}

	if !utf8.ValidString(name) {
		return fmt.Errorf("device name must be valid UTF-8")
	}

	if utf8.RuneCountInString(name) > MaxDeviceNameLen {
		return fmt.Errorf("device name must not exceed %d characters", MaxDeviceNameLen)
	}

	return nil
}

// ValidatePassphrase проверяет минимальные требования к passphrase
// Пустая passphrase допустима: ключи тогда хранятся без шифрования
func ValidatePassphrase(passphrase string) error {
	if passphrase == "" {
		return nil
	}

	if len(passphrase) < MinPassphraseLen {
		return fmt.Errorf("passphrase must be at least %d characters long", MinPassphraseLen)
	}

	return nil
}
