package iocli

import (
	"fmt"
	"os"
	"strings"

	"github.com/iudanet/peersync/internal/validation"
)

// PassphraseEnv переменная окружения с passphrase ключа устройства
const PassphraseEnv = "PEERSYNC_PASSPHRASE"

// PassphraseSource источники passphrase узла
type PassphraseSource struct {
	IO       IO                  // для интерактивного ввода
	Getenv   func(string) string // nil - os.Getenv
	File     string              // identity.passphrase_file
	Terminal bool                // stdin - терминал, можно спросить
}

// ReadPassphrase получает passphrase с приоритетом:
// 1. Переменная окружения PEERSYNC_PASSPHRASE
// 2. Файл identity.passphrase_file
// 3. Интерактивный ввод, если stdin - терминал
// Без источников возвращает пустую строку: ключи хранятся без шифрования.
func ReadPassphrase(src PassphraseSource) (string, error) {
	getenv := src.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	passphrase, err := lookupPassphrase(src, getenv)
	if err != nil {
		return "", err
	}
	if err := validation.ValidatePassphrase(passphrase); err != nil {
		return "", fmt.Errorf("invalid passphrase: %w", err)
	}
	return passphrase, nil
}

func lookupPassphrase(src PassphraseSource, getenv func(string) string) (string, error) {
	if env := getenv(PassphraseEnv); env != "" {
		return env, nil
	}

	if src.File != "" {
		content, err := os.ReadFile(src.File)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase file: %w", err)
		}
		// Убираем trailing newline/whitespace
		passphrase := strings.TrimSpace(string(content))
		if passphrase == "" {
			return "", fmt.Errorf("passphrase file is empty")
		}
		return passphrase, nil
	}

	if src.Terminal && src.IO != nil {
		passphrase, err := src.IO.ReadPassword("Device key passphrase (empty - store unencrypted): ")
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase from stdin: %w", err)
		}
		return passphrase, nil
	}

	return "", nil
}
