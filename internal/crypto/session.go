package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SessionInfo - context string HKDF для сессионных ключей
const SessionInfo = "peersync/session/v1"

// DeriveSessionKey получает симметричный ключ сессии из общего секрета ECDH.
// Salt строится из отсортированной пары device_id, поэтому обе стороны
// получают один и тот же ключ независимо от того, кто инициировал соединение.
func DeriveSessionKey(shared []byte, deviceA, deviceB string) ([]byte, error) {
	if len(shared) == 0 {
		return nil, fmt.Errorf("shared secret cannot be empty")
	}
	if deviceA == "" || deviceB == "" {
		return nil, fmt.Errorf("device ids cannot be empty")
	}

	lo, hi := deviceA, deviceB
	if hi < lo {
		lo, hi = hi, lo
	}
	salt := sha256.Sum256([]byte(lo + "|" + hi))

	reader := hkdf.New(sha256.New, shared, salt[:], []byte(SessionInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}

	return key, nil
}
