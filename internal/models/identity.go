package models

import "time"

// IdentityRecord персистентное представление ключей устройства.
// Если Sealed, приватные ключи зашифрованы ключом, полученным из passphrase (Argon2id + AES-256-GCM).
type IdentityRecord struct {
	CreatedAt         time.Time `json:"created_at"`
	DeviceID          string    `json:"device_id"`
	EncryptionPublic  []byte    `json:"enc_pub"`
	EncryptionPrivate []byte    `json:"enc_priv"`
	SigningPublic     []byte    `json:"sign_pub"`
	SigningPrivate    []byte    `json:"sign_priv"`
	Salt              []byte    `json:"salt,omitempty"`
	Sealed            bool      `json:"sealed"`
}
