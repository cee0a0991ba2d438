package channel

import "errors"

var (
	// ErrUntrustedPeer пир отсутствует в наборе доверенных или приостановлен
	ErrUntrustedPeer = errors.New("untrusted peer")

	// ErrNoSession для пира не установлен сессионный ключ
	ErrNoSession = errors.New("no session with peer")

	// ErrDecrypt сообщение подделано или зашифровано другим ключом
	ErrDecrypt = errors.New("failed to decrypt message")
)
