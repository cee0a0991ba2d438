package orchestrator

import "errors"

var (
	// ErrTransportTimeout пир не принял данные за send_timeout или переполнил outbox
	ErrTransportTimeout = errors.New("transport timeout")

	// ErrNotRunning движок не запущен
	ErrNotRunning = errors.New("sync engine is not running")

	// ErrHandshake пир не представился корректным hello
	ErrHandshake = errors.New("handshake failed")
)
