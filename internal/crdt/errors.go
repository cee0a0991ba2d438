package crdt

import "errors"

var (
	// ErrAuthentication подпись операции отсутствует или не проверяется
	ErrAuthentication = errors.New("operation authentication failed")

	// ErrStaleOperation часы операции не новее часов документа
	ErrStaleOperation = errors.New("stale operation")

	// ErrInvalidOperation операция не проходит проверку структуры
	ErrInvalidOperation = errors.New("invalid operation")
)
