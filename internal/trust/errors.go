package trust

import "errors"

var (
	// ErrUnknownDevice операция над устройством, которого нет в наборе доверенных
	ErrUnknownDevice = errors.New("unknown device")

	// ErrUnknownCapability capability вне каталога
	ErrUnknownCapability = errors.New("unknown capability")
)
