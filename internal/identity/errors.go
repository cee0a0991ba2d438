package identity

import "errors"

// ErrIdentityCorrupt сохраненная identity нечитаема, противоречива или не расшифровывается.
// Фатальная ошибка: без стабильной identity узел не может подписывать операции.
var ErrIdentityCorrupt = errors.New("identity is corrupt")
