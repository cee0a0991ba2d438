package orchestrator

// State состояние движка синхронизации
type State string

// Состояния движка
const (
	StateStopped     State = "stopped"
	StateStarting    State = "starting"
	StateDiscovering State = "discovering"
	StateConnected   State = "connected" // есть хотя бы один подключенный пир
	StateSyncing     State = "syncing"   // идет начальная синхронизация хотя бы с одним пиром
	StateError       State = "error"     // discovery недоступен, ждем backoff
)
