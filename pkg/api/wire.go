package api

import "github.com/iudanet/peersync/internal/models"

// ProtocolVersion версия протокола синхронизации
const ProtocolVersion = 1

// Типы транспортных кадров
const (
	FrameHello  = "hello"  // открытое представление устройства при подключении
	FrameSealed = "sealed" // Envelope, зашифрованный сессионным ключом
)

// Типы сообщений внутри зашифрованного кадра
const (
	EnvelopeSummary    = "summary"    // часы всех документов отправителя
	EnvelopeRequest    = "request"    // запрос операций: часы получателя по документам, где отправитель отстает
	EnvelopeOperations = "operations" // подписанные операции
	EnvelopePing       = "ping"       // keepalive
)

// Frame транспортный кадр между узлами
type Frame struct {
	Hello  *Hello `json:"hello,omitempty"`
	Type   string `json:"type"`
	Sealed []byte `json:"sealed,omitempty"` // AES-256-GCM(Envelope)
}

// Hello представляет устройство. Подлинность подтверждается тем,
// что дальнейшие кадры расшифровываются ключом, выведенным из его публичного ключа.
type Hello struct {
	DeviceID     string   `json:"device_id"`
	Name         string   `json:"name,omitempty"`
	DeviceType   string   `json:"device_type,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Port         int      `json:"port,omitempty"`
	Protocol     int      `json:"protocol"`
}

// Envelope сообщение протокола синхронизации
type Envelope struct {
	Summary    map[string]models.VectorClock `json:"summary,omitempty"`
	Request    map[string]models.VectorClock `json:"request,omitempty"`
	Type       string                        `json:"type"`
	Operations []*models.Operation           `json:"operations,omitempty"`
}
