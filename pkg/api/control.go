package api

import (
	"time"

	"github.com/iudanet/peersync/internal/models"
)

// HealthResponse ответ /health
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse состояние узла синхронизации
type StatusResponse struct {
	VectorClock    models.VectorClock `json:"vector_clock"`
	State          string             `json:"state"`
	DeviceID       string             `json:"device_id"`
	ConnectedPeers []string           `json:"connected_peers"`
	DocumentCount  int                `json:"document_count"`
}

// PairingResponse публичные данные устройства и подписанный токен сопряжения
type PairingResponse struct {
	ExpiresAt time.Time               `json:"expires_at"`
	Materials models.PairingMaterials `json:"materials"`
	Token     string                  `json:"token"`
}

// AcceptPairingRequest запрос на добавление устройства по токену сопряжения
type AcceptPairingRequest struct {
	Token string `json:"token"`
}

// PermissionView разрешение в ответе API
type PermissionView struct {
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Level     string     `json:"level"`
	GrantedBy string     `json:"granted_by"`
}

// PeerResponse доверенное устройство
type PeerResponse struct {
	TrustedAt   time.Time                 `json:"trusted_at"`
	LastSeen    time.Time                 `json:"last_seen"`
	Permissions map[string]PermissionView `json:"permissions"`
	DeviceID    string                    `json:"device_id"`
	Name        string                    `json:"name"`
	Type        string                    `json:"type"`
	IsActive    bool                      `json:"is_active"`
	Connected   bool                      `json:"connected"`
}

// GrantRequest запрос на выдачу разрешения
type GrantRequest struct {
	Level string `json:"level"`         // none, read, write, admin
	TTL   string `json:"ttl,omitempty"` // time.ParseDuration, пусто - бессрочно
}

// PutDocumentRequest локальная запись документа
type PutDocumentRequest struct {
	Content   map[string]any `json:"content"`
	Type      string         `json:"type"`                // note, reminder, preference, memory
	Operation string         `json:"operation,omitempty"` // create или update (по умолчанию update)
}

// DocumentResponse документ в ответе API
type DocumentResponse struct {
	LastModified time.Time          `json:"last_modified"`
	Content      map[string]any     `json:"content"`
	VectorClock  models.VectorClock `json:"vector_clock"`
	ID           string             `json:"document_id"`
	Type         string             `json:"document_type"`
	CreatedBy    string             `json:"created_by"`
}

// OperationResponse результат локальной записи
type OperationResponse struct {
	VectorClock models.VectorClock `json:"vector_clock"`
	OperationID string             `json:"operation_id"`
	DocumentID  string             `json:"document_id"`
	Type        string             `json:"operation_type"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}

// NewDocumentResponse преобразует документ в ответ API
func NewDocumentResponse(d *models.Document) DocumentResponse {
	return DocumentResponse{
		ID:           d.ID,
		Type:         string(d.Type),
		Content:      d.Content,
		VectorClock:  d.Clock,
		LastModified: d.LastModified,
		CreatedBy:    d.CreatedBy,
	}
}

// NewPeerResponse преобразует доверенное устройство в ответ API
func NewPeerResponse(d *models.TrustedDevice, connected bool) PeerResponse {
	perms := make(map[string]PermissionView, len(d.Permissions))
	for name, p := range d.Permissions {
		perms[name] = PermissionView{
			Level:     string(p.Level),
			GrantedBy: p.GrantedBy,
			GrantedAt: p.GrantedAt,
			ExpiresAt: p.ExpiresAt,
		}
	}

	return PeerResponse{
		DeviceID:    d.DeviceID,
		Name:        d.DisplayName,
		Type:        string(d.DeviceType),
		Permissions: perms,
		TrustedAt:   d.TrustedAt,
		LastSeen:    d.LastSeen,
		IsActive:    d.IsActive,
		Connected:   connected,
	}
}
