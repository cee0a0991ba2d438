package models

import (
	"fmt"
	"time"
)

// DocumentType тип реплицируемого документа.
type DocumentType string

// Типы документов
const (
	DocumentTypeNote       DocumentType = "note"
	DocumentTypeReminder   DocumentType = "reminder"
	DocumentTypePreference DocumentType = "preference"
	DocumentTypeMemory     DocumentType = "memory"
)

// ParseDocumentType проверяет строку и возвращает тип документа.
func ParseDocumentType(s string) (DocumentType, error) {
	switch t := DocumentType(s); t {
	case DocumentTypeNote, DocumentTypeReminder, DocumentTypePreference, DocumentTypeMemory:
		return t, nil
	default:
		return "", fmt.Errorf("unknown document type %q", s)
	}
}

// OperationType тип операции над документом.
type OperationType string

// Типы операций
const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// ParseOperationType проверяет строку и возвращает тип операции.
func ParseOperationType(s string) (OperationType, error) {
	switch t := OperationType(s); t {
	case OperationCreate, OperationUpdate, OperationDelete:
		return t, nil
	default:
		return "", fmt.Errorf("unknown operation type %q", s)
	}
}

// Document представляет CRDT документ.
// Изменяется только через применение операций (crdt.Store.ApplyOperation).
type Document struct {
	LastModified time.Time      `json:"last_modified"` // LastModified время последнего изменения (только для информации)
	Content      map[string]any `json:"content"`       // Content содержимое документа
	Clock        VectorClock    `json:"vector_clock"`  // Clock векторные часы документа
	ID           string         `json:"document_id"`   // ID идентификатор документа
	Type         DocumentType   `json:"document_type"` // Type тип документа
	CreatedBy    string         `json:"created_by"`    // CreatedBy устройство, создавшее документ
	Deleted      bool           `json:"deleted"`       // Deleted tombstone: документ удален, часы сохраняются
}

// Clone создает глубокую копию документа
func (d *Document) Clone() *Document {
	return &Document{
		ID:           d.ID,
		Type:         d.Type,
		Content:      CloneContent(d.Content),
		Clock:        d.Clock.Clone(),
		LastModified: d.LastModified,
		CreatedBy:    d.CreatedBy,
		Deleted:      d.Deleted,
	}
}

// Operation представляет подписанную операцию синхронизации.
// После создания не изменяется.
type Operation struct {
	Payload      map[string]any `json:"payload"`             // Payload поля документа
	Clock        VectorClock    `json:"vector_clock"`        // Clock снимок глобальных часов в момент создания
	ID           string         `json:"operation_id"`        // ID детерминированный идентификатор (origin + counter)
	DeviceID     string         `json:"device_id"`           // DeviceID устройство-источник
	DocumentID   string         `json:"document_id"`         // DocumentID целевой документ
	DocumentType DocumentType   `json:"document_type"`       // DocumentType тип целевого документа
	Type         OperationType  `json:"operation_type"`      // Type create, update или delete
	Signature    []byte         `json:"signature,omitempty"` // Signature подпись Ed25519 устройства-источника
	Timestamp    int64          `json:"timestamp"`           // Timestamp wall clock (unix nano), не участвует в слиянии
}

// Counter возвращает собственную координату источника в часах операции.
func (o *Operation) Counter() uint64 {
	return o.Clock[o.DeviceID]
}

// Clone создает глубокую копию операции
func (o *Operation) Clone() *Operation {
	var sig []byte
	if o.Signature != nil {
		sig = make([]byte, len(o.Signature))
		copy(sig, o.Signature)
	}

	return &Operation{
		ID:           o.ID,
		DeviceID:     o.DeviceID,
		DocumentID:   o.DocumentID,
		DocumentType: o.DocumentType,
		Type:         o.Type,
		Payload:      CloneContent(o.Payload),
		Timestamp:    o.Timestamp,
		Clock:        o.Clock.Clone(),
		Signature:    sig,
	}
}

// CloneContent рекурсивно копирует JSON-подобное значение (map/slice).
func CloneContent(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneContent(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
