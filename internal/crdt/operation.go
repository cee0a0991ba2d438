package crdt

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/iudanet/peersync/internal/models"
)

// operationNamespace namespace UUIDv5 для идентификаторов операций
var operationNamespace = uuid.MustParse("3b8f6a52-9d1e-4c07-a5f2-61e0c4d7b913")

// OperationID детерминированный идентификатор операции из origin и счетчика
func OperationID(deviceID string, counter uint64) string {
	return uuid.NewSHA1(operationNamespace, []byte(deviceID+":"+strconv.FormatUint(counter, 10))).String()
}

// SigningBytes каноническое представление операции без подписи.
// encoding/json сортирует ключи map, поэтому обе стороны получают одинаковые байты,
// если числа в payload декодированы как json.Number.
func SigningBytes(op *models.Operation) ([]byte, error) {
	unsigned := *op
	unsigned.Signature = nil

	data, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation for signing: %w", err)
	}
	return data, nil
}

// validate проверяет структуру операции до применения
func validate(op *models.Operation) error {
	if op == nil {
		return fmt.Errorf("%w: nil operation", ErrInvalidOperation)
	}
	if op.DeviceID == "" || op.DocumentID == "" {
		return fmt.Errorf("%w: missing device or document id", ErrInvalidOperation)
	}
	if _, err := models.ParseOperationType(string(op.Type)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	if _, err := models.ParseDocumentType(string(op.DocumentType)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	if op.Counter() == 0 {
		return fmt.Errorf("%w: origin coordinate missing from clock", ErrInvalidOperation)
	}
	if op.ID != OperationID(op.DeviceID, op.Counter()) {
		return fmt.Errorf("%w: operation id does not match origin and counter", ErrInvalidOperation)
	}
	return nil
}
