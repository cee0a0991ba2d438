package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iudanet/peersync/internal/models"
)

// SaveDocument upserts the merged document and appends the operation to the log
// in one transaction
func (s *Storage) SaveDocument(ctx context.Context, doc *models.Document, op *models.Operation) error {
	content, err := json.Marshal(doc.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}
	clock, err := json.Marshal(doc.Clock)
	if err != nil {
		return fmt.Errorf("failed to marshal vector clock: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO documents (id, type, content, vector_clock, created_by, last_modified, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			content = excluded.content,
			vector_clock = excluded.vector_clock,
			created_by = excluded.created_by,
			last_modified = excluded.last_modified,
			deleted = excluded.deleted
	`
	_, err = tx.ExecContext(ctx, query,
		doc.ID,
		string(doc.Type),
		string(content),
		string(clock),
		doc.CreatedBy,
		doc.LastModified.UnixNano(),
		boolToInt(doc.Deleted),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	if op != nil {
		if err := insertOperation(ctx, tx, op); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func insertOperation(ctx context.Context, tx *sql.Tx, op *models.Operation) error {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	clock, err := json.Marshal(op.Clock)
	if err != nil {
		return fmt.Errorf("failed to marshal operation clock: %w", err)
	}

	query := `
		INSERT INTO operations (
			id, device_id, document_id, document_type, operation_type,
			payload, vector_clock, timestamp, signature
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		op.ID,
		op.DeviceID,
		op.DocumentID,
		string(op.DocumentType),
		string(op.Type),
		string(payload),
		string(clock),
		op.Timestamp,
		op.Signature,
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}

	return nil
}

// LoadDocuments returns all documents including tombstones
func (s *Storage) LoadDocuments(ctx context.Context) (docs []*models.Document, err error) {
	query := `
		SELECT id, type, content, vector_clock, created_by, last_modified, deleted
		FROM documents
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for rows.Next() {
		var (
			doc                  models.Document
			docType, content, vc string
			lastModified         int64
			deleted              int
		)
		if err := rows.Scan(&doc.ID, &docType, &content, &vc, &doc.CreatedBy, &lastModified, &deleted); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		doc.Type = models.DocumentType(docType)
		doc.LastModified = time.Unix(0, lastModified)
		doc.Deleted = intToBool(deleted)
		if err := decodeJSON([]byte(content), &doc.Content); err != nil {
			return nil, fmt.Errorf("failed to decode content of %s: %w", doc.ID, err)
		}
		if err := decodeJSON([]byte(vc), &doc.Clock); err != nil {
			return nil, fmt.Errorf("failed to decode clock of %s: %w", doc.ID, err)
		}

		docs = append(docs, &doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return docs, nil
}

// LoadOperations returns the accepted operation log in apply order
func (s *Storage) LoadOperations(ctx context.Context) (ops []*models.Operation, err error) {
	query := `
		SELECT id, device_id, document_id, document_type, operation_type,
		       payload, vector_clock, timestamp, signature
		FROM operations
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for rows.Next() {
		var (
			op                       models.Operation
			docType, opType, payload string
			vc                       string
		)
		if err := rows.Scan(&op.ID, &op.DeviceID, &op.DocumentID, &docType, &opType,
			&payload, &vc, &op.Timestamp, &op.Signature); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}

		op.DocumentType = models.DocumentType(docType)
		op.Type = models.OperationType(opType)
		if err := decodeJSON([]byte(payload), &op.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of %s: %w", op.ID, err)
		}
		if err := decodeJSON([]byte(vc), &op.Clock); err != nil {
			return nil, fmt.Errorf("failed to decode clock of %s: %w", op.ID, err)
		}

		ops = append(ops, &op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return ops, nil
}

// decodeJSON декодирует с UseNumber, чтобы байты подписи совпадали после перезагрузки
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}
