package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iudanet/peersync/internal/crdt"
	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/orchestrator"
	"github.com/iudanet/peersync/internal/storage"
	"github.com/iudanet/peersync/internal/validation"
	"github.com/iudanet/peersync/pkg/api"
)

// Documents чтение локальной реплики документов
type Documents interface {
	Get(documentID string) (*models.Document, error)
	List() []*models.Document
}

// DocumentsHandler читает документы и публикует локальные изменения
type DocumentsHandler struct {
	logger *slog.Logger
	docs   Documents
	node   Node
}

// NewDocumentsHandler создает handler документов
func NewDocumentsHandler(logger *slog.Logger, docs Documents, node Node) *DocumentsHandler {
	return &DocumentsHandler{
		logger: logger,
		docs:   docs,
		node:   node,
	}
}

// List обрабатывает GET /documents[?type=note]
func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter models.DocumentType
	if t := r.URL.Query().Get("type"); t != "" {
		parsed, err := models.ParseDocumentType(t)
		if err != nil {
			sendError(h.logger, w, err.Error(), http.StatusBadRequest)
			return
		}
		filter = parsed
	}

	docs := h.docs.List()
	resp := make([]api.DocumentResponse, 0, len(docs))
	for _, d := range docs {
		if filter != "" && d.Type != filter {
			continue
		}
		resp = append(resp, api.NewDocumentResponse(d))
	}

	sendJSON(h.logger, w, resp, http.StatusOK)
}

// Get обрабатывает GET /documents/{id}
func (h *DocumentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}

	doc, err := h.docs.Get(id)
	if err != nil {
		h.sendDocumentError(w, r, err)
		return
	}

	sendJSON(h.logger, w, api.NewDocumentResponse(doc), http.StatusOK)
}

// Put обрабатывает PUT /documents/{id}: публикует create или update
func (h *DocumentsHandler) Put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}

	var req api.PutDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.WarnContext(ctx, "Invalid document request", "document_id", id, "error", err)
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	docType, err := models.ParseDocumentType(req.Type)
	if err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	opType := models.OperationUpdate
	if req.Operation != "" {
		opType, err = models.ParseOperationType(req.Operation)
		if err != nil || opType == models.OperationDelete {
			sendError(h.logger, w, "operation must be create or update", http.StatusBadRequest)
			return
		}
	}

	op, err := h.node.PublishLocalChange(ctx, id, docType, opType, req.Content)
	if err != nil {
		h.sendDocumentError(w, r, err)
		return
	}

	sendJSON(h.logger, w, newOperationResponse(op), http.StatusOK)
}

// Delete обрабатывает DELETE /documents/{id}: публикует delete с типом существующего документа
func (h *DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}

	doc, err := h.docs.Get(id)
	if err != nil {
		h.sendDocumentError(w, r, err)
		return
	}

	op, err := h.node.PublishLocalChange(r.Context(), id, doc.Type, models.OperationDelete, nil)
	if err != nil {
		h.sendDocumentError(w, r, err)
		return
	}

	sendJSON(h.logger, w, newOperationResponse(op), http.StatusOK)
}

func (h *DocumentsHandler) documentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if err := validation.ValidateDocumentID(id); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (h *DocumentsHandler) sendDocumentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrDocumentNotFound):
		sendError(h.logger, w, "document not found", http.StatusNotFound)
	case errors.Is(err, crdt.ErrInvalidOperation):
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, orchestrator.ErrNotRunning):
		sendError(h.logger, w, "sync engine is not running", http.StatusServiceUnavailable)
	default:
		h.logger.ErrorContext(r.Context(), "Document operation failed", "path", r.URL.Path, "error", err)
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
	}
}

func newOperationResponse(op *models.Operation) api.OperationResponse {
	return api.OperationResponse{
		OperationID: op.ID,
		DocumentID:  op.DocumentID,
		Type:        string(op.Type),
		VectorClock: op.Clock,
	}
}
