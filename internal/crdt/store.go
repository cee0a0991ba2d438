// Package crdt реализует хранилище реплицируемых документов на векторных часах.
// Слияние whole-operation last-writer-wins: операция принимается целиком,
// если ее часы новее часов документа.
package crdt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/storage"
)

// Verifier проверяет подпись устройства-источника (channel.Channel)
type Verifier interface {
	Verify(message, signature []byte, originID string) bool
}

// Signer подписывает байты ключом этого устройства
type Signer interface {
	Sign(message []byte) []byte
}

// Store документы, глобальные часы и журнал принятых операций.
// Применение операций сериализовано мьютексом.
type Store struct {
	storage  storage.DocumentStorage
	verifier Verifier
	signer   Signer
	logger   *slog.Logger
	clock    *GlobalClock
	docs     map[string]*models.Document
	oplog    map[string][]*models.Operation // журнал по документу в порядке применения
	now      func() time.Time
	mu       sync.RWMutex
}

// New создает пустое хранилище. Состояние загружается через Load.
func New(deviceID string, st storage.DocumentStorage, verifier Verifier, signer Signer, logger *slog.Logger) *Store {
	return &Store{
		storage:  st,
		verifier: verifier,
		signer:   signer,
		logger:   logger,
		clock:    NewGlobalClock(deviceID),
		docs:     make(map[string]*models.Document),
		oplog:    make(map[string][]*models.Operation),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Load заполняет хранилище сохраненными документами и журналом операций.
// Глобальные часы восстанавливаются из часов документов и операций.
func (s *Store) Load(ctx context.Context) error {
	docs, err := s.storage.LoadDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to load documents: %w", err)
	}
	ops, err := s.storage.LoadOperations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load operations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs = make(map[string]*models.Document, len(docs))
	s.oplog = make(map[string][]*models.Operation)

	for _, d := range docs {
		if d.Clock == nil {
			d.Clock = make(models.VectorClock)
		}
		if d.Content == nil {
			d.Content = make(map[string]any)
		}
		s.docs[d.ID] = d
		s.clock.Observe(d.Clock)
	}
	for _, op := range ops {
		s.oplog[op.DocumentID] = append(s.oplog[op.DocumentID], op)
		s.clock.Observe(op.Clock)
	}

	s.logger.Info("Document store loaded",
		"documents", len(docs),
		"operations", len(ops),
		"clock", s.clock.Snapshot().String())
	return nil
}

// ApplyOperation проверяет подпись и применяет операцию, если ее часы новее часов документа.
// Возвращает true, если документ изменился. ErrAuthentication и ErrStaleOperation
// означают, что хранилище не изменилось.
func (s *Store) ApplyOperation(ctx context.Context, op *models.Operation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyLocked(ctx, op)
}

func (s *Store) applyLocked(ctx context.Context, op *models.Operation) (bool, error) {
	if op == nil {
		return false, fmt.Errorf("%w: nil operation", ErrInvalidOperation)
	}

	msg, err := SigningBytes(op)
	if err != nil || len(op.Signature) == 0 || !s.verifier.Verify(msg, op.Signature, op.DeviceID) {
		s.logger.Warn("Rejected operation with invalid signature",
			"operation_id", op.ID,
			"device_id", op.DeviceID,
			"document_id", op.DocumentID)
		return false, ErrAuthentication
	}

	if err := validate(op); err != nil {
		s.logger.Warn("Rejected malformed operation", "operation_id", op.ID, "error", err)
		return false, err
	}

	// Чужая операция не может видеть больше наших операций, чем мы создали
	self := s.clock.DeviceID()
	if op.DeviceID != self && op.Clock[self] > s.clock.Counter() {
		s.logger.Warn("Rejected operation ahead of local counter",
			"operation_id", op.ID,
			"device_id", op.DeviceID,
			"op_counter", op.Clock[self],
			"local_counter", s.clock.Counter())
		return false, fmt.Errorf("%w: clock claims %d local operations, only %d exist",
			ErrInvalidOperation, op.Clock[self], s.clock.Counter())
	}

	current := s.docs[op.DocumentID]
	var prior models.VectorClock
	if current != nil {
		prior = current.Clock
	}

	// Устаревшая операция не сохраняется, поэтому ее часы не попадают в глобальные:
	// иначе после Load часы откатились бы назад.
	if !op.Clock.IsNewerThan(prior) {
		s.logger.Debug("Stale operation ignored",
			"operation_id", op.ID,
			"document_id", op.DocumentID,
			"op_clock", op.Clock.String(),
			"doc_clock", prior.String())
		return false, ErrStaleOperation
	}

	next := s.merge(current, op)

	if !prior.LessOrEqual(next.Clock) || !op.Clock.LessOrEqual(next.Clock) {
		return false, fmt.Errorf("clock invariant violated for document %s", op.DocumentID)
	}

	stored := op.Clone()
	if err := s.storage.SaveDocument(ctx, next, stored); err != nil {
		return false, fmt.Errorf("failed to persist document: %w", err)
	}

	s.docs[op.DocumentID] = next
	s.oplog[op.DocumentID] = append(s.oplog[op.DocumentID], stored)
	s.clock.Observe(op.Clock)

	s.logger.Debug("Operation applied",
		"operation_id", op.ID,
		"type", op.Type,
		"document_id", op.DocumentID,
		"clock", next.Clock.String())
	return true, nil
}

// merge строит новое состояние документа, не трогая текущее
func (s *Store) merge(current *models.Document, op *models.Operation) *models.Document {
	var next *models.Document
	if current == nil {
		next = &models.Document{
			ID:        op.DocumentID,
			Type:      op.DocumentType,
			CreatedBy: op.DeviceID,
			Clock:     make(models.VectorClock),
			Content:   make(map[string]any),
			Deleted:   true, // отсутствующий документ ведет себя как tombstone
		}
	} else {
		next = current.Clone()
	}

	next.Clock.Merge(op.Clock)
	next.LastModified = s.now()

	switch op.Type {
	case models.OperationCreate:
		// create над живым документом только продвигает часы
		if next.Deleted {
			next.Content = payloadOrEmpty(op.Payload)
			next.Type = op.DocumentType
			next.CreatedBy = op.DeviceID
			next.Deleted = false
		}
	case models.OperationUpdate:
		if next.Deleted {
			next.Content = make(map[string]any)
			next.Type = op.DocumentType
			next.CreatedBy = op.DeviceID
			next.Deleted = false
		}
		for k, v := range models.CloneContent(op.Payload) {
			next.Content[k] = v
		}
	case models.OperationDelete:
		next.Content = make(map[string]any)
		next.Deleted = true
	}

	return next
}

func payloadOrEmpty(payload map[string]any) map[string]any {
	if payload == nil {
		return make(map[string]any)
	}
	return models.CloneContent(payload)
}

// CreateLocalOperation создает, подписывает и применяет локальную операцию.
// Единственный путь, увеличивающий собственную координату глобальных часов (ровно на 1).
// Если операцию не удалось применить, часы не меняются.
func (s *Store) CreateLocalOperation(
	ctx context.Context,
	documentID string,
	docType models.DocumentType,
	opType models.OperationType,
	payload map[string]any,
) (*models.Operation, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: document id cannot be empty", ErrInvalidOperation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	self := s.clock.DeviceID()
	clock, err := s.clock.Next()
	if err != nil {
		return nil, err
	}

	op := &models.Operation{
		ID:           OperationID(self, clock[self]),
		DeviceID:     self,
		DocumentID:   documentID,
		DocumentType: docType,
		Type:         opType,
		Payload:      payloadOrEmpty(payload),
		Timestamp:    s.now().UnixNano(),
		Clock:        clock,
	}
	if opType == models.OperationDelete {
		op.Payload = make(map[string]any)
	}

	msg, err := SigningBytes(op)
	if err != nil {
		return nil, err
	}
	op.Signature = s.signer.Sign(msg)

	if _, err := s.applyLocked(ctx, op); err != nil {
		return nil, err
	}

	return op.Clone(), nil
}

// Get возвращает копию живого документа
func (s *Store) Get(documentID string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[documentID]
	if !ok || d.Deleted {
		return nil, storage.ErrDocumentNotFound
	}
	return d.Clone(), nil
}

// List возвращает живые документы, отсортированные по id
func (s *Store) List() []*models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Document, 0, len(s.docs))
	for _, d := range s.docs {
		if !d.Deleted {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Summary возвращает часы каждого документа, включая tombstones.
// Используется при начальной синхронизации.
func (s *Store) Summary() map[string]models.VectorClock {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.VectorClock, len(s.docs))
	for id, d := range s.docs {
		out[id] = d.Clock.Clone()
	}
	return out
}

// OperationsSince возвращает операции документа, которые не покрыты часами пира,
// в порядке применения.
// TODO: компактировать журнал, когда часы всех доверенных пиров покрывают операцию.
func (s *Store) OperationsSince(documentID string, peer models.VectorClock) []*models.Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Operation
	for _, op := range s.oplog[documentID] {
		if !op.Clock.LessOrEqual(peer) {
			out = append(out, op.Clone())
		}
	}
	return out
}

// GlobalClock возвращает снимок глобальных часов
func (s *Store) GlobalClock() models.VectorClock {
	return s.clock.Snapshot()
}

// DocumentCount количество живых документов
func (s *Store) DocumentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, d := range s.docs {
		if !d.Deleted {
			n++
		}
	}
	return n
}

// DeviceID возвращает идентификатор этого устройства
func (s *Store) DeviceID() string {
	return s.clock.DeviceID()
}
